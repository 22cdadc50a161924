package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string `json:"code"`     // エラーコード
	Message  string `json:"message"`  // エラーメッセージ
	Category string `json:"category"` // カテゴリ: auth, system
	Action   string `json:"action"`   // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSignInRequired    = "SIGN_IN_REQUIRED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid       = "CSRF_TOKEN_INVALID"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewSignInRequiredError はサインインの失敗・未ログイン時のエラーを生成する。
func NewSignInRequiredError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeSignInRequired,
		Message:  message,
		Category: "auth",
		Action:   "Sign in with your Google account and try again.",
	}
}

package apiclient

import (
	"encoding/json"
	"errors"
	"net/http"
)

// defaultErrorMessage はエラーメッセージを取り出せない場合の既定値。
const defaultErrorMessage = "Request failed"

// Error はAPIが2xx以外のステータスを返した場合のエラー。
// Payloadにはパース済みのレスポンスボディ（JSON値、文字列、またはnil）を保持する。
type Error struct {
	Message string
	Status  int
	Payload any
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return e.Message
}

// newError はレスポンスボディからErrorを組み立てる。
// メッセージは payload.detail、生のテキスト、"Request failed" の順に採用する。
func newError(status int, body []byte) *Error {
	payload := parseBody(body)
	return &Error{
		Message: errorMessage(payload),
		Status:  status,
		Payload: payload,
	}
}

func errorMessage(payload any) string {
	switch p := payload.(type) {
	case map[string]any:
		switch detail := p["detail"].(type) {
		case nil:
		case string:
			if detail != "" {
				return detail
			}
		case bool:
			if detail {
				return "true"
			}
		default:
			// FastAPIのバリデーションエラーはdetailが配列になる
			if encoded, err := json.Marshal(detail); err == nil {
				return string(encoded)
			}
		}
	case string:
		if p != "" {
			return p
		}
	}
	return defaultErrorMessage
}

// IsStatus はerrが指定ステータスの *Error かどうかを返す。
func IsStatus(err error, status int) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == status
	}
	return false
}

// IsAuthError はerrが認証・認可エラー（401/403）かどうかを返す。
func IsAuthError(err error) bool {
	return IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusForbidden)
}

// IsNotFound はerrが404の *Error かどうかを返す。
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

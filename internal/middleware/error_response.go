package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/umarket/internal/model"
)

// ErrorResponseBody はエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでJSONのエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はリクエストがJSONを受け付ける場合はJSONで、それ以外はプレーンテキストで
// エラーレスポンスを書き込む。フォーム送信とfetchの両方から呼ばれるミドルウェアで使用する。
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	if wantsJSON(r) {
		WriteErrorResponse(w, statusCode, apiErr)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	msg := apiErr.Message
	if apiErr.Action != "" {
		msg += "\n" + apiErr.Action
	}
	w.Write([]byte(msg + "\n"))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Please try again in a moment.",
	})
}

func wantsJSON(r *http.Request) bool {
	if r == nil {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

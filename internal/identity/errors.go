package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Error はIdPが返したエラー。
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// errorBody はIdPのエラーレスポンス。
// エンドポイントやバージョンによって形式が異なるため、既知のフィールドをすべて受け付ける。
type errorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var b errorBody
	if err := json.Unmarshal(body, &b); err == nil {
		e.Code = firstNonEmpty(b.ErrorCode, b.Error)
		e.Message = firstNonEmpty(b.Msg, b.Message, b.ErrorDescription)
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsSessionGone はerrがセッションの失効（無効なトークン、存在しないセッション）を示すかを返す。
func IsSessionGone(err error) bool {
	var idErr *Error
	if !errors.As(err, &idErr) {
		return false
	}
	switch idErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// IsInvalidGrant はerrがリフレッシュトークン等の付与拒否を示すかを返す。
func IsInvalidGrant(err error) bool {
	var idErr *Error
	if !errors.As(err, &idErr) {
		return false
	}
	if idErr.Status == http.StatusBadRequest || idErr.Status == http.StatusUnauthorized {
		return true
	}
	return false
}

package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const flashCookieName = "umarket_flash"

// フラッシュメッセージの種類。
const (
	flashSuccess = "success"
	flashError   = "error"
)

// flash はリダイレクト後の次のページに1度だけ表示するメッセージ。
type flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// IsError はエラーメッセージかどうかを返す。
func (f *flash) IsError() bool {
	return f != nil && f.Kind == flashError
}

// setFlash はフラッシュメッセージをCookieに保存する。
func setFlash(w http.ResponseWriter, kind, message string) {
	b, err := json.Marshal(flash{Kind: kind, Message: message})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash はフラッシュメッセージを取り出してCookieを削除する。
func popFlash(w http.ResponseWriter, r *http.Request) *flash {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var f flash
	if err := json.Unmarshal(b, &f); err != nil || f.Message == "" {
		return nil
	}
	return &f
}

// redirectWithFlash はフラッシュメッセージを設定して303でリダイレクトする。
func redirectWithFlash(w http.ResponseWriter, r *http.Request, to, kind, message string) {
	if message != "" {
		setFlash(w, kind, message)
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

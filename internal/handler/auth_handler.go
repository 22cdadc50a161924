// Package handler はHTMLページとフォーム送信を処理するHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/hitoshi/umarket/internal/identity"
	"github.com/hitoshi/umarket/internal/middleware"
	"github.com/hitoshi/umarket/internal/model"
)

const (
	pkceCookieName  = "umarket_pkce"
	nonceCookieName = "umarket_onetap_nonce"
	nextCookieName  = "umarket_next"

	// authFlowCookieMaxAge はOAuthフロー中の一時Cookieの有効期間（秒）。
	authFlowCookieMaxAge = 600
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
	// GoogleClientID が空の場合、One Tapのプロンプトは表示しない。
	GoogleClientID string
}

// AuthHandler はGoogleサインイン関連のHTTPハンドラー。
type AuthHandler struct {
	config AuthHandlerConfig
	render *Renderer
	logger *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(config AuthHandlerConfig, render *Renderer, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &AuthHandler{config: config, render: render, logger: logger}
}

type loginPage struct {
	Next           string
	GoogleClientID string
	HashedNonce    string
}

// LoginPage はサインインページを表示する。サインイン済みの場合はトップへリダイレクトする。
// One Tapが有効な場合はnonceを生成し、生の値をCookieに、ハッシュ値をページに埋め込む。
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))
	if middleware.SnapshotFromContext(r.Context()).Authenticated() {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	page := loginPage{Next: next}
	if h.config.GoogleClientID != "" {
		raw, hashed, err := identity.NewNoncePair()
		if err != nil {
			h.logger.Error("failed to generate one-tap nonce", slog.String("error", err.Error()))
		} else {
			h.setTempCookie(w, nonceCookieName, raw)
			page.GoogleClientID = h.config.GoogleClientID
			page.HashedNonce = hashed
		}
	}
	h.render.Page(w, r, http.StatusOK, "login", "Sign in", page)
}

// GoogleLogin はGoogleによるOAuthサインインを開始する。
// PKCEのコード検証値をCookieに保存してIdPへリダイレクトする。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	mgr := middleware.ManagerFromContext(r.Context())
	redirect, err := mgr.SignInWithGoogle(r.Context(), h.config.BaseURL+"/auth/callback")
	if err != nil {
		h.logger.Error("failed to start google sign-in", slog.String("error", err.Error()))
		redirectWithFlash(w, r, "/login", flashError, "We couldn't start Google sign-in. Please try again.")
		return
	}

	h.setTempCookie(w, pkceCookieName, redirect.CodeVerifier)
	h.setTempCookie(w, nextCookieName, url.QueryEscape(safeNext(r.URL.Query().Get("next"))))
	http.Redirect(w, r, redirect.URL, http.StatusSeeOther)
}

// Callback はIdPからのコールバックを処理し、認可コードをセッションに交換する。
// GET /auth/callback?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if desc := q.Get("error_description"); desc != "" || q.Get("error") != "" {
		h.logger.Warn("identity provider returned an error",
			slog.String("error", q.Get("error")),
			slog.String("description", desc),
		)
		h.clearTempCookie(w, pkceCookieName)
		redirectWithFlash(w, r, "/login", flashError, "Google sign-in was cancelled or failed.")
		return
	}

	code := q.Get("code")
	verifier, err := r.Cookie(pkceCookieName)
	if code == "" || err != nil || verifier.Value == "" {
		redirectWithFlash(w, r, "/login", flashError, "Your sign-in link expired. Please try again.")
		return
	}
	h.clearTempCookie(w, pkceCookieName)

	auth := middleware.AuthFromContext(r.Context())
	if _, err := auth.ExchangeCodeForSession(r.Context(), code, verifier.Value); err != nil {
		h.logger.Error("failed to exchange authorization code", slog.String("error", err.Error()))
		redirectWithFlash(w, r, "/login", flashError, "Google sign-in failed. Please try again.")
		return
	}

	next := "/"
	if c, err := r.Cookie(nextCookieName); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			next = safeNext(v)
		}
	}
	h.clearTempCookie(w, nextCookieName)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// OneTap はGoogle One TapのIDトークンでサインインする。
// 生のnonceはログインページで発行したCookieから取得する。
// POST /auth/google/onetap
func (h *AuthHandler) OneTap(w http.ResponseWriter, r *http.Request) {
	credential := r.PostFormValue("credential")
	nonce, err := r.Cookie(nonceCookieName)
	if credential == "" || err != nil || nonce.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewSignInRequiredError("Google One Tap did not return a credential."))
		return
	}
	h.clearTempCookie(w, nonceCookieName)

	auth := middleware.AuthFromContext(r.Context())
	_, err = auth.SignInWithIDToken(r.Context(), identity.IDTokenCredentials{
		Provider: "google",
		Token:    credential,
		Nonce:    nonce.Value,
	})
	if err != nil {
		h.logger.Error("one-tap sign-in failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSignInRequiredError("Google sign-in failed."))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirect": "/"})
}

// Logout はサインアウトしてトップへリダイレクトする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	mgr := middleware.ManagerFromContext(r.Context())
	if err := mgr.SignOut(r.Context()); err != nil {
		h.logger.Error("failed to sign out", slog.String("error", err.Error()))
		redirectWithFlash(w, r, "/", flashError, "We couldn't sign you out. Please try again.")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) setTempCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   authFlowCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTempCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// safeNext はリダイレクト先をサイト内の相対パスに限定する。
// nextはデコード済みの値。制御文字とバックスラッシュはブラウザが補正して外部URLになり得るため拒否する。
func safeNext(next string) string {
	if unsafeRedirectPath(next) {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Opaque != "" {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") || unsafeRedirectPath(u.Path) {
		return "/"
	}
	return next
}

func unsafeRedirectPath(p string) bool {
	return strings.ContainsFunc(p, unicode.IsControl) || strings.Contains(p, `\`)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

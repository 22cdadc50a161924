// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/umarket/internal/identity"
	"github.com/hitoshi/umarket/internal/session"
)

const browserCookieName = "umarket_sid"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	browserIDContextKey = contextKey("browser_id")
	authContextKey      = contextKey("auth")
	managerContextKey   = contextKey("session_manager")
)

// BrowserSessionConfig はブラウザセッションミドルウェアの設定。
type BrowserSessionConfig struct {
	Identity *identity.Client
	Store    identity.SessionStore
	Hub      *identity.Hub
	// Recorder はセッション状態の遷移の記録先。nilでもよい。
	Recorder session.TransitionRecorder
	Logger   *slog.Logger

	CookieSecure bool
	CookieDomain string
	MaxAge       time.Duration
}

// NewBrowserSessionMiddleware はブラウザ識別Cookieを発行・延長し、
// リクエストごとにIdPセッションの操作（identity.Auth）とSession Managerを用意するミドルウェアを返す。
// Managerはハンドラー呼び出し前に初回問い合わせを終え、リクエスト完了時に購読を解除する。
func NewBrowserSessionMiddleware(cfg BrowserSessionConfig) func(next http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			browserID := browserIDFromCookie(r)
			if browserID == "" {
				browserID = uuid.NewString()
			}
			http.SetCookie(w, &http.Cookie{
				Name:     browserCookieName,
				Value:    browserID,
				Path:     "/",
				Domain:   cfg.CookieDomain,
				MaxAge:   int(cfg.MaxAge.Seconds()),
				HttpOnly: true,
				Secure:   cfg.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})

			auth := identity.NewAuth(cfg.Identity, cfg.Store, cfg.Hub, browserID, logger)
			var opts []session.Option
			if cfg.Recorder != nil {
				opts = append(opts, session.WithRecorder(cfg.Recorder))
			}
			mgr := session.NewManager(auth, logger, opts...)
			defer mgr.Close()

			snap := mgr.Start(r.Context())
			if info := requestInfoFromContext(r.Context()); info != nil {
				info.setUserID(snap.UserID())
			}

			ctx := ContextWithBrowserID(r.Context(), browserID)
			ctx = ContextWithAuth(ctx, auth)
			ctx = context.WithValue(ctx, managerContextKey, mgr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// browserIDFromCookie はCookieのブラウザIDを返す。UUIDとして不正な値は無視する。
func browserIDFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(browserCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

// BrowserIDFromContext はリクエストのブラウザIDを返す。
func BrowserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(browserIDContextKey).(string)
	return id
}

// ContextWithBrowserID はコンテキストにブラウザIDを注入する。
func ContextWithBrowserID(ctx context.Context, browserID string) context.Context {
	return context.WithValue(ctx, browserIDContextKey, browserID)
}

// AuthFromContext はリクエストのブラウザにバインドされたidentity.Authを返す。
// ブラウザセッションミドルウェアを通過していない場合はnil。
func AuthFromContext(ctx context.Context) *identity.Auth {
	auth, _ := ctx.Value(authContextKey).(*identity.Auth)
	return auth
}

// ContextWithAuth はコンテキストにブラウザ単位のIdPプロバイダーを注入する。
func ContextWithAuth(ctx context.Context, auth *identity.Auth) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// ManagerFromContext はリクエストのSession Managerを返す。
func ManagerFromContext(ctx context.Context) *session.Manager {
	mgr, _ := ctx.Value(managerContextKey).(*session.Manager)
	return mgr
}

// ContextWithManager はコンテキストにSession Managerを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithManager(ctx context.Context, mgr *session.Manager) context.Context {
	return context.WithValue(ctx, managerContextKey, mgr)
}

// SnapshotFromContext は現在のセッション状態を返す。
// Managerがない場合は匿名として扱う。
func SnapshotFromContext(ctx context.Context) session.Snapshot {
	mgr := ManagerFromContext(ctx)
	if mgr == nil {
		return session.Snapshot{State: session.StateAnonymous}
	}
	return mgr.Snapshot()
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID := SnapshotFromContext(ctx).UserID()
	if userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

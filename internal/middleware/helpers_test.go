package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/umarket/internal/identity"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/session"
)

// --- モック定義 ---

// stubProvider は固定のセッションを返すsession.Provider。
type stubProvider struct {
	session *model.Session
}

func (p *stubProvider) GetSession(context.Context) (*model.Session, error) {
	return p.session, nil
}

func (p *stubProvider) OnAuthStateChange(identity.Listener) func() {
	return func() {}
}

func (p *stubProvider) SignInWithOAuth(context.Context, identity.OAuthOptions) (*identity.OAuthRedirect, error) {
	return &identity.OAuthRedirect{}, nil
}

func (p *stubProvider) SignOut(context.Context) error {
	return nil
}

// withUser はuserIDでサインイン済みのSession Managerをリクエストに注入する。
func withUser(r *http.Request, userID string) *http.Request {
	p := &stubProvider{session: &model.Session{
		AccessToken: "tok-" + userID,
		User:        &model.UserIdentity{ID: userID},
	}}
	mgr := session.NewManager(p, nil)
	mgr.Start(r.Context())
	return r.WithContext(ContextWithManager(r.Context(), mgr))
}

// withAnonymous は匿名のSession Managerをリクエストに注入する。
func withAnonymous(r *http.Request) *http.Request {
	mgr := session.NewManager(&stubProvider{}, nil)
	mgr.Start(r.Context())
	return r.WithContext(ContextWithManager(r.Context(), mgr))
}

// withBrowser はブラウザIDをリクエストに注入する。
func withBrowser(r *http.Request, browserID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), browserIDContextKey, browserID))
}

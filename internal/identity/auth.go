package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/umarket/internal/model"
)

// refreshMargin は有効期限がこの期間内に迫ったセッションを事前にリフレッシュする。
const refreshMargin = 60 * time.Second

// SessionStore はブラウザID単位でIdPセッションを永続化するインターフェース。
// Loadはセッションが存在しない場合nil, nilを返す。
type SessionStore interface {
	Load(ctx context.Context, key string) (*model.Session, error)
	Save(ctx context.Context, key string, session *model.Session) error
	Delete(ctx context.Context, key string) error
}

// OAuthOptions はOAuthサインイン開始時のオプション。
type OAuthOptions struct {
	Provider    string
	RedirectTo  string
	QueryParams map[string]string
}

// OAuthRedirect はOAuthサインインの開始結果。
// CodeVerifierはコールバックでのコード交換まで呼び出し側が保持する。
type OAuthRedirect struct {
	URL          string
	CodeVerifier string
}

// IDTokenCredentials はIDトークンによるサインインの資格情報。
type IDTokenCredentials struct {
	Provider string
	Token    string
	Nonce    string
}

// Auth は1つのブラウザにバインドされたIdPセッションの操作を提供する。
// セッションはSessionStoreに保存し、状態変更はHubを通じて同じブラウザの購読者へ配信する。
type Auth struct {
	client *Client
	store  SessionStore
	hub    *Hub
	key    string
	logger *slog.Logger
	now    func() time.Time
}

// NewAuth はブラウザIDkeyにバインドされたAuthを生成する。
func NewAuth(client *Client, store SessionStore, hub *Hub, key string, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{
		client: client,
		store:  store,
		hub:    hub,
		key:    key,
		logger: logger,
		now:    time.Now,
	}
}

// GetSession は保存済みのセッションを返す。セッションがない場合はnil, nilを返す。
// 有効期限が迫っている場合はリフレッシュしてTOKEN_REFRESHEDを配信する。
// リフレッシュトークンが拒否された場合はセッションを削除してSIGNED_OUTを配信し、エラーを返す。
func (a *Auth) GetSession(ctx context.Context) (*model.Session, error) {
	session, err := a.store.Load(ctx, a.key)
	if err != nil {
		return nil, fmt.Errorf("セッションの読み込みに失敗しました: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	if !session.Valid() {
		// 不完全なセッションは存在しないものとして扱う
		if err := a.store.Delete(ctx, a.key); err != nil {
			return nil, fmt.Errorf("不完全なセッションの削除に失敗しました: %w", err)
		}
		return nil, nil
	}
	if !session.ExpiresWithin(a.now(), refreshMargin) {
		return session, nil
	}
	if session.RefreshToken == "" {
		if !a.now().Before(session.ExpiresAt) {
			return nil, a.expire(ctx, errors.New("セッションの有効期限が切れています"))
		}
		return session, nil
	}
	return a.refresh(ctx, session.RefreshToken)
}

// refresh は同一ブラウザで同時に発生したリフレッシュを1回の呼び出しにまとめる。
func (a *Auth) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	v, err, _ := a.hub.refresh.Do(a.key+"\x00"+refreshToken, func() (any, error) {
		refreshed, err := a.client.RefreshSession(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
		if err := a.store.Save(ctx, a.key, refreshed); err != nil {
			return nil, fmt.Errorf("リフレッシュ後のセッション保存に失敗しました: %w", err)
		}
		a.hub.Publish(a.key, EventTokenRefreshed, refreshed)
		return refreshed, nil
	})
	if err != nil {
		if IsInvalidGrant(err) {
			return nil, a.expire(ctx, fmt.Errorf("リフレッシュトークンが拒否されました: %w", err))
		}
		return nil, fmt.Errorf("セッションのリフレッシュに失敗しました: %w", err)
	}
	return v.(*model.Session), nil
}

// expire はセッションを破棄してSIGNED_OUTを配信し、causeを返す。
func (a *Auth) expire(ctx context.Context, cause error) error {
	if err := a.store.Delete(ctx, a.key); err != nil {
		a.logger.Error("失効したセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	a.hub.Publish(a.key, EventSignedOut, nil)
	return cause
}

// OnAuthStateChange は状態変更イベントの購読を登録し、解除関数を返す。
func (a *Auth) OnAuthStateChange(fn Listener) (unsubscribe func()) {
	return a.hub.Subscribe(a.key, fn)
}

// SignInWithOAuth はOAuthサインインのリダイレクト先を生成する。
// PKCEのコードベリファイアを生成し、チャレンジをURLに含める。
func (a *Auth) SignInWithOAuth(_ context.Context, opts OAuthOptions) (*OAuthRedirect, error) {
	if opts.Provider == "" {
		return nil, errors.New("プロバイダーが指定されていません")
	}
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	return &OAuthRedirect{
		URL:          a.client.AuthorizeURL(opts.Provider, opts.RedirectTo, challenge, opts.QueryParams),
		CodeVerifier: verifier,
	}, nil
}

// ExchangeCodeForSession はOAuthコールバックの認可コードをセッションに交換し、保存する。
func (a *Auth) ExchangeCodeForSession(ctx context.Context, authCode, codeVerifier string) (*model.Session, error) {
	if authCode == "" {
		return nil, errors.New("認可コードが指定されていません")
	}
	session, err := a.client.ExchangeCode(ctx, authCode, codeVerifier)
	if err != nil {
		return nil, fmt.Errorf("認可コードの交換に失敗しました: %w", err)
	}
	return a.signedIn(ctx, session)
}

// SignInWithIDToken はIDトークンでサインインし、セッションを保存する。
func (a *Auth) SignInWithIDToken(ctx context.Context, creds IDTokenCredentials) (*model.Session, error) {
	if creds.Token == "" {
		return nil, errors.New("IDトークンが指定されていません")
	}
	session, err := a.client.SignInWithIDToken(ctx, creds.Provider, creds.Token, creds.Nonce)
	if err != nil {
		return nil, fmt.Errorf("IDトークンによるサインインに失敗しました: %w", err)
	}
	return a.signedIn(ctx, session)
}

func (a *Auth) signedIn(ctx context.Context, session *model.Session) (*model.Session, error) {
	if err := a.store.Save(ctx, a.key, session); err != nil {
		return nil, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}
	a.logger.Info("user signed in",
		slog.String("user_id", session.User.ID),
	)
	a.hub.Publish(a.key, EventSignedIn, session)
	return session, nil
}

// SignOut はIdP側のセッションを失効させ、保存済みセッションを削除してSIGNED_OUTを配信する。
// IdP側でセッションが既に存在しない場合もローカルのサインアウトは完了させる。
func (a *Auth) SignOut(ctx context.Context) error {
	session, err := a.store.Load(ctx, a.key)
	if err != nil {
		return fmt.Errorf("セッションの読み込みに失敗しました: %w", err)
	}
	if session != nil && session.AccessToken != "" {
		if err := a.client.Logout(ctx, session.AccessToken); err != nil && !IsSessionGone(err) {
			return fmt.Errorf("IdPのサインアウトに失敗しました: %w", err)
		}
	}
	if err := a.store.Delete(ctx, a.key); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	a.hub.Publish(a.key, EventSignedOut, nil)
	return nil
}

// GetUser はIdPから最新のユーザー情報を取得する。
func (a *Auth) GetUser(ctx context.Context) (*model.UserIdentity, error) {
	session, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	return a.client.GetUser(ctx, session.AccessToken)
}

// UpdateUser はユーザーメタデータを更新し、保存済みセッションのユーザー情報も差し替える。
func (a *Auth) UpdateUser(ctx context.Context, data map[string]any) (*model.UserIdentity, error) {
	session, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	user, err := a.client.UpdateUser(ctx, session.AccessToken, data)
	if err != nil {
		return nil, fmt.Errorf("ユーザー情報の更新に失敗しました: %w", err)
	}

	updated := *session
	updated.User = user
	if err := a.store.Save(ctx, a.key, &updated); err != nil {
		return nil, fmt.Errorf("セッションの保存に失敗しました: %w", err)
	}
	a.hub.Publish(a.key, EventUserUpdated, &updated)
	return user, nil
}

// ErrNoSession はサインインしていない状態でユーザー操作を行った場合のエラー。
var ErrNoSession = &Error{Status: http.StatusUnauthorized, Code: "no_session", Message: "Auth session missing"}

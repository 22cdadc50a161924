// Package session はIdPセッションの状態（読み込み中・認証済み・匿名）を管理する。
// 1つのManagerが1つのUIコンテキスト（HTTPリクエスト）のセッション状態を保持し、
// IdPの状態変更イベントを購読者に配信する。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/umarket/internal/identity"
	"github.com/hitoshi/umarket/internal/model"
)

// State はセッションの状態。
type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateAnonymous
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "loading"
	}
}

// Snapshot はある時点のセッション状態。
// StateAuthenticatedの場合のみSessionが非nilとなる。
type Snapshot struct {
	State   State
	Session *model.Session
}

// User は認証済みユーザーを返す。未認証の場合はnil。
func (s Snapshot) User() *model.UserIdentity {
	if s.Session == nil {
		return nil
	}
	return s.Session.User
}

// UserID は認証済みユーザーのIDを返す。未認証の場合は空文字。
func (s Snapshot) UserID() string {
	if u := s.User(); u != nil {
		return u.ID
	}
	return ""
}

// AccessToken はアクセストークンを返す。未認証の場合は空文字。
func (s Snapshot) AccessToken() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.AccessToken
}

// Loading は初回のセッション問い合わせが完了していないかを返す。
func (s Snapshot) Loading() bool {
	return s.State == StateLoading
}

// Authenticated は認証済みかを返す。
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated
}

// snapshotOf はIdPが報告したセッションからSnapshotを作る。
// ユーザーとトークンが揃っていないセッションは匿名として扱う。
func snapshotOf(s *model.Session) Snapshot {
	if !s.Valid() {
		return Snapshot{State: StateAnonymous}
	}
	return Snapshot{State: StateAuthenticated, Session: s}
}

// Provider はManagerが利用するIdPの操作。
// identity.Authが実装する。
type Provider interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn identity.Listener) (unsubscribe func())
	SignInWithOAuth(ctx context.Context, opts identity.OAuthOptions) (*identity.OAuthRedirect, error)
	SignOut(ctx context.Context) error
}

// TransitionRecorder は状態遷移を記録するインターフェース。
// metrics.Collectorが実装する。
type TransitionRecorder interface {
	RecordSessionTransition(state string)
}

// Listener は状態変更を受け取る関数。
type Listener func(Snapshot)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Option はManagerの任意設定。
type Option func(*Manager)

// WithRecorder は状態遷移の記録先を設定する。
func WithRecorder(r TransitionRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// Manager はセッション状態を保持し、変更を購読者へ配信する。
type Manager struct {
	provider Provider
	logger   *slog.Logger
	recorder TransitionRecorder

	mu          sync.Mutex
	snap        Snapshot
	listeners   []listenerEntry
	nextID      uint64
	unsubscribe func()
	started     bool
	closed      bool
	// eventSeen は初回問い合わせ中に変更イベントを受け取ったかを示す。
	// 受け取った場合、より古い初回問い合わせの結果は破棄する。
	eventSeen bool
}

// NewManager はManagerを生成する。初期状態はStateLoading。
func NewManager(p Provider, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		provider: p,
		logger:   logger,
		snap:     Snapshot{State: StateLoading},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start は変更イベントの購読を開始し、既存セッションを問い合わせる。
// 問い合わせに失敗した場合はログを出力してStateAnonymousに遷移する。
// 問い合わせが完了した時点のSnapshotを返す。2回目以降の呼び出しは現在のSnapshotを返す。
func (m *Manager) Start(ctx context.Context) Snapshot {
	m.mu.Lock()
	if m.started || m.closed {
		snap := m.snap
		m.mu.Unlock()
		return snap
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.provider.OnAuthStateChange(m.handleEvent)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsubscribe()
		return m.Snapshot()
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	s, err := m.provider.GetSession(ctx)
	if err != nil {
		m.logger.Error("failed to load session",
			slog.String("error", err.Error()),
		)
		s = nil
	}

	m.mu.Lock()
	if m.eventSeen || m.closed {
		snap := m.snap
		m.mu.Unlock()
		return snap
	}
	m.mu.Unlock()

	m.apply(snapshotOf(s), false)
	return m.Snapshot()
}

// handleEvent はIdPの状態変更イベントを受け取り、セッションを丸ごと置き換える。
func (m *Manager) handleEvent(event identity.Event, s *model.Session) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.eventSeen = true
	m.mu.Unlock()

	m.logger.Debug("auth state changed",
		slog.String("event", string(event)),
	)
	m.apply(snapshotOf(s), true)
}

// apply はSnapshotを置き換えて購読者へ配信する。
// 初回問い合わせの結果はfromEvent=falseで渡され、後続のイベントより優先されない。
func (m *Manager) apply(snap Snapshot, fromEvent bool) {
	m.mu.Lock()
	if m.closed || (!fromEvent && m.eventSeen) {
		m.mu.Unlock()
		return
	}
	m.snap = snap
	fns := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		fns = append(fns, l.fn)
	}
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.RecordSessionTransition(snap.State.String())
	}
	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot は現在の状態を返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe は状態変更の購読を登録し、解除関数を返す。
// 購読者は登録順にロックの外で呼び出される。
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					break
				}
			}
		})
	}
}

// SignInWithGoogle はGoogleによるOAuthサインインを開始する。
// 常に同意画面を表示し、オフラインアクセスを要求する。
// サインイン済みの状態は変更イベントとして後から届くため、ここでは状態を変更しない。
func (m *Manager) SignInWithGoogle(ctx context.Context, redirectTo string) (*identity.OAuthRedirect, error) {
	return m.provider.SignInWithOAuth(ctx, identity.OAuthOptions{
		Provider:   "google",
		RedirectTo: redirectTo,
		QueryParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	})
}

// SignOut はIdPにサインアウトを要求する。
// 匿名状態への遷移は変更イベントとして届く。
func (m *Manager) SignOut(ctx context.Context) error {
	return m.provider.SignOut(ctx)
}

// Close は変更イベントの購読を解除し、購読者を破棄する。複数回呼び出しても安全。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.listeners = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/umarket/internal/identity"
	"github.com/hitoshi/umarket/internal/model"
)

// --- モック定義 ---

type mockProvider struct {
	mu              sync.Mutex
	listeners       []identity.Listener
	unsubscribed    int
	getSessionFn    func(ctx context.Context) (*model.Session, error)
	signInFn        func(ctx context.Context, opts identity.OAuthOptions) (*identity.OAuthRedirect, error)
	signOutFn       func(ctx context.Context) error
	subscribedFirst bool
}

func (m *mockProvider) GetSession(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	m.subscribedFirst = len(m.listeners) > 0
	m.mu.Unlock()
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx)
	}
	return nil, nil
}

func (m *mockProvider) OnAuthStateChange(fn identity.Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.unsubscribed++
		m.listeners = nil
	}
}

func (m *mockProvider) SignInWithOAuth(ctx context.Context, opts identity.OAuthOptions) (*identity.OAuthRedirect, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, opts)
	}
	return &identity.OAuthRedirect{URL: "https://idp/authorize"}, nil
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockProvider) emit(event identity.Event, s *model.Session) {
	m.mu.Lock()
	fns := append([]identity.Listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(event, s)
	}
}

type mockRecorder struct {
	states []string
}

func (m *mockRecorder) RecordSessionTransition(state string) {
	m.states = append(m.states, state)
}

func validSession(userID, token string) *model.Session {
	return &model.Session{AccessToken: token, User: &model.UserIdentity{ID: userID}}
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

// --- テスト ---

func TestManager_InitialStateIsLoading(t *testing.T) {
	m := NewManager(&mockProvider{}, nil)
	if !m.Snapshot().Loading() {
		t.Errorf("state = %v, want loading", m.Snapshot().State)
	}
}

func TestManager_Start_ExistingSession(t *testing.T) {
	p := &mockProvider{getSessionFn: func(context.Context) (*model.Session, error) {
		return validSession("u1", "tok"), nil
	}}
	m := NewManager(p, nil)

	snap := m.Start(context.Background())

	if !snap.Authenticated() {
		t.Fatalf("state = %v, want authenticated", snap.State)
	}
	if snap.UserID() != "u1" || snap.AccessToken() != "tok" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !p.subscribedFirst {
		t.Error("change subscription must be registered before the initial query")
	}
}

func TestManager_Start_NoSession(t *testing.T) {
	m := NewManager(&mockProvider{}, nil)
	snap := m.Start(context.Background())
	if snap.State != StateAnonymous {
		t.Errorf("state = %v, want anonymous", snap.State)
	}
	if snap.User() != nil || snap.AccessToken() != "" {
		t.Errorf("anonymous snapshot must carry neither user nor token: %+v", snap)
	}
}

func TestManager_Start_ProviderFailureSettlesAnonymous(t *testing.T) {
	var buf bytes.Buffer
	p := &mockProvider{getSessionFn: func(context.Context) (*model.Session, error) {
		return nil, errors.New("network down")
	}}
	m := NewManager(p, newTestLogger(&buf))

	snap := m.Start(context.Background())

	if snap.State != StateAnonymous {
		t.Errorf("state = %v, want anonymous", snap.State)
	}
	if !strings.Contains(buf.String(), "network down") {
		t.Errorf("failure was not logged: %s", buf.String())
	}
}

func TestManager_Start_IncompleteSessionIsAnonymous(t *testing.T) {
	p := &mockProvider{getSessionFn: func(context.Context) (*model.Session, error) {
		return &model.Session{AccessToken: "tok"}, nil
	}}
	m := NewManager(p, nil)
	if snap := m.Start(context.Background()); snap.State != StateAnonymous {
		t.Errorf("state = %v, want anonymous", snap.State)
	}
}

func TestManager_EventDuringInitialQueryWins(t *testing.T) {
	p := &mockProvider{}
	p.getSessionFn = func(context.Context) (*model.Session, error) {
		// 初回問い合わせの応答前にサインインイベントが届く
		p.emit(identity.EventSignedIn, validSession("u2", "new"))
		return nil, nil
	}
	m := NewManager(p, nil)

	snap := m.Start(context.Background())

	if !snap.Authenticated() || snap.UserID() != "u2" {
		t.Errorf("snapshot = %+v, want authenticated as u2", snap)
	}
}

func TestManager_EventsReplaceSessionAndBroadcast(t *testing.T) {
	p := &mockProvider{getSessionFn: func(context.Context) (*model.Session, error) {
		return validSession("u1", "tok-1"), nil
	}}
	rec := &mockRecorder{}
	m := NewManager(p, nil, WithRecorder(rec))
	m.Start(context.Background())

	var got []Snapshot
	var order []string
	m.Subscribe(func(s Snapshot) { got = append(got, s); order = append(order, "a") })
	m.Subscribe(func(Snapshot) { order = append(order, "b") })

	p.emit(identity.EventTokenRefreshed, validSession("u1", "tok-2"))
	p.emit(identity.EventSignedOut, nil)
	p.emit(identity.EventSignedIn, validSession("u3", "tok-3"))

	if len(got) != 3 {
		t.Fatalf("notifications = %d, want 3", len(got))
	}
	if got[0].AccessToken() != "tok-2" {
		t.Errorf("after refresh token = %q, want tok-2", got[0].AccessToken())
	}
	if got[1].State != StateAnonymous {
		t.Errorf("after sign-out state = %v, want anonymous", got[1].State)
	}
	if got[2].UserID() != "u3" {
		t.Errorf("after sign-in user = %q, want u3", got[2].UserID())
	}
	if strings.Join(order, "") != "ababab" {
		t.Errorf("listener order = %v", order)
	}
	wantStates := "authenticated,authenticated,anonymous,authenticated"
	if strings.Join(rec.states, ",") != wantStates {
		t.Errorf("recorded = %v, want %s", rec.states, wantStates)
	}
}

func TestManager_UnsubscribeStopsNotifications(t *testing.T) {
	p := &mockProvider{}
	m := NewManager(p, nil)
	m.Start(context.Background())

	calls := 0
	unsub := m.Subscribe(func(Snapshot) { calls++ })
	p.emit(identity.EventSignedIn, validSession("u1", "t"))
	unsub()
	unsub()
	p.emit(identity.EventSignedOut, nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestManager_SignInWithGoogle_FixedOptions(t *testing.T) {
	var captured identity.OAuthOptions
	p := &mockProvider{signInFn: func(_ context.Context, opts identity.OAuthOptions) (*identity.OAuthRedirect, error) {
		captured = opts
		return &identity.OAuthRedirect{URL: "https://idp/authorize", CodeVerifier: "v"}, nil
	}}
	m := NewManager(p, nil)
	m.Start(context.Background())

	redirect, err := m.SignInWithGoogle(context.Background(), "https://app/auth/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirect.CodeVerifier != "v" {
		t.Errorf("CodeVerifier = %q", redirect.CodeVerifier)
	}
	if captured.Provider != "google" || captured.RedirectTo != "https://app/auth/callback" {
		t.Errorf("options = %+v", captured)
	}
	if captured.QueryParams["access_type"] != "offline" || captured.QueryParams["prompt"] != "consent" {
		t.Errorf("query params = %v", captured.QueryParams)
	}
	if m.Snapshot().State != StateAnonymous {
		t.Errorf("sign-in initiation must not change state, got %v", m.Snapshot().State)
	}
}

func TestManager_SignInWithGoogle_PropagatesError(t *testing.T) {
	p := &mockProvider{signInFn: func(context.Context, identity.OAuthOptions) (*identity.OAuthRedirect, error) {
		return nil, errors.New("provider disabled")
	}}
	m := NewManager(p, nil)
	if _, err := m.SignInWithGoogle(context.Background(), ""); err == nil {
		t.Error("expected error")
	}
}

func TestManager_SignOut_StateArrivesViaEvent(t *testing.T) {
	p := &mockProvider{getSessionFn: func(context.Context) (*model.Session, error) {
		return validSession("u1", "tok"), nil
	}}
	p.signOutFn = func(context.Context) error {
		p.emit(identity.EventSignedOut, nil)
		return nil
	}
	m := NewManager(p, nil)
	m.Start(context.Background())

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Snapshot().State != StateAnonymous {
		t.Errorf("state = %v, want anonymous", m.Snapshot().State)
	}
}

func TestManager_CloseReleasesSubscription(t *testing.T) {
	p := &mockProvider{}
	m := NewManager(p, nil)
	m.Start(context.Background())

	calls := 0
	m.Subscribe(func(Snapshot) { calls++ })
	m.Close()
	m.Close()
	p.emit(identity.EventSignedIn, validSession("u1", "t"))

	if p.unsubscribed != 1 {
		t.Errorf("unsubscribed = %d, want 1", p.unsubscribed)
	}
	if calls != 0 {
		t.Errorf("calls after close = %d, want 0", calls)
	}
}

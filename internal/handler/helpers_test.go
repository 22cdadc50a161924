package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/umarket/internal/identity"
	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/middleware"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/order"
	"github.com/hitoshi/umarket/internal/profile"
	"github.com/hitoshi/umarket/internal/session"
)

// --- モック定義 ---

// stubProvider は固定のセッションを返すsession.Provider。
type stubProvider struct {
	session  *model.Session
	signInFn func(opts identity.OAuthOptions) (*identity.OAuthRedirect, error)
	signOut  error
}

func (p *stubProvider) GetSession(context.Context) (*model.Session, error) {
	return p.session, nil
}

func (p *stubProvider) OnAuthStateChange(identity.Listener) func() {
	return func() {}
}

func (p *stubProvider) SignInWithOAuth(_ context.Context, opts identity.OAuthOptions) (*identity.OAuthRedirect, error) {
	if p.signInFn != nil {
		return p.signInFn(opts)
	}
	return &identity.OAuthRedirect{URL: "https://idp.example.com/authorize", CodeVerifier: "verifier"}, nil
}

func (p *stubProvider) SignOut(context.Context) error {
	return p.signOut
}

// mockListingService はListingServiceInterfaceのモック実装。
type mockListingService struct {
	browseFn     func(ctx context.Context, q listing.Query) ([]model.Listing, error)
	bySellerFn   func(ctx context.Context, sellerID, token string) ([]model.Listing, error)
	getFn        func(ctx context.Context, id string) (*model.Listing, error)
	createFn     func(ctx context.Context, snap session.Snapshot, form listing.Form) (*model.Listing, error)
	updateFn     func(ctx context.Context, snap session.Snapshot, current *model.Listing, form listing.Form) (*model.Listing, error)
	deleteFn     func(ctx context.Context, snap session.Snapshot, current *model.Listing, confirmed bool) error
	toggleSoldFn func(ctx context.Context, snap session.Snapshot, current *model.Listing, sold bool) (*model.Listing, error)
}

func (m *mockListingService) Browse(ctx context.Context, q listing.Query) ([]model.Listing, error) {
	if m.browseFn != nil {
		return m.browseFn(ctx, q)
	}
	return nil, nil
}

func (m *mockListingService) BySeller(ctx context.Context, sellerID, token string) ([]model.Listing, error) {
	if m.bySellerFn != nil {
		return m.bySellerFn(ctx, sellerID, token)
	}
	return nil, nil
}

func (m *mockListingService) Get(ctx context.Context, id string) (*model.Listing, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	l := sampleListing(id, "seller-1")
	return &l, nil
}

func (m *mockListingService) Create(ctx context.Context, snap session.Snapshot, form listing.Form) (*model.Listing, error) {
	if m.createFn != nil {
		return m.createFn(ctx, snap, form)
	}
	l := sampleListing("new-1", snap.UserID())
	return &l, nil
}

func (m *mockListingService) Update(ctx context.Context, snap session.Snapshot, current *model.Listing, form listing.Form) (*model.Listing, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, snap, current, form)
	}
	return current, nil
}

func (m *mockListingService) Delete(ctx context.Context, snap session.Snapshot, current *model.Listing, confirmed bool) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, snap, current, confirmed)
	}
	return nil
}

func (m *mockListingService) ToggleSold(ctx context.Context, snap session.Snapshot, current *model.Listing, sold bool) (*model.Listing, error) {
	if m.toggleSoldFn != nil {
		return m.toggleSoldFn(ctx, snap, current, sold)
	}
	next := *current
	next.Sold = sold
	return &next, nil
}

// mockSearcher はSearcherInterfaceのモック実装。
type mockSearcher struct {
	searchFn func(ctx context.Context, key, query string) ([]model.Listing, error)
}

func (m *mockSearcher) Search(ctx context.Context, key, query string) ([]model.Listing, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, key, query)
	}
	return nil, nil
}

// mockOrderService はOrderServiceInterfaceのモック実装。
type mockOrderService struct {
	purchaseFn  func(ctx context.Context, snap session.Snapshot, l *model.Listing, method model.PaymentMethod) (*order.Outcome, error)
	dashboardFn func(ctx context.Context, snap session.Snapshot) (*order.Dashboard, error)
}

func (m *mockOrderService) Purchase(ctx context.Context, snap session.Snapshot, l *model.Listing, method model.PaymentMethod) (*order.Outcome, error) {
	if m.purchaseFn != nil {
		return m.purchaseFn(ctx, snap, l, method)
	}
	return &order.Outcome{View: listing.NewView(*l).PredictPurchase()}, nil
}

func (m *mockOrderService) Dashboard(ctx context.Context, snap session.Snapshot) (*order.Dashboard, error) {
	if m.dashboardFn != nil {
		return m.dashboardFn(ctx, snap)
	}
	return &order.Dashboard{}, nil
}

// mockProfileService はProfileServiceInterfaceのモック実装。
type mockProfileService struct {
	loadFn            func(ctx context.Context) (*profile.Profile, error)
	saveDescriptionFn func(ctx context.Context, description string) (*profile.Profile, error)
	uploadAvatarFn    func(ctx context.Context, user *model.UserIdentity, up profile.Upload) (*profile.Profile, error)
}

func (m *mockProfileService) Load(ctx context.Context) (*profile.Profile, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx)
	}
	return &profile.Profile{DisplayName: "Test User", Initials: "TU"}, nil
}

func (m *mockProfileService) SaveDescription(ctx context.Context, description string) (*profile.Profile, error) {
	if m.saveDescriptionFn != nil {
		return m.saveDescriptionFn(ctx, description)
	}
	return &profile.Profile{Description: description}, nil
}

func (m *mockProfileService) UploadAvatar(ctx context.Context, user *model.UserIdentity, up profile.Upload) (*profile.Profile, error) {
	if m.uploadAvatarFn != nil {
		return m.uploadAvatarFn(ctx, user, up)
	}
	return &profile.Profile{}, nil
}

func (m *mockProfileService) NormalizeStorageError(err error) string {
	return "storage: " + err.Error()
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	rd, err := NewRenderer(discardLogger())
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	return rd
}

func sampleListing(id, sellerID string) model.Listing {
	return model.Listing{
		ID:       model.ID(id),
		SellerID: sellerID,
		Name:     "Desk Lamp",
		Price:    12.5,
		Quantity: 2,
		Category: model.Category("decor"),
	}
}

// withSession はproviderのセッションで初期化したSession Managerをリクエストに注入する。
func withSession(r *http.Request, p *stubProvider) *http.Request {
	mgr := session.NewManager(p, nil)
	mgr.Start(r.Context())
	ctx := middleware.ContextWithManager(r.Context(), mgr)
	ctx = middleware.ContextWithCSRFToken(ctx, "test-csrf")
	return r.WithContext(ctx)
}

// withUser はuserIDでサインイン済みのリクエストを返す。
func withUser(r *http.Request, userID string) *http.Request {
	return withSession(r, &stubProvider{session: &model.Session{
		AccessToken: "tok-" + userID,
		User:        &model.UserIdentity{ID: userID, Email: userID + "@umass.edu"},
	}})
}

// withAnonymous は匿名のリクエストを返す。
func withAnonymous(r *http.Request) *http.Request {
	return withSession(r, &stubProvider{})
}

// withChiURLParam はchiのURLパラメータをリクエストに設定する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withListing はRequireOwnerが読み込んだリスティングをリクエストに設定する。
func withListing(r *http.Request, l model.Listing) *http.Request {
	return r.WithContext(middleware.ContextWithListing(r.Context(), &l))
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Package order は購入フローと取引一覧を提供する。
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/session"
)

var (
	// ErrSignInRequired は未ログインで購入しようとした場合のエラー。
	ErrSignInRequired = errors.New("sign-in required to purchase")
	// ErrNotPurchasable は出品者本人または売り切れのリスティングを購入しようとした場合のエラー。
	ErrNotPurchasable = errors.New("listing is not purchasable")
)

// MsgPurchased は購入成功時のメッセージ。
const MsgPurchased = "Purchase recorded. The seller has been notified."

// API は購入フローに必要なバックエンドAPI。
// apiclient.Clientが実装する。
type API interface {
	CreateOrder(ctx context.Context, in model.OrderInput, accessToken string) (*model.Order, error)
	ListOrders(ctx context.Context, role model.OrderRole, accessToken string) ([]model.Order, error)
}

// PurchaseRecorder は購入の成否を記録するインターフェース。
// metrics.Collectorが実装する。
type PurchaseRecorder interface {
	RecordPurchase(success bool)
}

// Service は購入フローを提供する。
type Service struct {
	api      API
	logger   *slog.Logger
	recorder PurchaseRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(api API, recorder PurchaseRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, logger: logger, recorder: recorder}
}

// Outcome は購入結果。Viewは在庫を1減らした予測値で、再取得までUnconfirmedとなる。
type Outcome struct {
	Order *model.Order
	View  listing.View
}

// Purchase はリスティングを購入する。
// ログイン済みで出品者本人でなく、売り切れでない場合のみ注文を1件作成する。
func (s *Service) Purchase(ctx context.Context, snap session.Snapshot, l *model.Listing, method model.PaymentMethod) (*Outcome, error) {
	if !snap.Authenticated() {
		return nil, ErrSignInRequired
	}
	if !listing.CanPurchase(snap.User(), l) {
		return nil, ErrNotPurchasable
	}
	if method == "" {
		method = model.PaymentCash
	}

	created, err := s.api.CreateOrder(ctx, model.OrderInput{
		ListingID:     l.ID.String(),
		PaymentMethod: method,
	}, snap.AccessToken())
	if err != nil {
		s.record(false)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.record(true)

	s.logger.Info("order created",
		slog.String("listing_id", l.ID.String()),
		slog.String("user_id", snap.UserID()),
		slog.String("payment_method", string(method)),
	)
	return &Outcome{
		Order: created,
		View:  listing.NewView(*l).PredictPurchase(),
	}, nil
}

func (s *Service) record(success bool) {
	if s.recorder != nil {
		s.recorder.RecordPurchase(success)
	}
}

// Dashboard は取引一覧。
type Dashboard struct {
	Purchases []model.Order
	Sales     []model.Order
}

// Dashboard は購入した注文と自分のリスティングへの注文を並行して取得する。
// どちらかが失敗した場合はエラーを返す。
func (s *Service) Dashboard(ctx context.Context, snap session.Snapshot) (*Dashboard, error) {
	if !snap.Authenticated() {
		return nil, ErrSignInRequired
	}
	token := snap.AccessToken()

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := s.api.ListOrders(gctx, model.RoleBuyer, token)
		if err != nil {
			return err
		}
		d.Purchases = orders
		return nil
	})
	g.Go(func() error {
		orders, err := s.api.ListOrders(gctx, model.RoleSeller, token)
		if err != nil {
			return err
		}
		d.Sales = orders
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return &d, nil
}

// Section は取引一覧ページの1セクション。
type Section struct {
	Title        string
	Orders       []model.Order
	EmptyMessage string
}

// Sections は取引一覧を表示順のセクションに分ける。
func (d *Dashboard) Sections() []Section {
	return []Section{
		{Title: "Purchases I've made", Orders: d.Purchases, EmptyMessage: "You haven't purchased anything yet."},
		{Title: "Purchases for my listings", Orders: d.Sales, EmptyMessage: "No one has purchased your listings yet."},
	}
}

// ProductName は注文の商品名を返す。商品情報がない場合はリスティングIDから作る。
func ProductName(o model.Order) string {
	if o.Product != nil && o.Product.Name != "" {
		return o.Product.Name
	}
	return "Listing #" + o.ListingID.String()
}

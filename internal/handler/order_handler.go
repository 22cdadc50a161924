package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/middleware"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/order"
	"github.com/hitoshi/umarket/internal/session"
)

// OrderServiceInterface は注文ハンドラーが必要とするサービスインターフェース。
type OrderServiceInterface interface {
	Purchase(ctx context.Context, snap session.Snapshot, l *model.Listing, method model.PaymentMethod) (*order.Outcome, error)
	Dashboard(ctx context.Context, snap session.Snapshot) (*order.Dashboard, error)
}

// OrderHandler は購入と取引一覧のHTTPハンドラー。
type OrderHandler struct {
	orders   OrderServiceInterface
	listings *ListingHandler
	render   *Renderer
	logger   *slog.Logger
}

// NewOrderHandler はOrderHandlerを生成する。
// 購入後の詳細ページの描画とリスティングの再取得にはListingHandlerを使う。
func NewOrderHandler(orders OrderServiceInterface, listings *ListingHandler, render *Renderer, logger *slog.Logger) *OrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{orders: orders, listings: listings, render: render, logger: logger}
}

type ordersPage struct {
	Sections []order.Section
	Error    string
}

// Purchase はリスティングを購入し、詳細ページを描画する。
// 購入直後は在庫を1減らした予測値を表示し、再取得に成功した場合はその値で置き換える。
// POST /items/{id}/orders
func (h *OrderHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	l, ok := h.listings.load(w, r)
	if !ok {
		return
	}
	snap := middleware.SnapshotFromContext(r.Context())
	method := model.ParsePaymentMethod(r.PostFormValue("payment_method"))

	outcome, err := h.orders.Purchase(r.Context(), snap, l, method)
	if err != nil {
		if !errors.Is(err, order.ErrNotPurchasable) {
			h.logger.Error("purchase failed",
				slog.String("listing_id", l.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		h.listings.renderItem(w, r, statusFor(err), listing.NewView(*l), "", userMessage(err))
		return
	}

	view := outcome.View
	if fresh, err := h.listings.service.Get(r.Context(), l.ID.String()); err == nil {
		view = view.Confirm(*fresh)
	} else {
		h.logger.Warn("failed to refresh listing after purchase",
			slog.String("listing_id", l.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	h.listings.renderItem(w, r, http.StatusOK, view, order.MsgPurchased, "")
}

// Orders は購入した注文と自分のリスティングへの注文を表示する。
// GET /dashboard/orders
func (h *OrderHandler) Orders(w http.ResponseWriter, r *http.Request) {
	snap := middleware.SnapshotFromContext(r.Context())
	page := ordersPage{}

	d, err := h.orders.Dashboard(r.Context(), snap)
	if err != nil {
		h.logger.Error("failed to load orders", slog.String("error", err.Error()))
		page.Error = userMessage(err)
	} else {
		page.Sections = d.Sections()
	}
	h.render.Page(w, r, http.StatusOK, "dashboard_orders", "Transactions", page)
}

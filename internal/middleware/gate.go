package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/umarket/internal/apiclient"
	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/model"
)

// LoginPath は未ログイン時のリダイレクト先。
const LoginPath = "/login"

var listingContextKey = contextKey("listing")

// ListingGetter は所有者チェックのためにリスティングを取得するインターフェース。
// listing.Serviceが満たす。
type ListingGetter interface {
	Get(ctx context.Context, id string) (*model.Listing, error)
}

// ErrorRenderer はゲートで発生したエラー（リスティング未検出など）をページとして描画する。
type ErrorRenderer func(w http.ResponseWriter, r *http.Request, status int, err error)

// Gate は認証・所有者チェックによるページアクセス制御を提供する。
type Gate struct {
	listings ListingGetter
	render   ErrorRenderer
	logger   *slog.Logger
}

// NewGate はGateを生成する。
func NewGate(listings ListingGetter, render ErrorRenderer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{listings: listings, render: render, logger: logger}
}

// RequireAuthenticated は匿名の訪問者を/loginへリダイレクトするミドルウェアを返す。
// リダイレクト先にはnextパラメータとして元のパスを付与する。
func (g *Gate) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !SnapshotFromContext(r.Context()).Authenticated() {
			redirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireOwner はURLパラメータidのリスティングを読み込み、所有者以外を詳細ページへリダイレクトする。
// 匿名の訪問者は/loginへリダイレクトする。読み込んだリスティングはListingFromContextで取得できる。
func (g *Gate) RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := SnapshotFromContext(r.Context())
		if !snap.Authenticated() {
			redirectToLogin(w, r)
			return
		}

		id := chi.URLParam(r, "id")
		l, err := g.listings.Get(r.Context(), id)
		if err != nil {
			status := http.StatusBadGateway
			if apiclient.IsNotFound(err) {
				status = http.StatusNotFound
			} else {
				g.logger.Error("failed to load listing for owner check",
					slog.String("listing_id", id),
					slog.String("error", err.Error()),
				)
			}
			g.render(w, r, status, err)
			return
		}

		if !listing.IsOwner(snap.User(), l) {
			http.Redirect(w, r, "/items/"+url.PathEscape(id), http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithListing(r.Context(), l)))
	})
}

// ListingFromContext はRequireOwnerが読み込んだリスティングを返す。
func ListingFromContext(ctx context.Context) *model.Listing {
	l, _ := ctx.Value(listingContextKey).(*model.Listing)
	return l
}

// ContextWithListing はコンテキストにリスティングを注入する。
func ContextWithListing(ctx context.Context, l *model.Listing) context.Context {
	return context.WithValue(ctx, listingContextKey, l)
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := LoginPath
	if r.Method == http.MethodGet {
		target += "?next=" + url.QueryEscape(r.URL.RequestURI())
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

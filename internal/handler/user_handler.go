package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/umarket/internal/profile"
)

// PublicProfileLoader は出品者の公開プロフィールを取得するインターフェース。
// profile.PublicLoaderが実装する。
type PublicProfileLoader interface {
	Load(ctx context.Context, sellerID string) *profile.PublicView
}

// UserHandler は出品者の公開プロフィールのHTTPハンドラー。
type UserHandler struct {
	loader PublicProfileLoader
	render *Renderer
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(loader PublicProfileLoader, render *Renderer) *UserHandler {
	return &UserHandler{loader: loader, render: render}
}

// PublicProfile は出品者のプロフィールとリスティングを表示する。
// GET /users/{id}
func (h *UserHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	view := h.loader.Load(r.Context(), chi.URLParam(r, "id"))
	h.render.Page(w, r, http.StatusOK, "user", view.DisplayName, view)
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/umarket/internal/apiclient"
	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/middleware"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/search"
	"github.com/hitoshi/umarket/internal/session"
)

// searchPreviewLimit は検索候補に表示する最大件数。
const searchPreviewLimit = 20

// ListingServiceInterface はリスティングハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	Browse(ctx context.Context, q listing.Query) ([]model.Listing, error)
	BySeller(ctx context.Context, sellerID, accessToken string) ([]model.Listing, error)
	Get(ctx context.Context, id string) (*model.Listing, error)
	Create(ctx context.Context, snap session.Snapshot, form listing.Form) (*model.Listing, error)
	Update(ctx context.Context, snap session.Snapshot, current *model.Listing, form listing.Form) (*model.Listing, error)
	Delete(ctx context.Context, snap session.Snapshot, current *model.Listing, confirmed bool) error
	ToggleSold(ctx context.Context, snap session.Snapshot, current *model.Listing, sold bool) (*model.Listing, error)
}

// SearcherInterface は入力が落ち着くまで待ってから検索するインターフェース。
// search.Debouncerが実装する。
type SearcherInterface interface {
	Search(ctx context.Context, key, query string) ([]model.Listing, error)
}

// ListingHandler はリスティングの一覧・詳細・作成・編集・削除のHTTPハンドラー。
type ListingHandler struct {
	service  ListingServiceInterface
	searcher SearcherInterface
	render   *Renderer
	logger   *slog.Logger
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(service ListingServiceInterface, searcher SearcherInterface, render *Renderer, logger *slog.Logger) *ListingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingHandler{service: service, searcher: searcher, render: render, logger: logger}
}

// --- ページデータ ---

type categoryCard struct {
	Slug   model.Category
	Name   string
	Active bool
}

type homePage struct {
	Categories     []categoryCard
	ActiveCategory model.Category
	Search         string
	Listings       []model.Listing
	Error          string
	CanCreate      bool
}

type searchResultsFragment struct {
	Query    string
	Results  []model.Listing
	Error    string
	Searched bool
}

type itemPage struct {
	View           listing.View
	Controls       listing.Controls
	PaymentMethods []model.PaymentMethod
	Message        string
	Error          string
}

type itemFormPage struct {
	Heading     string
	Action      string
	SubmitLabel string
	Form        listing.Form
	AllowSold   bool
	Categories  []categoryCard
	Error       string
	ListingID   string
}

type itemDeletePage struct {
	Listing *model.Listing
	Prompt  string
	Error   string
}

// --- ハンドラー ---

// Home は販売中のリスティング一覧を表示する。
// GET /?q=xxx&category=yyy
func (h *ListingHandler) Home(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	var active model.Category
	if c := r.URL.Query().Get("category"); strings.TrimSpace(c) != "" {
		active = model.NormalizeCategory(c)
	}

	page := homePage{
		Categories:     categoryCards(active),
		ActiveCategory: active,
		Search:         q,
		CanCreate:      middleware.SnapshotFromContext(r.Context()).Authenticated(),
	}

	listings, err := h.service.Browse(r.Context(), listing.Query{Search: q})
	if err != nil {
		h.logger.Error("failed to browse listings", slog.String("error", err.Error()))
		page.Error = userMessage(err)
	} else {
		page.Listings = listing.FilterByCategory(listings, active)
	}

	h.render.Page(w, r, http.StatusOK, "home", "UMarket", page)
}

// Search は入力中の検索語に対する候補を断片として返す。
// より新しい入力に置き換えられたリクエストや古い応答は204を返す。
// GET /search?q=xxx
func (h *ListingHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	key := middleware.BrowserIDFromContext(r.Context())

	results, err := h.searcher.Search(r.Context(), key, q)
	switch {
	case errors.Is(err, search.ErrSuperseded), errors.Is(err, search.ErrStale):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	}

	frag := searchResultsFragment{
		Query:    strings.TrimSpace(q),
		Searched: strings.TrimSpace(q) != "",
	}
	if err != nil {
		h.logger.Warn("search failed", slog.String("error", err.Error()))
		frag.Error = userMessage(err)
	} else {
		frag.Results = results[:min(len(results), searchPreviewLimit)]
	}
	h.render.Fragment(w, r, "search_results", frag)
}

// Detail はリスティングの詳細と、閲覧者に応じた操作を表示する。
// GET /items/{id}
func (h *ListingHandler) Detail(w http.ResponseWriter, r *http.Request) {
	l, ok := h.load(w, r)
	if !ok {
		return
	}
	h.renderItem(w, r, http.StatusOK, listing.NewView(*l), "", "")
}

// renderItem は詳細ページを描画する。
func (h *ListingHandler) renderItem(w http.ResponseWriter, r *http.Request, status int, view listing.View, message, errMsg string) {
	snap := middleware.SnapshotFromContext(r.Context())
	h.render.Page(w, r, status, "item", view.Listing.Name, itemPage{
		View:           view,
		Controls:       listing.ControlsFor(snap.User(), &view.Listing),
		PaymentMethods: model.PaymentMethods,
		Message:        message,
		Error:          errMsg,
	})
}

// load はURLパラメータidのリスティングを取得する。失敗時はエラーページを描画してfalseを返す。
func (h *ListingHandler) load(w http.ResponseWriter, r *http.Request) (*model.Listing, bool) {
	id := chi.URLParam(r, "id")
	l, err := h.service.Get(r.Context(), id)
	if err != nil {
		if apiclient.IsNotFound(err) {
			h.render.Error(w, r, http.StatusNotFound, err)
			return nil, false
		}
		h.logger.Error("failed to load listing",
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
		h.render.Error(w, r, statusFor(err), err)
		return nil, false
	}
	return l, true
}

// NewForm は新規作成フォームを表示する。
// GET /items/new
func (h *ListingHandler) NewForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, createFormPage(listing.NewForm(), ""))
}

// Create はリスティングを作成し、自分のリスティング一覧へリダイレクトする。
// POST /items/new
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	form := formFromRequest(r)
	snap := middleware.SnapshotFromContext(r.Context())

	if _, err := h.service.Create(r.Context(), snap, form); err != nil {
		msg := userMessage(err)
		if errors.Is(err, listing.ErrSignInRequired) {
			msg = listing.MsgSignInToCreate
		}
		h.renderForm(w, r, statusFor(err), createFormPage(form, msg))
		return
	}
	redirectWithFlash(w, r, "/dashboard/listings", flashSuccess, "Listing created.")
}

// EditForm は編集フォームを表示する（RequireOwnerの後に配置）。
// GET /items/{id}/edit
func (h *ListingHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	current := middleware.ListingFromContext(r.Context())
	h.renderForm(w, r, http.StatusOK, editFormPage(current, listing.FormFromListing(current), ""))
}

// Update はリスティングを更新し、詳細ページへリダイレクトする。
// POST /items/{id}/edit
func (h *ListingHandler) Update(w http.ResponseWriter, r *http.Request) {
	current := middleware.ListingFromContext(r.Context())
	form := formFromRequest(r)
	snap := middleware.SnapshotFromContext(r.Context())

	updated, err := h.service.Update(r.Context(), snap, current, form)
	if err != nil {
		msg := userMessage(err)
		if errors.Is(err, listing.ErrSignInRequired) {
			msg = listing.MsgSignInToEdit
		}
		h.renderForm(w, r, statusFor(err), editFormPage(current, form, msg))
		return
	}
	redirectWithFlash(w, r, "/items/"+updated.ID.String(), flashSuccess, "Listing updated.")
}

// DeleteConfirm は削除の確認ページを表示する。
// GET /items/{id}/delete
func (h *ListingHandler) DeleteConfirm(w http.ResponseWriter, r *http.Request) {
	current := middleware.ListingFromContext(r.Context())
	h.render.Page(w, r, http.StatusOK, "item_delete", "Delete listing", itemDeletePage{
		Listing: current,
		Prompt:  listing.MsgDeleteConfirm,
	})
}

// Delete は確認済みのリスティングを削除し、自分のリスティング一覧へリダイレクトする。
// POST /items/{id}/delete
func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	current := middleware.ListingFromContext(r.Context())
	snap := middleware.SnapshotFromContext(r.Context())
	confirmed := r.PostFormValue("confirm") == "yes"

	if err := h.service.Delete(r.Context(), snap, current, confirmed); err != nil {
		msg := userMessage(err)
		if errors.Is(err, listing.ErrConfirmationRequired) {
			msg = listing.MsgDeleteConfirm
		}
		h.render.Page(w, r, statusFor(err), "item_delete", "Delete listing", itemDeletePage{
			Listing: current,
			Prompt:  listing.MsgDeleteConfirm,
			Error:   msg,
		})
		return
	}
	redirectWithFlash(w, r, "/dashboard/listings", flashSuccess, "Listing deleted.")
}

// ToggleSold は販売状態を切り替えて詳細ページへリダイレクトする。
// POST /items/{id}/sold
func (h *ListingHandler) ToggleSold(w http.ResponseWriter, r *http.Request) {
	current := middleware.ListingFromContext(r.Context())
	snap := middleware.SnapshotFromContext(r.Context())
	sold := r.PostFormValue("sold") == "true"
	to := "/items/" + current.ID.String()

	updated, err := h.service.ToggleSold(r.Context(), snap, current, sold)
	switch {
	case errors.Is(err, listing.ErrAlreadyInState):
		http.Redirect(w, r, to, http.StatusSeeOther)
	case errors.Is(err, listing.ErrSignInRequired):
		redirectWithFlash(w, r, to, flashError, listing.MsgSignInToToggle)
	case err != nil:
		h.logger.Error("failed to toggle sold state",
			slog.String("listing_id", current.ID.String()),
			slog.String("error", err.Error()),
		)
		redirectWithFlash(w, r, to, flashError, userMessage(err))
	default:
		redirectWithFlash(w, r, to, flashSuccess, listing.ToggleMessage(updated.Sold))
	}
}

func (h *ListingHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, page itemFormPage) {
	h.render.Page(w, r, status, "item_form", page.Heading, page)
}

// --- ヘルパー ---

// formFromRequest はフォーム入力をlisting.Formに変換する。値の検証はServiceで行う。
func formFromRequest(r *http.Request) listing.Form {
	return listing.Form{
		Name:     r.PostFormValue("name"),
		Price:    r.PostFormValue("price"),
		Quantity: r.PostFormValue("quantity"),
		Sold:     r.PostFormValue("sold") == "on" || r.PostFormValue("sold") == "true",
		Category: r.PostFormValue("category"),
	}
}

func createFormPage(form listing.Form, errMsg string) itemFormPage {
	return itemFormPage{
		Heading:     "Create a listing",
		Action:      "/items/new",
		SubmitLabel: "Create listing",
		Form:        form,
		Categories:  categoryCards(model.Category(form.Category)),
		Error:       errMsg,
	}
}

func editFormPage(current *model.Listing, form listing.Form, errMsg string) itemFormPage {
	id := current.ID.String()
	return itemFormPage{
		Heading:     "Edit listing",
		Action:      "/items/" + id + "/edit",
		SubmitLabel: "Save listing",
		Form:        form,
		AllowSold:   true,
		Categories:  categoryCards(model.Category(form.Category)),
		Error:       errMsg,
		ListingID:   id,
	}
}

// categoryCards はカテゴリの一覧をactiveを選択状態にして返す。
func categoryCards(active model.Category) []categoryCard {
	cards := make([]categoryCard, len(model.Categories))
	for i, c := range model.Categories {
		cards[i] = categoryCard{Slug: c, Name: c.Name(), Active: c == active}
	}
	return cards
}

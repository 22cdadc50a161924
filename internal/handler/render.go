package handler

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/hitoshi/umarket/internal/apiclient"
	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/middleware"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/order"
	"github.com/hitoshi/umarket/internal/profile"
	"github.com/hitoshi/umarket/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// pageNames はレイアウトと組み合わせて描画するページテンプレートの一覧。
var pageNames = []string{
	"home",
	"item",
	"item_form",
	"item_delete",
	"login",
	"dashboard_listings",
	"dashboard_orders",
	"profile",
	"user",
	"error",
}

var templateFuncs = template.FuncMap{
	"price":       formatPrice,
	"highlight":   listing.Highlight,
	"productName": order.ProductName,
	"initials":    profile.Initials,
	"errorText":   userMessage,
}

// formatPrice は価格をドル表記にする。
func formatPrice(p float64) string {
	return fmt.Sprintf("$%.2f", p)
}

// pageView はレイアウトに渡す共通のページデータ。
type pageView struct {
	Title     string
	Session   session.Snapshot
	User      *model.UserIdentity
	CSRFToken string
	Flash     *flash
	Data      any
}

// Renderer は埋め込みテンプレートからHTMLページを描画する。
type Renderer struct {
	pages     map[string]*template.Template
	fragments *template.Template
	logger    *slog.Logger
}

// NewRenderer は全ページテンプレートを解析してRendererを生成する。
func NewRenderer(logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templatesFS,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("テンプレート %s の解析に失敗しました: %w", name, err)
		}
		pages[name] = t
	}
	fragments, err := template.New("fragments").Funcs(templateFuncs).ParseFS(templatesFS, "templates/search_results.html")
	if err != nil {
		return nil, fmt.Errorf("フラグメントテンプレートの解析に失敗しました: %w", err)
	}
	return &Renderer{pages: pages, fragments: fragments, logger: logger}, nil
}

// StaticFS は/static/で配信する静的ファイルを返す。
func StaticFS() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Page はレイアウト付きのページを描画する。
// セッション状態・CSRFトークン・フラッシュメッセージはリクエストから取得する。
func (rd *Renderer) Page(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	t, ok := rd.pages[name]
	if !ok {
		rd.logger.Error("unknown page template", slog.String("page", name))
		middleware.WriteInternalServerError(w, r)
		return
	}

	snap := middleware.SnapshotFromContext(r.Context())
	view := pageView{
		Title:     title,
		Session:   snap,
		User:      snap.User(),
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Flash:     popFlash(w, r),
		Data:      data,
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", view); err != nil {
		rd.logger.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// Fragment はレイアウトなしのHTML断片を描画する。
func (rd *Renderer) Fragment(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := rd.fragments.ExecuteTemplate(&buf, name, data); err != nil {
		rd.logger.Error("failed to render fragment",
			slog.String("fragment", name),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

// errorPage はエラーページのデータ。
type errorPage struct {
	Status  int
	Message string
}

// Error はエラーページを描画する。middleware.ErrorRendererとして使用する。
func (rd *Renderer) Error(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := userMessage(err)
	if status == http.StatusNotFound {
		msg = "Listing not found."
	}
	rd.Page(w, r, status, "error", http.StatusText(status), errorPage{Status: status, Message: msg})
}

// userMessage はエラーを画面に表示するメッセージに変換する。
// バックエンドのエラーはそのメッセージをそのまま表示する。
func userMessage(err error) string {
	var fieldErr *listing.FieldError
	var apiErr *apiclient.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fieldErr):
		return fieldErr.Message
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, listing.ErrSignInRequired), errors.Is(err, order.ErrSignInRequired):
		return "You must be signed in to do that."
	case errors.Is(err, listing.ErrNotOwner):
		return "Only the seller can change this listing."
	case errors.Is(err, order.ErrNotPurchasable):
		return "This item is no longer available."
	default:
		return "Something went wrong. Please try again."
	}
}

// statusFor はエラーに対応するHTTPステータスを返す。
func statusFor(err error) int {
	var fieldErr *listing.FieldError
	var apiErr *apiclient.Error
	switch {
	case errors.As(err, &fieldErr), errors.Is(err, listing.ErrConfirmationRequired):
		return http.StatusUnprocessableEntity
	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, listing.ErrSignInRequired), errors.Is(err, order.ErrSignInRequired):
		return http.StatusUnauthorized
	case errors.Is(err, listing.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, order.ErrNotPurchasable), errors.Is(err, listing.ErrAlreadyInState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

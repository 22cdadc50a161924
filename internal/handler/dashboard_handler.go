package handler

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/middleware"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/profile"
)

// avatarMaxBytes はアバター画像のアップロードサイズの上限。
const avatarMaxBytes = 5 << 20

// ProfileServiceInterface は自分のプロフィールの操作。
type ProfileServiceInterface interface {
	Load(ctx context.Context) (*profile.Profile, error)
	SaveDescription(ctx context.Context, description string) (*profile.Profile, error)
	UploadAvatar(ctx context.Context, user *model.UserIdentity, up profile.Upload) (*profile.Profile, error)
	NormalizeStorageError(err error) string
}

// ProfileFactory はリクエストのユーザーにバインドされたプロフィールサービスを生成する。
type ProfileFactory func(users profile.UserProvider) ProfileServiceInterface

// DashboardHandler はサインイン中のユーザー向けページ（自分のリスティング・プロフィール）のHTTPハンドラー。
type DashboardHandler struct {
	listings ListingServiceInterface
	profiles ProfileFactory
	render   *Renderer
	logger   *slog.Logger
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(listings ListingServiceInterface, profiles ProfileFactory, render *Renderer, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{listings: listings, profiles: profiles, render: render, logger: logger}
}

type myListingsPage struct {
	Listings []model.Listing
	Error    string
}

type profilePage struct {
	Profile       *profile.Profile
	ProfileError  string
	Listings      []model.Listing
	ListingsError string
	Error         string
}

// Listings は自分のリスティング一覧を表示する。
// GET /dashboard/listings
func (h *DashboardHandler) Listings(w http.ResponseWriter, r *http.Request) {
	snap := middleware.SnapshotFromContext(r.Context())
	page := myListingsPage{}

	listings, err := h.listings.BySeller(r.Context(), snap.UserID(), snap.AccessToken())
	if err != nil {
		h.logger.Error("failed to load seller listings", slog.String("error", err.Error()))
		page.Error = userMessage(err)
	} else {
		page.Listings = listings
	}
	h.render.Page(w, r, http.StatusOK, "dashboard_listings", "My listings", page)
}

// Profile は自分のプロフィールと自分のリスティングを表示する。
// 両方を並行して取得し、一方の失敗はもう一方の表示を妨げない。
// GET /dashboard/profile
func (h *DashboardHandler) Profile(w http.ResponseWriter, r *http.Request) {
	h.renderProfile(w, r, http.StatusOK, "")
}

func (h *DashboardHandler) renderProfile(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	snap := middleware.SnapshotFromContext(r.Context())
	svc := h.profileService(r)
	page := profilePage{Error: errMsg}

	var g errgroup.Group
	g.Go(func() error {
		p, err := svc.Load(r.Context())
		if err != nil {
			h.logger.Error("failed to load profile", slog.String("error", err.Error()))
			page.ProfileError = "We couldn't load your profile."
			return nil
		}
		page.Profile = p
		return nil
	})
	g.Go(func() error {
		listings, err := h.listings.BySeller(r.Context(), snap.UserID(), snap.AccessToken())
		if err != nil {
			page.ListingsError = userMessage(err)
			return nil
		}
		page.Listings = listing.SortAvailableFirst(listings)
		return nil
	})
	g.Wait()

	h.render.Page(w, r, status, "profile", "Profile", page)
}

// SaveDescription は紹介文を保存してプロフィールページへリダイレクトする。
// POST /dashboard/profile
func (h *DashboardHandler) SaveDescription(w http.ResponseWriter, r *http.Request) {
	if _, err := h.profileService(r).SaveDescription(r.Context(), r.PostFormValue("description")); err != nil {
		h.logger.Error("failed to save profile description", slog.String("error", err.Error()))
		h.renderProfile(w, r, http.StatusBadGateway, userMessage(err))
		return
	}
	redirectWithFlash(w, r, "/dashboard/profile", flashSuccess, profile.MsgDescriptionSaved)
}

// UploadAvatar はアバター画像をアップロードしてプロフィールページへリダイレクトする。
// POST /dashboard/profile/avatar
func (h *DashboardHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	svc := h.profileService(r)
	r.Body = http.MaxBytesReader(w, r.Body, avatarMaxBytes+(1<<20))
	if err := r.ParseMultipartForm(avatarMaxBytes); err != nil {
		redirectWithFlash(w, r, "/dashboard/profile", flashError, "Choose an image of 5MB or less.")
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		redirectWithFlash(w, r, "/dashboard/profile", flashError, "Choose an image to upload.")
		return
	}
	defer file.Close()
	if header.Size > avatarMaxBytes {
		redirectWithFlash(w, r, "/dashboard/profile", flashError, "Choose an image of 5MB or less.")
		return
	}

	user := middleware.SnapshotFromContext(r.Context()).User()
	_, err = svc.UploadAvatar(r.Context(), user, profile.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.logger.Error("failed to upload avatar", slog.String("error", err.Error()))
		redirectWithFlash(w, r, "/dashboard/profile", flashError, svc.NormalizeStorageError(err))
		return
	}
	redirectWithFlash(w, r, "/dashboard/profile", flashSuccess, profile.MsgAvatarUpdated)
}

// profileService はリクエストのブラウザにバインドされたプロフィールサービスを返す。
func (h *DashboardHandler) profileService(r *http.Request) ProfileServiceInterface {
	return h.profiles(middleware.AuthFromContext(r.Context()))
}

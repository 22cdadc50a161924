package profile

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/umarket/internal/apiclient"
	"github.com/hitoshi/umarket/internal/listing"
	"github.com/hitoshi/umarket/internal/model"
)

// PublicAPI は公開プロフィールの取得に必要なバックエンドAPI。
// apiclient.Clientが実装する。
type PublicAPI interface {
	GetUser(ctx context.Context, id string) (*model.PublicProfile, error)
	ListListings(ctx context.Context, q apiclient.ListingQuery, accessToken string) ([]model.Listing, error)
}

// PublicView は出品者の公開プロフィールページの表示内容。
// プロフィールと出品一覧は独立して取得し、それぞれのエラーを個別に保持する。
type PublicView struct {
	Profile     *model.PublicProfile
	ProfileErr  error
	DisplayName string
	Initials    string
	AvatarURL   string

	// Listings は販売中のものを先に並べた出品一覧。
	Listings    []model.Listing
	ListingsErr error
	ActiveCount int
}

// PublicLoader は公開プロフィールを読み込む。
type PublicLoader struct {
	api     PublicAPI
	storage Storage
}

// NewPublicLoader はPublicLoaderを生成する。storageはnilでもよい。
func NewPublicLoader(api PublicAPI, storage Storage) *PublicLoader {
	return &PublicLoader{api: api, storage: storage}
}

// Load はプロフィールと出品一覧を並行して取得する。
// 一方の失敗は他方の表示を妨げない。
func (l *PublicLoader) Load(ctx context.Context, sellerID string) *PublicView {
	v := &PublicView{}

	var g errgroup.Group
	g.Go(func() error {
		v.Profile, v.ProfileErr = l.api.GetUser(ctx, sellerID)
		return nil
	})
	g.Go(func() error {
		v.Listings, v.ListingsErr = l.api.ListListings(ctx, apiclient.ListingQuery{SellerID: sellerID}, "")
		return nil
	})
	_ = g.Wait()

	if v.ProfileErr != nil {
		v.Profile = nil
	}
	v.DisplayName = v.Profile.DisplayName()
	v.Initials = PublicInitials(v.DisplayName)
	v.AvatarURL = l.avatarURL(v.Profile)

	if v.ListingsErr != nil {
		v.Listings = nil
	}
	v.Listings = listing.SortAvailableFirst(v.Listings)
	v.ActiveCount = listing.ActiveCount(v.Listings)
	return v
}

// avatarURL はavatar_pathがあればストレージの公開URLを、なければavatar_urlを返す。
func (l *PublicLoader) avatarURL(p *model.PublicProfile) string {
	if p == nil {
		return ""
	}
	if p.AvatarPath != "" && l.storage != nil {
		if u := l.storage.PublicURL(p.AvatarPath); u != "" {
			return u
		}
	}
	return p.AvatarURL
}

// Package listing はリスティングの作成・編集・削除・販売状態切り替えのフローと、
// 所有者判定などの表示ルールを提供する。
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/umarket/internal/apiclient"
	"github.com/hitoshi/umarket/internal/model"
	"github.com/hitoshi/umarket/internal/session"
)

var (
	// ErrSignInRequired は未ログインで変更操作を行った場合のエラー。
	ErrSignInRequired = errors.New("sign-in required")
	// ErrNotOwner は所有者以外が所有者専用の操作を行った場合のエラー。
	ErrNotOwner = errors.New("not the listing owner")
	// ErrAlreadyInState は販売状態が既に目的の状態である場合のエラー。
	ErrAlreadyInState = errors.New("listing already in requested state")
	// ErrConfirmationRequired は削除の確認がない場合のエラー。
	ErrConfirmationRequired = errors.New("delete confirmation required")
)

// 画面に表示するメッセージ。
const (
	MsgSignInToCreate = "You must be logged in to create a listing"
	MsgSignInToEdit   = "You must be logged in to update a listing"
	MsgSignInToToggle = "You must be signed in to update a listing."
	MsgDeleteConfirm  = "Delete this listing? This action cannot be undone."
)

// ToggleMessage は販売状態切り替え成功時のメッセージを返す。
func ToggleMessage(sold bool) string {
	if sold {
		return "Listing marked as sold."
	}
	return "Listing marked as available."
}

// API はリスティング操作に必要なバックエンドAPI。
// apiclient.Clientが実装する。
type API interface {
	ListListings(ctx context.Context, q apiclient.ListingQuery, accessToken string) ([]model.Listing, error)
	GetListing(ctx context.Context, id, accessToken string) (*model.Listing, error)
	CreateListing(ctx context.Context, in model.ListingInput, accessToken string) (*model.Listing, error)
	UpdateListing(ctx context.Context, id string, patch model.ListingPatch, accessToken string) (*model.Listing, error)
	DeleteListing(ctx context.Context, id, accessToken string) error
}

// Service はリスティングのフローを提供する。
type Service struct {
	api    API
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(api API, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, logger: logger}
}

// Query はトップページの一覧条件。
type Query struct {
	Search   string
	Category model.Category
}

// Browse は販売中のリスティング一覧を取得する。
func (s *Service) Browse(ctx context.Context, q Query) ([]model.Listing, error) {
	sold := false
	listings, err := s.api.ListListings(ctx, apiclient.ListingQuery{
		Sold:     &sold,
		Search:   q.Search,
		Category: q.Category,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("failed to browse listings: %w", err)
	}
	return listings, nil
}

// BySeller は出品者のリスティング一覧（売り切れを含む）を取得する。
func (s *Service) BySeller(ctx context.Context, sellerID, accessToken string) ([]model.Listing, error) {
	listings, err := s.api.ListListings(ctx, apiclient.ListingQuery{SellerID: sellerID}, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list seller listings: %w", err)
	}
	return listings, nil
}

// Get は単一のリスティングを取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.Listing, error) {
	l, err := s.api.GetListing(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %s: %w", id, err)
	}
	return l, nil
}

// Create はフォームを検証してリスティングを作成する。
// 検証エラーの場合はバックエンドを呼び出さずに *FieldError を返す。
func (s *Service) Create(ctx context.Context, snap session.Snapshot, form Form) (*model.Listing, error) {
	if !snap.Authenticated() {
		return nil, ErrSignInRequired
	}
	v, err := form.Validate(false)
	if err != nil {
		return nil, err
	}
	created, err := s.api.CreateListing(ctx, v.Input(), snap.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	s.logger.Info("listing created",
		slog.String("listing_id", created.ID.String()),
		slog.String("user_id", snap.UserID()),
	)
	return created, nil
}

// Update はフォームを検証してリスティングを更新する。販売状態の変更を含む。
func (s *Service) Update(ctx context.Context, snap session.Snapshot, current *model.Listing, form Form) (*model.Listing, error) {
	if !snap.Authenticated() {
		return nil, ErrSignInRequired
	}
	if !IsOwner(snap.User(), current) {
		return nil, ErrNotOwner
	}
	v, err := form.Validate(true)
	if err != nil {
		return nil, err
	}
	updated, err := s.api.UpdateListing(ctx, current.ID.String(), v.Patch(), snap.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return updated, nil
}

// Delete はリスティングを削除する。confirmedがfalseの場合はバックエンドを呼び出さない。
func (s *Service) Delete(ctx context.Context, snap session.Snapshot, current *model.Listing, confirmed bool) error {
	if !snap.Authenticated() {
		return ErrSignInRequired
	}
	if !IsOwner(snap.User(), current) {
		return ErrNotOwner
	}
	if !confirmed {
		return ErrConfirmationRequired
	}
	if err := s.api.DeleteListing(ctx, current.ID.String(), snap.AccessToken()); err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	s.logger.Info("listing deleted",
		slog.String("listing_id", current.ID.String()),
		slog.String("user_id", snap.UserID()),
	)
	return nil
}

// ToggleSold は販売状態をsoldに切り替える。soldフィールドのみを部分更新する。
// 既に目的の状態である場合はバックエンドを呼び出さない。
func (s *Service) ToggleSold(ctx context.Context, snap session.Snapshot, current *model.Listing, sold bool) (*model.Listing, error) {
	if !snap.Authenticated() {
		return nil, ErrSignInRequired
	}
	if !IsOwner(snap.User(), current) {
		return nil, ErrNotOwner
	}
	if current.Sold == sold {
		return nil, ErrAlreadyInState
	}
	updated, err := s.api.UpdateListing(ctx, current.ID.String(), model.ListingPatch{Sold: &sold}, snap.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("failed to toggle sold state: %w", err)
	}
	return updated, nil
}

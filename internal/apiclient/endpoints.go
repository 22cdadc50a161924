package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/umarket/internal/model"
)

// ListingQuery はGET /listingsの絞り込み条件。
// ゼロ値のフィールドはクエリパラメータに含めない。
type ListingQuery struct {
	SellerID string
	Sold     *bool
	Search   string
	Category model.Category
}

// Encode はクエリ文字列（先頭の?を含む）を返す。条件がなければ空文字を返す。
func (q ListingQuery) Encode() string {
	v := url.Values{}
	if q.SellerID != "" {
		v.Set("seller_id", q.SellerID)
	}
	if q.Sold != nil {
		v.Set("sold", strconv.FormatBool(*q.Sold))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Category != "" {
		v.Set("category", string(q.Category))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// ListListings はリスティング一覧を取得する。
func (c *Client) ListListings(ctx context.Context, q ListingQuery, accessToken string) ([]model.Listing, error) {
	var listings []model.Listing
	err := c.requestJSON(ctx, "/listings"+q.Encode(), RequestOptions{AccessToken: accessToken}, &listings)
	if err != nil {
		return nil, err
	}
	return listings, nil
}

// GetListing は単一のリスティングを取得する。存在しない場合は404の *Error を返す。
func (c *Client) GetListing(ctx context.Context, id, accessToken string) (*model.Listing, error) {
	var listing model.Listing
	err := c.requestJSON(ctx, "/listings/"+url.PathEscape(id), RequestOptions{AccessToken: accessToken}, &listing)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// CreateListing はリスティングを作成する。
func (c *Client) CreateListing(ctx context.Context, in model.ListingInput, accessToken string) (*model.Listing, error) {
	var listing model.Listing
	err := c.requestJSON(ctx, "/listings", RequestOptions{
		Method:      http.MethodPost,
		Body:        in,
		AccessToken: accessToken,
	}, &listing)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// UpdateListing はリスティングを部分更新する。
func (c *Client) UpdateListing(ctx context.Context, id string, patch model.ListingPatch, accessToken string) (*model.Listing, error) {
	var listing model.Listing
	err := c.requestJSON(ctx, "/listings/"+url.PathEscape(id), RequestOptions{
		Method:      http.MethodPatch,
		Body:        patch,
		AccessToken: accessToken,
	}, &listing)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// DeleteListing はリスティングを削除する。
func (c *Client) DeleteListing(ctx context.Context, id, accessToken string) error {
	_, err := c.roundTrip(ctx, "/listings/"+url.PathEscape(id), RequestOptions{
		Method:      http.MethodDelete,
		AccessToken: accessToken,
	})
	return err
}

// ListOrders は指定視点（購入者・出品者）の注文一覧を取得する。
func (c *Client) ListOrders(ctx context.Context, role model.OrderRole, accessToken string) ([]model.Order, error) {
	var orders []model.Order
	path := "/orders?" + url.Values{"role": {string(role)}}.Encode()
	if err := c.requestJSON(ctx, path, RequestOptions{AccessToken: accessToken}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrder は注文を作成する。
func (c *Client) CreateOrder(ctx context.Context, in model.OrderInput, accessToken string) (*model.Order, error) {
	var order model.Order
	err := c.requestJSON(ctx, "/orders", RequestOptions{
		Method:      http.MethodPost,
		Body:        in,
		AccessToken: accessToken,
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetUser は公開プロフィールを取得する。
func (c *Client) GetUser(ctx context.Context, id string) (*model.PublicProfile, error) {
	var profile model.PublicProfile
	if err := c.requestJSON(ctx, "/users/"+url.PathEscape(id), RequestOptions{}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

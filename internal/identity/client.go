// Package identity はIdP（Supabase GoTrue互換の認証サーバー）との連携を提供する。
// REST APIクライアント、ブラウザ単位のセッション管理、状態変更イベントの配信を含む。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/umarket/internal/model"
)

// ClientConfig はIdPクライアントの設定。
type ClientConfig struct {
	// URL はプロジェクトのベースURL（例: https://xyz.supabase.co）。
	URL string
	// AnonKey はapikeyヘッダーに付与する公開キー。
	AnonKey string
	// HTTPClient が未指定の場合はhttp.DefaultClientを使用する。
	HTTPClient *http.Client
}

// Client はIdPのREST APIクライアント。
type Client struct {
	authURL    string
	anonKey    string
	httpClient *http.Client
}

// NewClient はClientを生成する。
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		authURL:    strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey:    cfg.AnonKey,
		httpClient: httpClient,
	}
}

// AuthorizeURL はOAuthプロバイダーへのリダイレクトURLを生成する。
// codeChallengeはS256で導出したPKCEチャレンジ。
func (c *Client) AuthorizeURL(provider, redirectTo, codeChallenge string, queryParams map[string]string) string {
	params := url.Values{
		"provider": {provider},
	}
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}
	if codeChallenge != "" {
		params.Set("code_challenge", codeChallenge)
		params.Set("code_challenge_method", "s256")
	}
	for k, v := range queryParams {
		params.Set(k, v)
	}
	return c.authURL + "/authorize?" + params.Encode()
}

// ExchangeCode はPKCEの認可コードをセッションに交換する。
func (c *Client) ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*model.Session, error) {
	return c.token(ctx, "pkce", map[string]string{
		"auth_code":     authCode,
		"code_verifier": codeVerifier,
	})
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

// SignInWithIDToken はプロバイダー発行のIDトークン（Google One Tap等）でサインインする。
// nonceにはハッシュ化前の生nonceを渡す。
func (c *Client) SignInWithIDToken(ctx context.Context, provider, idToken, nonce string) (*model.Session, error) {
	body := map[string]string{
		"provider": provider,
		"id_token": idToken,
	}
	if nonce != "" {
		body["nonce"] = nonce
	}
	return c.token(ctx, "id_token", body)
}

// Logout はアクセストークンに紐づくセッションを失効させる。
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

// GetUser はアクセストークンの持ち主のユーザー情報を取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.UserIdentity, error) {
	var u userResponse
	if err := c.do(ctx, http.MethodGet, "/user", accessToken, nil, &u); err != nil {
		return nil, err
	}
	return u.toModel(), nil
}

// UpdateUser はユーザーメタデータを更新し、更新後のユーザー情報を返す。
func (c *Client) UpdateUser(ctx context.Context, accessToken string, data map[string]any) (*model.UserIdentity, error) {
	var u userResponse
	body := map[string]any{"data": data}
	if err := c.do(ctx, http.MethodPut, "/user", accessToken, body, &u); err != nil {
		return nil, err
	}
	return u.toModel(), nil
}

// tokenResponse はトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

// userResponse はユーザー情報のレスポンス。
type userResponse struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	UserMetadata userMetadata `json:"user_metadata"`
}

type userMetadata struct {
	FullName           string `json:"full_name"`
	Name               string `json:"name"`
	ProfileDescription string `json:"profile_description"`
	AvatarPath         string `json:"avatar_path"`
	AvatarURL          string `json:"avatar_url"`
	Picture            string `json:"picture"`
}

func (u userResponse) toModel() *model.UserIdentity {
	fullName := u.UserMetadata.FullName
	if fullName == "" {
		fullName = u.UserMetadata.Name
	}
	avatarURL := u.UserMetadata.AvatarURL
	if avatarURL == "" {
		avatarURL = u.UserMetadata.Picture
	}
	return &model.UserIdentity{
		ID:                 u.ID,
		Email:              u.Email,
		FullName:           fullName,
		ProfileDescription: u.UserMetadata.ProfileDescription,
		AvatarPath:         u.UserMetadata.AvatarPath,
		AvatarURL:          avatarURL,
	}
}

func (c *Client) token(ctx context.Context, grantType string, body any) (*model.Session, error) {
	var resp tokenResponse
	path := "/token?grant_type=" + url.QueryEscape(grantType)
	if err := c.do(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.User.ID == "" {
		return nil, fmt.Errorf("トークンレスポンスにアクセストークンまたはユーザーが含まれていません")
	}
	return &model.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    expiryOf(resp, time.Now()),
		User:         resp.User.toModel(),
	}, nil
}

// expiryOf はセッションの有効期限を決定する。
// expires_at、expires_in、アクセストークンのexpクレームの順に採用する。
func expiryOf(resp tokenResponse, now time.Time) time.Time {
	if resp.ExpiresAt > 0 {
		return time.Unix(resp.ExpiresAt, 0)
	}
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return tokenExpiry(resp.AccessToken)
}

// tokenExpiry はJWTのexpクレームを署名検証なしで読み取る。
// 署名検証はIdPとバックエンドが行う。読み取れない場合はゼロ値を返す。
func tokenExpiry(accessToken string) time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.authURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("IdPの呼び出しに失敗しました (%s %s): %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

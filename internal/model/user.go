// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// UserIdentity はIdPが管理するユーザー情報を表す。
// フロントエンドから変更できるのはProfileDescriptionとAvatarPathのみ。
type UserIdentity struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FullName           string `json:"full_name,omitempty"`
	ProfileDescription string `json:"profile_description,omitempty"`
	AvatarPath         string `json:"avatar_path,omitempty"`
	AvatarURL          string `json:"avatar_url,omitempty"`
}

// DisplayName は表示名を返す。full_name、email、fallbackの順に採用する。
func (u *UserIdentity) DisplayName(fallback string) string {
	if u == nil {
		return fallback
	}
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	if u.Email != "" {
		return u.Email
	}
	return fallback
}

// Session はIdPが発行した認証セッションを表す。
// ブラウザごとにサーバー側で保持され、Cookieには含めない。
type Session struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresAt    time.Time     `json:"expires_at"`
	User         *UserIdentity `json:"user"`
}

// Valid はセッションが完全に存在するかを判定する。
// UserとAccessTokenは両方揃っているか、両方欠けているかのどちらかでなければならない。
func (s *Session) Valid() bool {
	if s == nil {
		return false
	}
	return s.AccessToken != "" && s.User != nil && s.User.ID != ""
}

// ExpiresWithin はセッションが指定期間内に期限切れになるかを判定する。
// ExpiresAtが未設定の場合は期限切れとみなさない。
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// PublicProfile は出品者の公開プロフィールを表す。
// GET /users/{id} のレスポンス。
type PublicProfile struct {
	ID                 string `json:"id"`
	Email              string `json:"email,omitempty"`
	FullName           string `json:"full_name,omitempty"`
	ProfileDescription string `json:"profile_description,omitempty"`
	AvatarPath         string `json:"avatar_path,omitempty"`
	AvatarURL          string `json:"avatar_url,omitempty"`
}

// DisplayName は公開プロフィールの表示名を返す。
func (p *PublicProfile) DisplayName() string {
	if p == nil {
		return "Seller profile"
	}
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	if p.Email != "" {
		return p.Email
	}
	return "Seller profile"
}

// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DotEnvFiles は起動時に読み込む.envファイル。先に読み込んだ値が優先される。
var DotEnvFiles = []string{".env.local", ".env"}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Marketplace backend
	// バックエンドAPIへのリクエストには明示的な期限を設けない（リクエストのcontextでのみ中断する）。
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8000"`

	// Database は保存済みIdPセッションの格納先。空の場合はメモリに保持する。
	DatabaseURL string `env:"DATABASE_URL"`

	Supabase Supabase `envPrefix:"SUPABASE_"`
	Session  Session  `envPrefix:"SESSION_"`
	Storage  Storage  `envPrefix:"STORAGE_"`

	// GoogleClientID が設定されている場合のみGoogle One Tapを表示する。
	GoogleClientID string `env:"GOOGLE_CLIENT_ID"`

	// Rate Limit は変更系リクエストの1分あたりの上限。
	RateLimitMutations int `env:"RATE_LIMIT_MUTATIONS" envDefault:"30"`

	// Search
	SearchDebounce time.Duration `env:"SEARCH_DEBOUNCE" envDefault:"350ms"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`
	CookieSecure bool
}

// Supabase はIdPの接続設定。
type Supabase struct {
	URL     string `env:"URL,required,notEmpty"`
	AnonKey string `env:"ANON_KEY,required,notEmpty"`
	// Timeout はIdPへのリクエストの期限。
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Session はブラウザセッションの設定。
type Session struct {
	// MaxAge はブラウザCookieの有効期間。これより長く更新のない保存済みセッションは削除される。
	MaxAge          time.Duration `env:"MAX_AGE" envDefault:"720h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

// Storage はアバター画像を保存するS3互換ストレージの設定。
// Endpointが空の場合、アバターのアップロードは無効になる。
type Storage struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Region    string `env:"REGION"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"true"`
	Bucket    string `env:"AVATAR_BUCKET" envDefault:"avatars"`
	// PublicURL は公開オブジェクトのベースURL。未設定の場合はSupabaseの公開URLを使う。
	PublicURL string `env:"PUBLIC_URL"`
}

// Enabled はストレージが設定されているかを返す。
func (s Storage) Enabled() bool {
	return s.Endpoint != ""
}

// Load は.envファイルと環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := LoadDotEnv(DotEnvFiles...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Supabase.URL = strings.TrimRight(cfg.Supabase.URL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	if cfg.Storage.PublicURL == "" {
		cfg.Storage.PublicURL = cfg.Supabase.URL + "/storage/v1/object/public"
	}
	return cfg, nil
}

// LoadDotEnv は存在する.envファイルを読み込む。
// 既に設定されている環境変数は上書きしない。存在しないファイルは無視する。
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

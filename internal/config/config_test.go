package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_URL", "https://project.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon-key")
	t.Setenv("BASE_URL", "http://localhost:8080")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Supabase.URL != "https://project.supabase.co" {
		t.Errorf("Supabase.URL = %q, want trailing slash trimmed", cfg.Supabase.URL)
	}
	if cfg.Supabase.AnonKey != "anon-key" {
		t.Errorf("Supabase.AnonKey = %q, want %q", cfg.Supabase.AnonKey, "anon-key")
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:8080")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.APIBaseURL != "http://localhost:8000" {
		t.Errorf("APIBaseURL = %q, want %q", cfg.APIBaseURL, "http://localhost:8000")
	}
	if cfg.Supabase.Timeout != 10*time.Second {
		t.Errorf("Supabase.Timeout = %v, want %v", cfg.Supabase.Timeout, 10*time.Second)
	}
	if cfg.Session.MaxAge != 720*time.Hour {
		t.Errorf("Session.MaxAge = %v, want %v", cfg.Session.MaxAge, 720*time.Hour)
	}
	if cfg.Session.CleanupInterval != time.Hour {
		t.Errorf("Session.CleanupInterval = %v, want %v", cfg.Session.CleanupInterval, time.Hour)
	}
	if cfg.RateLimitMutations != 30 {
		t.Errorf("RateLimitMutations = %d, want %d", cfg.RateLimitMutations, 30)
	}
	if cfg.SearchDebounce != 350*time.Millisecond {
		t.Errorf("SearchDebounce = %v, want %v", cfg.SearchDebounce, 350*time.Millisecond)
	}
	if cfg.Storage.Bucket != "avatars" {
		t.Errorf("Storage.Bucket = %q, want %q", cfg.Storage.Bucket, "avatars")
	}
	if !cfg.Storage.UseSSL {
		t.Error("Storage.UseSSL should default to true")
	}
	if cfg.Storage.Enabled() {
		t.Error("storage should be disabled without an endpoint")
	}
	if cfg.Storage.PublicURL != "https://project.supabase.co/storage/v1/object/public" {
		t.Errorf("Storage.PublicURL = %q", cfg.Storage.PublicURL)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false for http BASE_URL")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("BASE_URL", "https://market.example.edu/")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("API_BASE_URL", "https://api.example.edu")
	t.Setenv("SESSION_MAX_AGE", "48h")
	t.Setenv("STORAGE_ENDPOINT", "storage.example.edu")
	t.Setenv("STORAGE_AVATAR_BUCKET", "profile-photos")
	t.Setenv("STORAGE_PUBLIC_URL", "https://cdn.example.edu")
	t.Setenv("SEARCH_DEBOUNCE", "200ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.BaseURL != "https://market.example.edu" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should be true for https BASE_URL")
	}
	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.Session.MaxAge != 48*time.Hour {
		t.Errorf("Session.MaxAge = %v, want %v", cfg.Session.MaxAge, 48*time.Hour)
	}
	if !cfg.Storage.Enabled() || cfg.Storage.Bucket != "profile-photos" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Storage.PublicURL != "https://cdn.example.edu" {
		t.Errorf("Storage.PublicURL = %q", cfg.Storage.PublicURL)
	}
	if cfg.SearchDebounce != 200*time.Millisecond {
		t.Errorf("SearchDebounce = %v", cfg.SearchDebounce)
	}
}

func TestLoad_MissingRequiredVars_ReturnsError(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantKey string
	}{
		{"SUPABASE_URL未設定", "SUPABASE_URL", "SUPABASE_URL"},
		{"SUPABASE_ANON_KEY未設定", "SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY"},
		{"BASE_URL未設定", "BASE_URL", "BASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error = %v, want it to mention %s", err, tt.wantKey)
			}
		})
	}
}

func TestLoad_InvalidDuration_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SESSION_MAX_AGE", "forever")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "UMARKET_TEST_REAL=from-file\nUMARKET_TEST_NEW=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("UMARKET_TEST_REAL", "from-env")
	t.Cleanup(func() { os.Unsetenv("UMARKET_TEST_NEW") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := os.Getenv("UMARKET_TEST_REAL"); got != "from-env" {
		t.Errorf("UMARKET_TEST_REAL = %q, want %q", got, "from-env")
	}
	if got := os.Getenv("UMARKET_TEST_NEW"); got != "from-file" {
		t.Errorf("UMARKET_TEST_NEW = %q, want %q", got, "from-file")
	}
}

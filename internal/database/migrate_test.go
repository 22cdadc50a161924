package database

import (
	"database/sql"
	"io/fs"
	"os"
	"strings"
	"testing"

	_ "github.com/lib/pq"
)

// testDatabaseURL はテスト用のデータベースURLを返す。
// TEST_DATABASE_URL 未設定の場合はテストをスキップする。
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	return url
}

func TestMigrationsFS_HasUpAndDownPairs(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("failed to read embedded migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for name := range ups {
		if !downs[name] {
			t.Errorf("migration %s has no down file", name)
		}
	}
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	if _, err := NewMigrator("not-a-url"); err == nil {
		t.Error("expected error for invalid database URL")
	}
}

func TestRunMigrations_CreatesAuthSessions(t *testing.T) {
	dbURL := testDatabaseURL(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS auth_sessions CASCADE; DROP TABLE IF EXISTS schema_migrations;`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}

	version, err := RunMigrations(dbURL)
	if err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	// 2回目は変更なしでエラーにならない
	if _, err := RunMigrations(dbURL); err != nil {
		t.Fatalf("second RunMigrations failed: %v", err)
	}

	var exists bool
	err = db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'auth_sessions')`).Scan(&exists)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !exists {
		t.Error("auth_sessions table was not created")
	}
}

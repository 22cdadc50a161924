package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// --- モック定義 ---

type mockDeleter struct {
	called int
	before time.Time
	n      int64
	err    error
}

func (m *mockDeleter) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	m.called++
	m.before = before
	return m.n, m.err
}

type mockRecorder struct {
	counts []int64
}

func (m *mockRecorder) RecordSessionsPurged(count int64) {
	m.counts = append(m.counts, count)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func logHas(buf *bytes.Buffer, key string, want any) bool {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if v, ok := entry[key]; ok && v == want {
			return true
		}
	}
	return false
}

// --- テスト ---

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{}, 0, newTestLogger(&buf))
	if job.Retention != 24*time.Hour {
		t.Errorf("Retention = %v, want 24h", job.Retention)
	}
}

func TestCleanupJob_Run_DeletesOlderThanRetention(t *testing.T) {
	var buf bytes.Buffer
	store := &mockDeleter{n: 0}
	job := NewCleanupJob(store, 2*time.Hour, newTestLogger(&buf))
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if store.called != 1 {
		t.Fatalf("DeleteStale calls = %d, want 1", store.called)
	}
	if want := now.Add(-2 * time.Hour); !store.before.Equal(want) {
		t.Errorf("before = %v, want %v", store.before, want)
	}
}

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{n: 42}, time.Hour, newTestLogger(&buf))

	_ = job.Run(context.Background())

	if !logHas(&buf, "deleted_count", float64(42)) {
		t.Errorf("ログに deleted_count=42 が記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_RecordsPurgedCount(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	job := NewCleanupJob(&mockDeleter{n: 7}, time.Hour, newTestLogger(&buf))
	job.Recorder = rec

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}
	if len(rec.counts) != 1 || rec.counts[0] != 7 {
		t.Errorf("recorded = %v, want [7]", rec.counts)
	}
}

func TestCleanupJob_Run_ReturnsErrorOnStoreFailure(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{err: sql.ErrConnDone}, time.Hour, newTestLogger(&buf))

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("Run() はエラーを返すべき")
	}
	if !strings.Contains(buf.String(), "セッションクリーンアップジョブの実行に失敗しました") {
		t.Errorf("エラーログが出力されていない: %s", buf.String())
	}
}

func TestCleanupJob_Loop_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	store := &mockDeleter{}
	job := NewCleanupJob(store, time.Hour, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Loop(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not return after cancel")
	}
	if store.called < 1 {
		t.Error("Loop must run once immediately")
	}
}

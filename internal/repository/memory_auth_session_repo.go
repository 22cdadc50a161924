package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/umarket/internal/model"
)

// MemoryAuthSessionRepo はプロセス内メモリにIdPセッションを保持するリポジトリ。
// DATABASE_URL未設定時の開発用。プロセス再起動で全セッションが失われる。
type MemoryAuthSessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	session   model.Session
	updatedAt time.Time
}

// NewMemoryAuthSessionRepo はMemoryAuthSessionRepoを生成する。
func NewMemoryAuthSessionRepo() *MemoryAuthSessionRepo {
	return &MemoryAuthSessionRepo{
		sessions: make(map[string]memoryEntry),
		now:      time.Now,
	}
}

// Load は指定ブラウザIDのセッションのコピーを返す。見つからない場合はnilを返す。
func (r *MemoryAuthSessionRepo) Load(_ context.Context, browserID string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[browserID]
	if !ok {
		return nil, nil
	}
	s := e.session
	if e.session.User != nil {
		u := *e.session.User
		s.User = &u
	}
	return &s, nil
}

// Save はセッションのコピーを保存する。
func (r *MemoryAuthSessionRepo) Save(_ context.Context, browserID string, session *model.Session) error {
	s := *session
	if session.User != nil {
		u := *session.User
		s.User = &u
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[browserID] = memoryEntry{session: s, updatedAt: r.now()}
	return nil
}

// Delete は指定ブラウザIDのセッションを削除する。
func (r *MemoryAuthSessionRepo) Delete(_ context.Context, browserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, browserID)
	return nil
}

// DeleteStale は更新がbeforeより古いセッションを削除する。
func (r *MemoryAuthSessionRepo) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.sessions {
		if e.updatedAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var _ AuthSessionRepository = (*MemoryAuthSessionRepo)(nil)

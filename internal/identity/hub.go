package identity

import (
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/umarket/internal/model"
)

// Event はセッション状態変更イベントの種別。
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Listener は状態変更イベントを受け取る関数。
// サインアウト時のsessionはnil。
type Listener func(event Event, session *model.Session)

// Hub はブラウザID単位で状態変更イベントを配信する。
// 同じブラウザから同時に処理中の複数リクエスト（別タブ）が互いの変更を受け取る。
// 同一ブラウザのトークンリフレッシュの重複実行もここで抑止する。
type Hub struct {
	mu        sync.Mutex
	listeners map[string]map[uint64]Listener
	nextID    uint64
	refresh   singleflight.Group
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[string]map[uint64]Listener),
	}
}

// Subscribe はkeyのイベント購読を登録し、解除関数を返す。
// 解除関数は複数回呼び出しても安全。
func (h *Hub) Subscribe(key string, fn Listener) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.listeners[key] == nil {
		h.listeners[key] = make(map[uint64]Listener)
	}
	h.listeners[key][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners[key], id)
			if len(h.listeners[key]) == 0 {
				delete(h.listeners, key)
			}
		})
	}
}

// Publish はkeyの全購読者にイベントを配信する。
// 購読者はロックの外で登録順に呼び出される。
func (h *Hub) Publish(key string, event Event, session *model.Session) {
	h.mu.Lock()
	subs := h.listeners[key]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	fns := make([]Listener, 0, len(subs))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}

// Subscribers はkeyの購読者数を返す。
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[key])
}

// Package search はブラウザ単位の検索リクエストをデバウンスし、
// 古いリクエストの応答を破棄する。
package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/umarket/internal/model"
)

// DefaultDelay は入力が落ち着くまで待つ時間。
const DefaultDelay = 350 * time.Millisecond

var (
	// ErrSuperseded は待機中に新しい検索に置き換えられた場合のエラー。ネットワーク呼び出しは発生しない。
	ErrSuperseded = errors.New("search superseded by a newer query")
	// ErrStale は応答を受け取った時点で、より新しいリクエストが発行済みだった場合のエラー。
	ErrStale = errors.New("search response is stale")
)

// Fetcher は検索を実行する関数。
type Fetcher func(ctx context.Context, query string) ([]model.Listing, error)

// Timer は待機用タイマー。テストで差し替えられるように抽象化している。
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// Recorder は検索の結果（issued / superseded / stale）を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordSearch(outcome string)
}

// Option はDebouncerの任意設定。
type Option func(*Debouncer)

// WithTimer はタイマーの生成関数を差し替える。
func WithTimer(fn func(time.Duration) Timer) Option {
	return func(d *Debouncer) {
		d.newTimer = fn
	}
}

// WithRecorder は結果の記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(d *Debouncer) {
		d.recorder = r
	}
}

// keyState はブラウザ1つ分の検索状態。
type keyState struct {
	// pending は待機中の検索を取り消すためのチャネル。
	pending chan struct{}
	// issued は最後に発行したリクエストID。単調増加する。
	issued   uint64
	inflight int
}

// Debouncer はキー（ブラウザ）単位で検索をデバウンスする。
type Debouncer struct {
	delay    time.Duration
	fetch    Fetcher
	newTimer func(time.Duration) Timer
	recorder Recorder

	mu   sync.Mutex
	keys map[string]*keyState
}

// NewDebouncer はDebouncerを生成する。delayが0以下の場合はDefaultDelayを使う。
func NewDebouncer(fetch Fetcher, delay time.Duration, opts ...Option) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	d := &Debouncer{
		delay: delay,
		fetch: fetch,
		newTimer: func(d time.Duration) Timer {
			return realTimer{t: time.NewTimer(d)}
		},
		keys: make(map[string]*keyState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Search はdelay経過後に検索を実行する。
// 待機中に同じキーで新しい検索が呼ばれた場合はErrSupersededを返す。
// 応答の受信時により新しいリクエストが発行済みの場合はErrStaleを返す。
// 空白のみのクエリは空の結果を返し、待機中・実行中の検索を無効にする。
func (d *Debouncer) Search(ctx context.Context, key, query string) ([]model.Listing, error) {
	query = strings.TrimSpace(query)

	d.mu.Lock()
	st := d.state(key)
	if st.pending != nil {
		close(st.pending)
		st.pending = nil
	}
	if query == "" {
		// 実行中の応答を古いものとして扱わせる
		st.issued++
		d.cleanup(key, st)
		d.mu.Unlock()
		return []model.Listing{}, nil
	}
	cancelled := make(chan struct{})
	st.pending = cancelled
	d.mu.Unlock()

	timer := d.newTimer(d.delay)
	select {
	case <-timer.C():
	case <-cancelled:
		timer.Stop()
		d.record("superseded")
		return nil, ErrSuperseded
	case <-ctx.Done():
		timer.Stop()
		d.mu.Lock()
		if st.pending == cancelled {
			st.pending = nil
			d.cleanup(key, st)
		}
		d.mu.Unlock()
		return nil, ctx.Err()
	}

	d.mu.Lock()
	if st.pending != cancelled {
		// タイマー発火と同時に置き換えられた
		d.mu.Unlock()
		d.record("superseded")
		return nil, ErrSuperseded
	}
	st.pending = nil
	st.issued++
	id := st.issued
	st.inflight++
	d.mu.Unlock()
	d.record("issued")

	results, err := d.fetch(ctx, query)

	d.mu.Lock()
	st.inflight--
	latest := st.issued == id
	d.cleanup(key, st)
	d.mu.Unlock()

	if !latest {
		d.record("stale")
		return nil, ErrStale
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Pending は待機中または実行中の検索があるキーの数を返す。
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

func (d *Debouncer) state(key string) *keyState {
	st, ok := d.keys[key]
	if !ok {
		st = &keyState{}
		d.keys[key] = st
	}
	return st
}

// cleanup は待機中も実行中もないキーを破棄する。d.muを保持して呼び出すこと。
func (d *Debouncer) cleanup(key string, st *keyState) {
	if st.pending == nil && st.inflight == 0 && d.keys[key] == st {
		delete(d.keys, key)
	}
}

func (d *Debouncer) record(outcome string) {
	if d.recorder != nil {
		d.recorder.RecordSearch(outcome)
	}
}

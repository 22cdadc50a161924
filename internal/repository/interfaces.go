// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/umarket/internal/model"
)

// AuthSessionRepository はブラウザ単位のIdPセッションの永続化インターフェース。
// identity.SessionStoreを満たす。
type AuthSessionRepository interface {
	// Load は指定ブラウザIDのセッションを取得する。見つからない場合はnilを返す。
	Load(ctx context.Context, browserID string) (*model.Session, error)
	// Save はセッションを作成または置き換える。
	Save(ctx context.Context, browserID string, session *model.Session) error
	// Delete は指定ブラウザIDのセッションを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, browserID string) error
	// DeleteStale はupdated_atがbeforeより古いセッションを削除し、削除件数を返す。
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

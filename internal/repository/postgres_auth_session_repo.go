package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/umarket/internal/model"
)

// PostgresAuthSessionRepo はPostgreSQLを使用したIdPセッションリポジトリ。
type PostgresAuthSessionRepo struct {
	db *sql.DB
}

// NewPostgresAuthSessionRepo はPostgresAuthSessionRepoを生成する。
func NewPostgresAuthSessionRepo(db *sql.DB) *PostgresAuthSessionRepo {
	return &PostgresAuthSessionRepo{db: db}
}

// Load は指定ブラウザIDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresAuthSessionRepo) Load(ctx context.Context, browserID string) (*model.Session, error) {
	var (
		session   model.Session
		userData  []byte
		expiresAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, user_data, expires_at
		 FROM auth_sessions
		 WHERE id = $1`,
		browserID,
	).Scan(&session.AccessToken, &session.RefreshToken, &session.TokenType, &userData, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth session: %w", err)
	}

	var user model.UserIdentity
	if err := json.Unmarshal(userData, &user); err != nil {
		return nil, fmt.Errorf("failed to decode auth session user: %w", err)
	}
	session.User = &user
	if expiresAt.Valid {
		session.ExpiresAt = expiresAt.Time
	}

	return &session, nil
}

// Save はセッションを作成または置き換える。
func (r *PostgresAuthSessionRepo) Save(ctx context.Context, browserID string, session *model.Session) error {
	if session == nil || session.User == nil {
		return fmt.Errorf("auth session without user cannot be saved")
	}
	userData, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("failed to encode auth session user: %w", err)
	}

	var expiresAt sql.NullTime
	if !session.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: session.ExpiresAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, access_token, refresh_token, token_type, user_data, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   token_type = EXCLUDED.token_type,
		   user_data = EXCLUDED.user_data,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = now()`,
		browserID, session.AccessToken, session.RefreshToken, session.TokenType, userData, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// Delete は指定ブラウザIDのセッションを削除する。
func (r *PostgresAuthSessionRepo) Delete(ctx context.Context, browserID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE id = $1`,
		browserID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}

// DeleteStale はupdated_atがbeforeより古いセッションを削除する。
func (r *PostgresAuthSessionRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale auth sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted auth sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AuthSessionRepository = (*PostgresAuthSessionRepo)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/speechcoach/internal/model"
)

// PostgresLoginSessionRepo はPostgreSQLを使用したログインセッションリポジトリ。
type PostgresLoginSessionRepo struct {
	db *sql.DB
}

// NewPostgresLoginSessionRepo はPostgresLoginSessionRepoを生成する。
func NewPostgresLoginSessionRepo(db *sql.DB) *PostgresLoginSessionRepo {
	return &PostgresLoginSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresLoginSessionRepo) FindByID(ctx context.Context, id string) (*model.LoginSession, error) {
	session := &model.LoginSession{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM login_sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find login session: %w", err)
	}

	return session, nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresLoginSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM login_sessions WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired login sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ LoginSessionRepository = (*PostgresLoginSessionRepo)(nil)

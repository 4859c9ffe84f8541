package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/speechcoach/internal/model"
)

// PostgresSpeechSessionRepo はPostgreSQLを使用したスピーチセッションリポジトリ。
type PostgresSpeechSessionRepo struct {
	db *sql.DB
}

// NewPostgresSpeechSessionRepo はPostgresSpeechSessionRepoを生成する。
func NewPostgresSpeechSessionRepo(db *sql.DB) *PostgresSpeechSessionRepo {
	return &PostgresSpeechSessionRepo{db: db}
}

// FindByIDForUser は指定ユーザーが所有するセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSpeechSessionRepo) FindByIDForUser(ctx context.Context, userID, id string) (*model.SpeechSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+sessionFrom+` WHERE s.id = $1 AND s.user_id = $2`,
		id, userID,
	)

	session, err := scanSpeechSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	return session, nil
}

// List は絞り込み条件に一致するセッションを指定順で取得する。
func (r *PostgresSpeechSessionRepo) List(
	ctx context.Context,
	filter model.SessionFilter,
	ordering model.SessionOrdering,
	limit, offset int,
) ([]*model.SpeechSession, error) {
	where, args := buildSessionWhere(filter)
	query := `SELECT ` + sessionColumns + sessionFrom + where + buildSessionOrderBy(ordering)

	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("セッション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sessions []*model.SpeechSession
	for rows.Next() {
		s, err := scanSpeechSession(rows)
		if err != nil {
			return nil, fmt.Errorf("セッション行の読み取りに失敗しました: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("セッション一覧の走査に失敗しました: %w", err)
	}

	return sessions, nil
}

// Count は絞り込み条件に一致するセッション数を返す。
func (r *PostgresSpeechSessionRepo) Count(ctx context.Context, filter model.SessionFilter) (int, error) {
	where, args := buildSessionWhere(filter)

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*)`+sessionFrom+where,
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("セッション数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CountByStatus はユーザーのセッション数をステータス別に返す。
func (r *PostgresSpeechSessionRepo) CountByStatus(ctx context.Context, userID string) (map[model.SessionStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, count(*) FROM speech_sessions WHERE user_id = $1 GROUP BY status`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ステータス別件数の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ステータス別件数の読み取りに失敗しました: %w", err)
		}
		counts[model.SessionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ステータス別件数の走査に失敗しました: %w", err)
	}

	return counts, nil
}

// Create はセッションを作成する。
func (r *PostgresSpeechSessionRepo) Create(ctx context.Context, s *model.SpeechSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO speech_sessions (id, user_id, date, duration, filler_count, pacing_analysis,
		                              transcription, confidence_score, status, audio_file,
		                              created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, s.Date, s.Duration, s.FillerCount, s.PacingAnalysis,
		s.Transcription, nullFloat(s.ConfidenceScore), string(s.Status), s.AudioFile,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はセッションの可変フィールドを上書き更新する。
// id・user_id・date・created_at は変更しない。
func (r *PostgresSpeechSessionRepo) Update(ctx context.Context, s *model.SpeechSession) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE speech_sessions SET
		    duration = $3, filler_count = $4, pacing_analysis = $5, transcription = $6,
		    confidence_score = $7, status = $8, audio_file = $9, updated_at = $10
		 WHERE id = $1 AND user_id = $2`,
		s.ID, s.UserID, s.Duration, s.FillerCount, s.PacingAnalysis, s.Transcription,
		nullFloat(s.ConfidenceScore), string(s.Status), s.AudioFile, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("セッションの更新に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// Delete は指定ユーザーが所有するセッションを削除する。
func (r *PostgresSpeechSessionRepo) Delete(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM speech_sessions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// BulkUpdate は所有するセッション群にパッチを1文で適用する。
// 他ユーザーのIDは条件に一致しないため無視される。
func (r *PostgresSpeechSessionRepo) BulkUpdate(ctx context.Context, userID string, ids []string, patch model.SessionPatch) (int64, error) {
	set, setArgs := buildPatchSet(patch, 2)
	args := append([]interface{}{userID, pq.Array(ids)}, setArgs...)

	result, err := r.db.ExecContext(ctx,
		`UPDATE speech_sessions SET `+set+` WHERE user_id = $1 AND id = ANY($2::uuid[])`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("セッションの一括更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// BulkDelete は所有するセッション群を1文で削除する。
func (r *PostgresSpeechSessionRepo) BulkDelete(ctx context.Context, userID string, ids []string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM speech_sessions WHERE user_id = $1 AND id = ANY($2::uuid[])`,
		userID, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("セッションの一括削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Aggregates はユーザーの統計値をFILTER句で1回のクエリにまとめて集計する。
func (r *PostgresSpeechSessionRepo) Aggregates(ctx context.Context, userID string, windows AggregateWindows) (*SessionAggregates, error) {
	agg := &SessionAggregates{}
	err := r.db.QueryRowContext(ctx,
		`SELECT
		    count(*),
		    COALESCE(sum(duration), 0),
		    COALESCE(sum(filler_count) FILTER (WHERE status = 'analyzed'), 0),
		    COALESCE(sum(duration) FILTER (WHERE status = 'analyzed'), 0),
		    count(*) FILTER (WHERE date >= $2),
		    COALESCE(sum(filler_count) FILTER (WHERE date >= $2), 0),
		    count(*) FILTER (WHERE date >= $3 AND date < $2),
		    COALESCE(sum(filler_count) FILTER (WHERE date >= $3 AND date < $2), 0)
		 FROM speech_sessions
		 WHERE user_id = $1`,
		userID, windows.RecentFrom, windows.PreviousFrom,
	).Scan(
		&agg.TotalSessions, &agg.TotalDuration,
		&agg.AnalyzedFillerWords, &agg.AnalyzedDuration,
		&agg.RecentSessions, &agg.RecentFillerSum,
		&agg.PreviousSessions, &agg.PreviousFillerSum,
	)
	if err != nil {
		return nil, fmt.Errorf("統計値の集計に失敗しました: %w", err)
	}
	return agg, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSpeechSession(row rowScanner) (*model.SpeechSession, error) {
	s := &model.SpeechSession{}
	var confidence sql.NullFloat64
	var status string

	if err := row.Scan(
		&s.ID, &s.UserID, &s.UserEmail, &s.Date, &s.Duration, &s.FillerCount,
		&s.PacingAnalysis, &s.Transcription, &confidence, &status, &s.AudioFile,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.Status = model.SessionStatus(status)
	if confidence.Valid {
		v := confidence.Float64
		s.ConfidenceScore = &v
	}
	return s, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullFloat は*float64をsql.NullFloat64に変換する。nilはNULLとする。
func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// compile-time interface check
var _ SpeechSessionRepository = (*PostgresSpeechSessionRepo)(nil)

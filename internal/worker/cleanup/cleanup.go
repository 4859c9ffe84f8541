// Package cleanup は期限切れログインセッションの自動削除ジョブを提供する。
// 起動直後に1回、その後は一定間隔で login_sessions の期限切れ行を削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの既定の実行間隔。
const DefaultInterval = 24 * time.Hour

// ExpiredSessionDeleter は期限切れセッションの削除を抽象化するインターフェース。
// repository.LoginSessionRepository が満たす。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れログインセッションの削除ジョブ。
// 削除対象がない場合もエラーにならない（冪等）。
type CleanupJob struct {
	sessions ExpiredSessionDeleter
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions ExpiredSessionDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Run は期限切れのログインセッションを1回削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("ログインセッションのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("ログインセッションのクリーンアップに失敗: %w", err)
	}

	j.logger.Info("ログインセッションのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return deleted, nil
}

// Start は起動直後に1回実行し、以降はintervalごとにRunを実行する。
// コンテキストがキャンセルされるまで戻らない。intervalが0以下の場合は既定値を使う。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ済み
	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}

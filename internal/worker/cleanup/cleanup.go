// Package cleanup は保存済みIdPセッションの自動削除ジョブを提供する。
// 一定期間更新のないブラウザのセッション（放置されたブラウザ）を定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StaleSessionDeleter は古いセッションの削除を抽象化するインターフェース。
// repository.AuthSessionRepositoryが満たす。
type StaleSessionDeleter interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// PurgeRecorder は削除件数を記録するインターフェース。
// metrics.Collectorが満たす。
type PurgeRecorder interface {
	RecordSessionsPurged(count int64)
}

// CleanupJob は保持期間を超過したIdPセッションの削除ジョブ。
// 冪等な削除処理のため、何度実行しても結果は変わらない。
type CleanupJob struct {
	store     StaleSessionDeleter
	logger    *slog.Logger
	now       func() time.Time
	Retention time.Duration // セッションの保持期間（デフォルト: 24時間）
	Recorder  PurgeRecorder // 任意
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionが0以下の場合は24時間とする。
func NewCleanupJob(store StaleSessionDeleter, retention time.Duration, logger *slog.Logger) *CleanupJob {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &CleanupJob{
		store:     store,
		logger:    logger,
		now:       time.Now,
		Retention: retention,
	}
}

// Run はRetentionより長く更新されていないセッションを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.Add(-j.Retention)

	deletedCount, err := j.store.DeleteStale(ctx, before)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	if j.Recorder != nil {
		j.Recorder.RecordSessionsPurged(deletedCount)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Loop は起動直後に1回、その後interval毎にRunを実行する。ctxがキャンセルされるまで戻らない。
// 実行時のエラーはログに記録して次回の実行を待つ。
func (j *CleanupJob) Loop(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

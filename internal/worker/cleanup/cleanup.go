// Package cleanup は再取得失敗記録の自動削除ジョブを提供する。
// 保持期間（デフォルト7日）を超過した記録を日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は失敗記録のデフォルト保持期間。
const DefaultRetention = 7 * 24 * time.Hour

// DefaultInterval はジョブのデフォルト実行間隔。
const DefaultInterval = 24 * time.Hour

// FailurePruner は指定時刻より前の失敗記録を削除する能力。
type FailurePruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CleanupJob は保持期間を超過した失敗記録の自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	failures  FailurePruner
	logger    *slog.Logger
	Retention time.Duration // 失敗記録の保持期間
	nowFunc   func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionが0以下の場合はDefaultRetentionを使用する。
func NewCleanupJob(failures FailurePruner, retention time.Duration, logger *slog.Logger) *CleanupJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &CleanupJob{
		failures:  failures,
		logger:    logger,
		Retention: retention,
		nowFunc:   time.Now,
	}
}

// Run は保持期間を超過した失敗記録を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.nowFunc().Add(-j.Retention)

	deletedCount, err := j.failures.DeleteBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("失敗記録クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("失敗記録クリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("失敗記録クリーンアップジョブが完了しました",
		slog.Int("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

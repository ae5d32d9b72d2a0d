package reconcile

import (
	"context"
	"log/slog"

	"github.com/hitoshi/mediahook/internal/model"
)

// BatchResult はHandleBatchの処理結果。
type BatchResult struct {
	Accepted int
	Skipped  int
	Rejected int
}

// Reconciler は検証済みの通知バッチを受け取り、エントリごとにタスクを投入する。
// エントリは互いに独立しており、バッチ単位の原子性は持たない。
type Reconciler struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(scheduler *Scheduler, logger *slog.Logger) *Reconciler {
	return &Reconciler{scheduler: scheduler, logger: logger}
}

// HandleBatch はバッチ内の各通知について遅延再取得タスクをスケジュールする。
// 署名検証に成功したバッチに対してのみ呼び出すこと。
// 未知の種別はスキップしてログに出力する。
func (r *Reconciler) HandleBatch(ctx context.Context, batch *model.NotificationBatch) BatchResult {
	var result BatchResult
	for _, entry := range batch.Entries {
		kind, ok := model.ParseTopicKind(string(entry.Object))
		if !ok || entry.ObjectID == "" {
			result.Skipped++
			r.logger.WarnContext(ctx, "未知の通知をスキップしました",
				slog.String("object", string(entry.Object)),
				slog.String("object_id", entry.ObjectID),
			)
			continue
		}

		if _, err := r.scheduler.Schedule(kind, entry.ObjectID); err != nil {
			result.Rejected++
			continue
		}
		result.Accepted++
	}
	return result
}

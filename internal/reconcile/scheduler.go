// Package reconcile は検証済み更新通知の遅延再取得を行う。
// 通知ごとにタスクを生成し、遅延・並列数制御・リトライを経てトピックキャッシュを更新する。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/hitoshi/mediahook/internal/metrics"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/repository"
)

// デフォルト値
const (
	DefaultDelay        = 2 * time.Second
	DefaultWorkers      = 4
	DefaultQueueSize    = 1000
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = time.Second
	maxRetryDelay       = 30 * time.Second
	failureWriteTimeout = 5 * time.Second
)

// 失敗理由
const (
	ReasonQueueFull    = "queue_full"
	ReasonShuttingDown = "shutting_down"
	ReasonExhausted    = "exhausted"
	ReasonPermanent    = "permanent"
	ReasonAborted      = "aborted"
)

// ErrQueueFull はキューが満杯でタスクを受け付けられないことを表す。
var ErrQueueFull = errors.New("reconcile queue is full")

// ErrClosed はシャットダウン後にタスクを受け付けようとしたことを表す。
var ErrClosed = errors.New("reconcile scheduler is closed")

// Processor はトピック1件の再取得を行う能力。
type Processor interface {
	ProcessUpdate(ctx context.Context, kind model.TopicKind, objectID string) error
}

// HandlerFunc は種別ごとの再取得処理。
type HandlerFunc func(ctx context.Context, objectID string) error

// Task は1件の遅延再取得タスク。
type Task struct {
	ID        string
	Kind      model.TopicKind
	ObjectID  string
	NotBefore time.Time
	Attempts  int
}

// Options はSchedulerの設定。0値の項目はデフォルト値を使用する。
type Options struct {
	Delay       time.Duration
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// Scheduler は有界なインメモリの遅延タスクキュー。
// 未完了タスク数はQueueSize、同時実行数はWorkersで制限する（semaphoreパターン）。
// 遅延はワーカー内のタイマー待機で実現し、呼び出し元をブロックしない。
// Shutdown時に完了できなかったタスクは失敗として記録する。
type Scheduler struct {
	handlers map[model.TopicKind]HandlerFunc
	failures repository.FailureRepository
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	opts     Options

	slots chan struct{} // 未完了タスク数の上限
	sem   chan struct{} // 同時実行数の上限

	mu      sync.Mutex
	closed  bool
	pending int
	wg      sync.WaitGroup

	runCtx context.Context
	abort  context.CancelFunc

	nowFunc func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// 全てのトピック種別に対してprocessorを呼び出すハンドラーを登録する。
func NewScheduler(
	processor Processor,
	failures repository.FailureRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Scheduler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	opts = opts.withDefaults()

	handlers := make(map[model.TopicKind]HandlerFunc, len(model.AllTopicKinds()))
	for _, kind := range model.AllTopicKinds() {
		handlers[kind] = func(ctx context.Context, objectID string) error {
			return processor.ProcessUpdate(ctx, kind, objectID)
		}
	}

	runCtx, abort := context.WithCancel(context.Background())
	return &Scheduler{
		handlers: handlers,
		failures: failures,
		metrics:  collector,
		logger:   logger,
		opts:     opts,
		slots:    make(chan struct{}, opts.QueueSize),
		sem:      make(chan struct{}, opts.Workers),
		runCtx:   runCtx,
		abort:    abort,
		nowFunc:  time.Now,
	}
}

// Schedule はタスクを生成してキューに投入する。呼び出し元はブロックしない。
// キュー満杯またはシャットダウン後の場合はタスクを失敗として記録しエラーを返す。
func (s *Scheduler) Schedule(kind model.TopicKind, objectID string) (*Task, error) {
	if _, ok := s.handlers[kind]; !ok {
		return nil, fmt.Errorf("未知のトピック種別です: %s", kind)
	}

	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		ObjectID:  objectID,
		NotBefore: s.nowFunc().Add(s.opts.Delay),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.recordFailure(task, ReasonShuttingDown, ErrClosed)
		return nil, ErrClosed
	}
	select {
	case s.slots <- struct{}{}:
	default:
		s.mu.Unlock()
		s.recordFailure(task, ReasonQueueFull, ErrQueueFull)
		return nil, ErrQueueFull
	}
	s.pending++
	s.metrics.SetQueueDepth(s.pending)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.RecordTaskScheduled(string(kind))
	s.logger.Debug("再取得タスクをスケジュールしました",
		slog.String("task_id", task.ID),
		slog.String("kind", string(kind)),
		slog.String("object_id", objectID),
		slog.Time("not_before", task.NotBefore),
	)

	go s.run(task)
	return task, nil
}

// Pending は未完了タスク数を返す。
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler) run(task *Task) {
	defer s.done()

	if wait := task.NotBefore.Sub(s.nowFunc()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.runCtx.Done():
			timer.Stop()
			s.recordFailure(task, ReasonAborted, s.runCtx.Err())
			return
		}
	}

	// semaphore取得
	select {
	case s.sem <- struct{}{}:
	case <-s.runCtx.Done():
		s.recordFailure(task, ReasonAborted, s.runCtx.Err())
		return
	}
	defer func() { <-s.sem }()

	start := s.nowFunc()
	handler := s.handlers[task.Kind]

	var lastErr error
	err := retry.Do(
		func() error {
			task.Attempts++
			lastErr = handler(s.runCtx, task.ObjectID)
			return lastErr
		},
		retry.Attempts(uint(s.opts.MaxAttempts)),
		retry.Delay(s.opts.RetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.Context(s.runCtx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("再取得タスクをリトライします",
				slog.String("task_id", task.ID),
				slog.String("kind", string(task.Kind)),
				slog.String("object_id", task.ObjectID),
				slog.Uint64("attempt", uint64(n)+1),
				slog.String("error", err.Error()),
			)
		}),
		retry.RetryIf(retryable),
	)

	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		reason := ReasonExhausted
		switch {
		case s.runCtx.Err() != nil:
			reason = ReasonAborted
		case !retryable(lastErr):
			reason = ReasonPermanent
		}
		s.recordFailure(task, reason, lastErr)
		return
	}

	s.metrics.RecordTaskCompleted(string(task.Kind), s.nowFunc().Sub(start))
	s.logger.Info("再取得タスクが完了しました",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("object_id", task.ObjectID),
		slog.Int("attempts", task.Attempts),
	)
}

func (s *Scheduler) done() {
	s.mu.Lock()
	s.pending--
	s.metrics.SetQueueDepth(s.pending)
	s.mu.Unlock()
	<-s.slots
	s.wg.Done()
}

// retryable は一時的な失敗のみリトライ対象とする。
func retryable(err error) bool {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// recordFailure は失敗をログに出力し、ストアに記録する。
// 記録自体の失敗はログのみで握りつぶす。
func (s *Scheduler) recordFailure(task *Task, reason string, cause error) {
	msg := reason
	if cause != nil {
		msg = cause.Error()
	}
	s.metrics.RecordTaskFailed(string(task.Kind), reason)
	s.logger.Error("再取得タスクが失敗しました",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("object_id", task.ObjectID),
		slog.String("reason", reason),
		slog.Int("attempts", task.Attempts),
		slog.String("error", msg),
	)

	if s.failures == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), failureWriteTimeout)
	defer cancel()
	if err := s.failures.Record(ctx, &model.ReconcileFailure{
		TaskID:   task.ID,
		Kind:     task.Kind,
		ObjectID: task.ObjectID,
		Attempts: task.Attempts,
		Reason:   reason + ": " + msg,
		FailedAt: s.nowFunc(),
	}); err != nil {
		s.logger.Error("再取得タスクの失敗記録に失敗しました",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Shutdown は新規タスクの受け付けを停止し、未完了タスクの完了を待つ。
// ctxの期限までに完了しなかったタスクは中断して失敗として記録する。
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.mu.Unlock()

	s.logger.Info("再取得スケジューラを停止します", slog.Int("pending", pending))

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.abort()
		s.logger.Info("再取得スケジューラを停止しました")
		return nil
	case <-ctx.Done():
		s.abort()
		<-drained
		s.logger.Warn("期限内に完了しなかった再取得タスクを中断しました")
		return ctx.Err()
	}
}

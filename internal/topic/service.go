// Package topic はトピックごとのキャッシュ（最新ウィンドウとminId）を管理する。
// 通知による再取得と閲覧時の取得の両方が ApplyFetch を経由してストアを更新する。
package topic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mediahook/internal/keylock"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/repository"
	"github.com/hitoshi/mediahook/internal/upstream"
)

// DefaultWindowSize はウィンドウに保持する最大件数のデフォルト値。
const DefaultWindowSize = 20

// Subscriber はトピックの購読を保証する能力。
type Subscriber interface {
	EnsureSubscribed(ctx context.Context, kind model.TopicKind, id string) (*model.Subscription, error)
}

// Service はトピックキャッシュの更新を行うサービス。
// 同一トピックへの書き込みは KeyLock で直列化する。
type Service struct {
	client     upstream.Client
	topics     repository.TopicRepository
	users      repository.UserRepository
	subscriber Subscriber
	logger     *slog.Logger
	locks      *keylock.KeyLock
	windowSize int
	nowFunc    func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// windowSizeが0以下の場合はDefaultWindowSizeを使用する。
func NewService(
	client upstream.Client,
	topics repository.TopicRepository,
	users repository.UserRepository,
	subscriber Subscriber,
	windowSize int,
	logger *slog.Logger,
) *Service {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Service{
		client:     client,
		topics:     topics,
		users:      users,
		subscriber: subscriber,
		logger:     logger,
		locks:      keylock.New(),
		windowSize: windowSize,
		nowFunc:    time.Now,
	}
}

// ProcessUpdate は1件の更新通知を処理する。
// 購読を保証し、minId以降のアイテムを上流から取得してキャッシュに反映する。
// 上流エラー時はキャッシュを変更せずにエラーを返す。
func (s *Service) ProcessUpdate(ctx context.Context, kind model.TopicKind, objectID string) error {
	current, err := s.topics.Find(ctx, kind, objectID)
	if err != nil {
		return fmt.Errorf("トピックの取得に失敗しました: %w", err)
	}
	if current == nil {
		current = &model.Topic{Kind: kind, ID: objectID}
	}

	if _, err := s.subscriber.EnsureSubscribed(ctx, kind, objectID); err != nil {
		// 購読できなくても取得は続行する
		s.logger.Warn("購読の保証に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("object_id", objectID),
			slog.String("error", err.Error()),
		)
	}

	items, page, err := s.Fetch(ctx, kind, objectID, current.MinID)
	if err != nil {
		s.logger.Error("上流からの取得に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("object_id", objectID),
			slog.String("min_id", current.MinID),
			slog.String("error", err.Error()),
		)
		return err
	}

	_, err = s.ApplyFetch(ctx, kind, objectID, items, page)
	return err
}

// Fetch はトピック種別に応じた上流クエリを実行する。
// ユーザーの場合は保存済みのアクセストークンを使用し、未登録ならmodel.ErrNotFoundを返す。
func (s *Service) Fetch(ctx context.Context, kind model.TopicKind, id, minID string) ([]model.MediaItem, model.Pagination, error) {
	switch kind {
	case model.TopicKindTag:
		return s.client.RecentByTag(ctx, id, minID)
	case model.TopicKindLocation:
		return s.client.RecentByLocation(ctx, id, minID)
	case model.TopicKindGeography:
		return s.client.RecentByGeography(ctx, id, minID)
	case model.TopicKindUser:
		user, err := s.users.FindByID(ctx, id)
		if err != nil {
			return nil, model.Pagination{}, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if user == nil {
			return nil, model.Pagination{}, fmt.Errorf("認証済みユーザー %s: %w", id, model.ErrNotFound)
		}
		return s.client.RecentByUser(ctx, user.ID, user.AccessToken, minID)
	default:
		return nil, model.Pagination{}, fmt.Errorf("未知のトピック種別です: %s", kind)
	}
}

// ApplyFetch は取得結果をトピックに反映して保存し、反映後のトピックを返す。
//
// 取得結果のカーソルが保存済みminIdより古い場合は遅れて届いた結果とみなし破棄する。
// カーソルをアイテムIDから導出した場合、minId以前のアイテムはウィンドウに含めない。
// 上流がページングカーソル（min_tag_idなど）を返した場合はアイテムを絞り込まない。
// タグのカーソルはメディアIDと別系列の値で、アイテムIDとは比較できないため、
// ウィンドウには取得結果をそのまま載せる。
// 反映すべきアイテムが無い場合は既存のウィンドウを維持する。
func (s *Service) ApplyFetch(ctx context.Context, kind model.TopicKind, id string, items []model.MediaItem, page model.Pagination) (*model.Topic, error) {
	unlock, err := s.locks.Lock(ctx, model.TopicKey(kind, id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.topics.Find(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("トピックの取得に失敗しました: %w", err)
	}
	if current == nil {
		current = &model.Topic{Kind: kind, ID: id}
	}

	cursor := page.MinID
	fromItems := false
	if cursor == "" && len(items) > 0 {
		cursor = model.CursorOf(items[0].ID)
		fromItems = true
	}

	if current.MinID != "" && cursor != "" && model.CompareCursor(cursor, current.MinID) < 0 {
		s.logger.Info("古い取得結果を破棄しました",
			slog.String("topic", current.Key()),
			slog.String("min_id", current.MinID),
			slog.String("cursor", cursor),
		)
		return current, nil
	}

	fresh := items
	if current.MinID != "" && fromItems {
		fresh = newerThan(items, current.MinID)
	}

	next := *current
	if len(fresh) > 0 {
		if len(fresh) > s.windowSize {
			fresh = fresh[:s.windowSize]
		}
		next.Window = append([]model.MediaItem(nil), fresh...)
	}
	if cursor != "" {
		next.MinID = cursor
	}
	if len(fresh) == 0 && next.MinID == current.MinID && !current.UpdatedAt.IsZero() {
		return current, nil
	}
	next.UpdatedAt = s.nowFunc()

	if err := s.topics.Save(ctx, &next); err != nil {
		return nil, fmt.Errorf("トピックの保存に失敗しました: %w", err)
	}

	s.logger.Info("トピックを更新しました",
		slog.String("topic", next.Key()),
		slog.String("min_id", next.MinID),
		slog.Int("window", len(next.Window)),
		slog.Int("fetched", len(items)),
	)
	return &next, nil
}

// Get は保存済みのトピックを返す。見つからない場合はnilを返す。
func (s *Service) Get(ctx context.Context, kind model.TopicKind, id string) (*model.Topic, error) {
	return s.topics.Find(ctx, kind, id)
}

func newerThan(items []model.MediaItem, minID string) []model.MediaItem {
	out := make([]model.MediaItem, 0, len(items))
	for _, it := range items {
		if model.CompareCursor(model.CursorOf(it.ID), minID) > 0 {
			out = append(out, it)
		}
	}
	return out
}

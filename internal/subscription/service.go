// Package subscription は上流プラットフォームへの購読管理を提供する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mediahook/internal/keylock"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/repository"
	"github.com/hitoshi/mediahook/internal/upstream"
)

// UserScopeID はユーザー種別の購読キー。
// ユーザー購読は個別ユーザーではなく認可済みユーザー全体に対して1件だけ作成する。
const UserScopeID = "all"

// ErrGeographyUnknown はメタデータの無いジオグラフィを購読しようとした場合のエラー。
// ジオグラフィは緯度経度から作成するため、IDだけでは購読できない。
var ErrGeographyUnknown = errors.New("geography metadata not found")

// GeographyRequest はジオグラフィ購読の作成リクエスト。
type GeographyRequest struct {
	Name      string
	Latitude  float64
	Longitude float64
	Radius    int
}

// DefaultRadius は半径未指定時の値（メートル）。
const DefaultRadius = 1000

// Manager は購読の冪等な作成と一括解除を行うサービス。
// 同一 (kind, id) の作成は KeyLock で直列化する。
type Manager struct {
	client  upstream.Client
	subRepo repository.SubscriptionRepository
	geoRepo repository.GeographyRepository
	locRepo repository.LocationRepository
	store   repository.KVStore
	logger  *slog.Logger
	locks   *keylock.KeyLock
	nowFunc func() time.Time
}

// NewManager はManagerの新しいインスタンスを生成する。
func NewManager(
	client upstream.Client,
	store repository.KVStore,
	subRepo repository.SubscriptionRepository,
	geoRepo repository.GeographyRepository,
	locRepo repository.LocationRepository,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		client:  client,
		subRepo: subRepo,
		geoRepo: geoRepo,
		locRepo: locRepo,
		store:   store,
		logger:  logger,
		locks:   keylock.New(),
		nowFunc: time.Now,
	}
}

// EnsureSubscribed はトピックの購読が存在することを保証する。
// 既存の購読レコードがあれば上流の購読は作成せずにそれを返す。
// ロケーションの場合は購読と併せてメタデータを取得・保存する。
// メタデータが未保存のまま購読だけが存在する場合は、メタデータのみ再取得する。
func (m *Manager) EnsureSubscribed(ctx context.Context, kind model.TopicKind, id string) (*model.Subscription, error) {
	if kind == model.TopicKindUser {
		id = UserScopeID
	}
	key := model.SubscriptionKey(kind, id)

	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := m.subRepo.Find(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if existing != nil {
		if kind == model.TopicKindLocation {
			if err := m.backfillLocation(ctx, id); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	var sub *model.Subscription
	switch kind {
	case model.TopicKindTag, model.TopicKindUser:
		sub, err = m.subscribe(ctx, upstream.SubscribeRequest{Kind: kind, ObjectID: id}, id)
	case model.TopicKindLocation:
		sub, err = m.subscribeLocation(ctx, id)
	case model.TopicKindGeography:
		sub, err = m.adoptGeography(ctx, id)
	default:
		return nil, fmt.Errorf("未知のトピック種別です: %s", kind)
	}
	if err != nil {
		return nil, err
	}

	created, err := m.subRepo.CreateIfAbsent(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}
	if created {
		m.logger.Info("購読を作成しました",
			slog.String("kind", string(kind)),
			slog.String("object_id", id),
			slog.String("upstream_id", sub.UpstreamID),
		)
	}
	return sub, nil
}

func (m *Manager) subscribe(ctx context.Context, req upstream.SubscribeRequest, objectID string) (*model.Subscription, error) {
	handle, err := m.client.Subscribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("購読の作成に失敗しました (%s:%s): %w", req.Kind, objectID, err)
	}
	return &model.Subscription{
		Kind:       req.Kind,
		ObjectID:   objectID,
		UpstreamID: handle.ID,
		CreatedAt:  m.nowFunc(),
	}, nil
}

func (m *Manager) subscribeLocation(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := m.subscribe(ctx, upstream.SubscribeRequest{Kind: model.TopicKindLocation, ObjectID: id}, id)
	if err != nil {
		return nil, err
	}
	if err := m.loadLocation(ctx, id); err != nil {
		return nil, err
	}
	return sub, nil
}

// backfillLocation は購読済みロケーションのメタデータが欠けている場合に取得し直す。
func (m *Manager) backfillLocation(ctx context.Context, id string) error {
	loc, err := m.locRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ロケーション情報の取得に失敗しました: %w", err)
	}
	if loc != nil {
		return nil
	}
	return m.loadLocation(ctx, id)
}

// loadLocation は上流からロケーション情報を取得して保存する。
// 上流の失敗はログのみで購読の成否には影響させない。
func (m *Manager) loadLocation(ctx context.Context, id string) error {
	loc, err := m.client.LocationInfo(ctx, id)
	if err != nil {
		m.logger.Warn("ロケーション情報の取得に失敗しました",
			slog.String("location_id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := m.locRepo.Save(ctx, loc); err != nil {
		return fmt.Errorf("ロケーション情報の保存に失敗しました: %w", err)
	}
	return nil
}

// adoptGeography は保存済みのジオグラフィメタデータから購読レコードを復元する。
func (m *Manager) adoptGeography(ctx context.Context, id string) (*model.Subscription, error) {
	geo, err := m.geoRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ジオグラフィの取得に失敗しました: %w", err)
	}
	if geo == nil {
		return nil, fmt.Errorf("%w: %s", ErrGeographyUnknown, id)
	}
	return &model.Subscription{
		Kind:       model.TopicKindGeography,
		ObjectID:   id,
		UpstreamID: id,
		CreatedAt:  m.nowFunc(),
	}, nil
}

// CreateGeography は緯度経度と半径からジオグラフィ購読を作成し、
// メタデータと購読レコードを保存する。
func (m *Manager) CreateGeography(ctx context.Context, req GeographyRequest) (*model.Geography, error) {
	if req.Radius <= 0 {
		req.Radius = DefaultRadius
	}
	if req.Name == "" {
		req.Name = "nearby"
	}

	handle, err := m.client.Subscribe(ctx, upstream.SubscribeRequest{
		Kind:      model.TopicKindGeography,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Radius:    req.Radius,
	})
	if err != nil {
		return nil, fmt.Errorf("ジオグラフィ購読の作成に失敗しました: %w", err)
	}
	if handle.ObjectID == "" {
		return nil, fmt.Errorf("%w: 購読レスポンスにobject_idが含まれていません", upstream.ErrQueryFailed)
	}

	geo := &model.Geography{
		ObjectID:  handle.ObjectID,
		Name:      req.Name,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Radius:    req.Radius,
		Raw:       handle.Raw,
	}
	if err := m.geoRepo.Save(ctx, geo); err != nil {
		return nil, fmt.Errorf("ジオグラフィの保存に失敗しました: %w", err)
	}

	if _, err := m.subRepo.CreateIfAbsent(ctx, &model.Subscription{
		Kind:       model.TopicKindGeography,
		ObjectID:   handle.ObjectID,
		UpstreamID: handle.ID,
		CreatedAt:  m.nowFunc(),
	}); err != nil {
		return nil, fmt.Errorf("購読の保存に失敗しました: %w", err)
	}

	m.logger.Info("ジオグラフィ購読を作成しました",
		slog.String("object_id", geo.ObjectID),
		slog.String("name", geo.Name),
		slog.Int("radius", geo.Radius),
	)
	return geo, nil
}

// UnsubscribeAll は上流の全購読を解除し、ストアを全消去する。
// 上流の解除に失敗した場合はストアを消去しない。
func (m *Manager) UnsubscribeAll(ctx context.Context) error {
	if err := m.client.UnsubscribeAll(ctx, "all"); err != nil {
		return fmt.Errorf("購読の一括解除に失敗しました: %w", err)
	}
	if err := m.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("ストアの消去に失敗しました: %w", err)
	}
	m.logger.Info("全購読を解除しストアを消去しました")
	return nil
}

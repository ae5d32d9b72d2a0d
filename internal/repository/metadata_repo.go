package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/mediahook/internal/model"
)

// KVGeographyRepo はKVStore上の地理領域リポジトリ。
type KVGeographyRepo struct {
	store KVStore
}

// NewKVGeographyRepo はKVGeographyRepoを生成する。
func NewKVGeographyRepo(store KVStore) *KVGeographyRepo {
	return &KVGeographyRepo{store: store}
}

// FindByID は地理領域を取得する。見つからない場合はnilを返す。
func (r *KVGeographyRepo) FindByID(ctx context.Context, objectID string) (*model.Geography, error) {
	geo := &model.Geography{}
	found, err := getJSON(ctx, r.store, NamespaceGeographies, objectID, geo)
	if err != nil || !found {
		return nil, err
	}
	return geo, nil
}

// Save は地理領域を上書き保存する。
func (r *KVGeographyRepo) Save(ctx context.Context, geo *model.Geography) error {
	return setJSON(ctx, r.store, NamespaceGeographies, geo.ObjectID, geo)
}

// KVLocationRepo はKVStore上のロケーションリポジトリ。
type KVLocationRepo struct {
	store KVStore
}

// NewKVLocationRepo はKVLocationRepoを生成する。
func NewKVLocationRepo(store KVStore) *KVLocationRepo {
	return &KVLocationRepo{store: store}
}

// FindByID はロケーションを取得する。見つからない場合はnilを返す。
func (r *KVLocationRepo) FindByID(ctx context.Context, id string) (*model.Location, error) {
	loc := &model.Location{}
	found, err := getJSON(ctx, r.store, NamespaceLocations, id, loc)
	if err != nil || !found {
		return nil, err
	}
	return loc, nil
}

// Save はロケーションを上書き保存する。
func (r *KVLocationRepo) Save(ctx context.Context, loc *model.Location) error {
	return setJSON(ctx, r.store, NamespaceLocations, loc.ID, loc)
}

// KVSubscriptionRepo はKVStore上の購読リポジトリ。
type KVSubscriptionRepo struct {
	store KVStore
}

// NewKVSubscriptionRepo はKVSubscriptionRepoを生成する。
func NewKVSubscriptionRepo(store KVStore) *KVSubscriptionRepo {
	return &KVSubscriptionRepo{store: store}
}

// Find は購読を取得する。見つからない場合はnilを返す。
func (r *KVSubscriptionRepo) Find(ctx context.Context, kind model.TopicKind, objectID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	found, err := getJSON(ctx, r.store, NamespaceSubscriptions, model.SubscriptionKey(kind, objectID), sub)
	if err != nil || !found {
		return nil, err
	}
	return sub, nil
}

// CreateIfAbsent は購読が存在しない場合のみ作成する。
func (r *KVSubscriptionRepo) CreateIfAbsent(ctx context.Context, sub *model.Subscription) (bool, error) {
	raw, err := json.Marshal(sub)
	if err != nil {
		return false, fmt.Errorf("購読レコードのエンコードに失敗しました: %w", err)
	}
	return r.store.SetIfAbsent(ctx, NamespaceSubscriptions, model.SubscriptionKey(sub.Kind, sub.ObjectID), raw)
}

// List は全購読をキー順で返す。
func (r *KVSubscriptionRepo) List(ctx context.Context) ([]*model.Subscription, error) {
	all, err := r.store.GetAll(ctx, NamespaceSubscriptions)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	subs := make([]*model.Subscription, 0, len(all))
	for _, k := range keys {
		sub := &model.Subscription{}
		if err := json.Unmarshal(all[k], sub); err != nil {
			return nil, fmt.Errorf("購読レコードのデコードに失敗しました (%s): %w", k, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// KVFailureRepo はKVStore上の失敗タスク記録リポジトリ。
type KVFailureRepo struct {
	store KVStore
}

// NewKVFailureRepo はKVFailureRepoを生成する。
func NewKVFailureRepo(store KVStore) *KVFailureRepo {
	return &KVFailureRepo{store: store}
}

// Record は失敗をタスクIDをキーとして記録する。
func (r *KVFailureRepo) Record(ctx context.Context, failure *model.ReconcileFailure) error {
	return setJSON(ctx, r.store, NamespaceReconcileFailures, failure.TaskID, failure)
}

// List は記録済みの失敗を失敗時刻順で返す。
func (r *KVFailureRepo) List(ctx context.Context) ([]*model.ReconcileFailure, error) {
	all, err := r.store.GetAll(ctx, NamespaceReconcileFailures)
	if err != nil {
		return nil, err
	}
	failures := make([]*model.ReconcileFailure, 0, len(all))
	for k, raw := range all {
		f := &model.ReconcileFailure{}
		if err := json.Unmarshal(raw, f); err != nil {
			return nil, fmt.Errorf("失敗レコードのデコードに失敗しました (%s): %w", k, err)
		}
		failures = append(failures, f)
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].FailedAt.Before(failures[j].FailedAt) })
	return failures, nil
}

// DeleteBefore はcutoffより前に失敗した記録を1トランザクションで削除し、削除件数を返す。
func (r *KVFailureRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	failures, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	var keys []Key
	for _, f := range failures {
		if !f.FailedAt.Before(cutoff) {
			break
		}
		keys = append(keys, Key{Namespace: NamespaceReconcileFailures, Key: f.TaskID})
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.store.DeleteAll(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

var (
	_ GeographyRepository    = (*KVGeographyRepo)(nil)
	_ LocationRepository     = (*KVLocationRepo)(nil)
	_ SubscriptionRepository = (*KVSubscriptionRepo)(nil)
	_ FailureRepository      = (*KVFailureRepo)(nil)
)

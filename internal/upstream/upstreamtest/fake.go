// Package upstreamtest はテスト用のupstream.Client実装を提供する。
package upstreamtest

import (
	"context"
	"sync"

	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/upstream"
)

// Fake は関数フィールドで振る舞いを差し替えられるupstream.Client。
// 未設定の関数は空の成功結果を返す。呼び出し回数は並行安全に記録する。
type Fake struct {
	RecentByTagFunc       func(ctx context.Context, name, minID string) ([]model.MediaItem, model.Pagination, error)
	RecentByUserFunc      func(ctx context.Context, userID, accessToken, minID string) ([]model.MediaItem, model.Pagination, error)
	RecentByLocationFunc  func(ctx context.Context, locationID, minID string) ([]model.MediaItem, model.Pagination, error)
	RecentByGeographyFunc func(ctx context.Context, geographyID, minID string) ([]model.MediaItem, model.Pagination, error)
	SubscribeFunc         func(ctx context.Context, req upstream.SubscribeRequest) (*upstream.SubscriptionHandle, error)
	UnsubscribeAllFunc    func(ctx context.Context, scope string) error
	LocationInfoFunc      func(ctx context.Context, locationID string) (*model.Location, error)
	ExchangeCodeFunc      func(ctx context.Context, code string) (*model.AuthenticatedUser, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *Fake) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

// Calls は指定メソッドの呼び出し回数を返す。
func (f *Fake) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *Fake) RecentByTag(ctx context.Context, name, minID string) ([]model.MediaItem, model.Pagination, error) {
	f.record("RecentByTag")
	if f.RecentByTagFunc != nil {
		return f.RecentByTagFunc(ctx, name, minID)
	}
	return nil, model.Pagination{}, nil
}

func (f *Fake) RecentByUser(ctx context.Context, userID, accessToken, minID string) ([]model.MediaItem, model.Pagination, error) {
	f.record("RecentByUser")
	if f.RecentByUserFunc != nil {
		return f.RecentByUserFunc(ctx, userID, accessToken, minID)
	}
	return nil, model.Pagination{}, nil
}

func (f *Fake) RecentByLocation(ctx context.Context, locationID, minID string) ([]model.MediaItem, model.Pagination, error) {
	f.record("RecentByLocation")
	if f.RecentByLocationFunc != nil {
		return f.RecentByLocationFunc(ctx, locationID, minID)
	}
	return nil, model.Pagination{}, nil
}

func (f *Fake) RecentByGeography(ctx context.Context, geographyID, minID string) ([]model.MediaItem, model.Pagination, error) {
	f.record("RecentByGeography")
	if f.RecentByGeographyFunc != nil {
		return f.RecentByGeographyFunc(ctx, geographyID, minID)
	}
	return nil, model.Pagination{}, nil
}

func (f *Fake) Subscribe(ctx context.Context, req upstream.SubscribeRequest) (*upstream.SubscriptionHandle, error) {
	f.record("Subscribe")
	if f.SubscribeFunc != nil {
		return f.SubscribeFunc(ctx, req)
	}
	return &upstream.SubscriptionHandle{ID: "sub-" + req.ObjectID, Object: string(req.Kind), ObjectID: req.ObjectID}, nil
}

func (f *Fake) UnsubscribeAll(ctx context.Context, scope string) error {
	f.record("UnsubscribeAll")
	if f.UnsubscribeAllFunc != nil {
		return f.UnsubscribeAllFunc(ctx, scope)
	}
	return nil
}

func (f *Fake) LocationInfo(ctx context.Context, locationID string) (*model.Location, error) {
	f.record("LocationInfo")
	if f.LocationInfoFunc != nil {
		return f.LocationInfoFunc(ctx, locationID)
	}
	return &model.Location{ID: locationID, Name: "location " + locationID}, nil
}

func (f *Fake) AuthorizationURL(state string) string {
	return "https://upstream.example.com/oauth/authorize/?state=" + state
}

func (f *Fake) ExchangeCode(ctx context.Context, code string) (*model.AuthenticatedUser, error) {
	f.record("ExchangeCode")
	if f.ExchangeCodeFunc != nil {
		return f.ExchangeCodeFunc(ctx, code)
	}
	return nil, upstream.ErrQueryFailed
}

var _ upstream.Client = (*Fake)(nil)

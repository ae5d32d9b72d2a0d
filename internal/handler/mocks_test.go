package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/hitoshi/mediahook/internal/channel"
	"github.com/hitoshi/mediahook/internal/geocode"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/reconcile"
	"github.com/hitoshi/mediahook/internal/subscription"
)

// --- モック定義 ---

type mockDispatcher struct {
	handleBatchFn func(ctx context.Context, batch *model.NotificationBatch) reconcile.BatchResult
	calls         int
}

func (m *mockDispatcher) HandleBatch(ctx context.Context, batch *model.NotificationBatch) reconcile.BatchResult {
	m.calls++
	if m.handleBatchFn != nil {
		return m.handleBatchFn(ctx, batch)
	}
	return reconcile.BatchResult{Accepted: len(batch.Entries)}
}

type mockHomeProvider struct {
	homeFn func(ctx context.Context, state string) (*channel.HomeModel, error)
}

func (m *mockHomeProvider) Home(ctx context.Context, state string) (*channel.HomeModel, error) {
	if m.homeFn != nil {
		return m.homeFn(ctx, state)
	}
	return &channel.HomeModel{AuthorizationURL: "https://upstream.example.com/oauth/authorize/?state=" + state}, nil
}

type mockExchanger struct {
	exchangeCodeFn func(ctx context.Context, code string) (*model.AuthenticatedUser, error)
}

func (m *mockExchanger) ExchangeCode(ctx context.Context, code string) (*model.AuthenticatedUser, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return &model.AuthenticatedUser{ID: "1", Username: "alice", AccessToken: "token"}, nil
}

type mockUserRegistrar struct {
	createFn func(ctx context.Context, user *model.AuthenticatedUser) (bool, error)
	created  []*model.AuthenticatedUser
}

func (m *mockUserRegistrar) Create(ctx context.Context, user *model.AuthenticatedUser) (bool, error) {
	m.created = append(m.created, user)
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return true, nil
}

type mockChannelReader struct {
	readChannelFn func(ctx context.Context, segment, value string) (*channel.RenderModel, error)
}

func (m *mockChannelReader) ReadChannel(ctx context.Context, segment, value string) (*channel.RenderModel, error) {
	if m.readChannelFn != nil {
		return m.readChannelFn(ctx, segment, value)
	}
	return &channel.RenderModel{Channel: segment, Value: value, Media: []model.MediaItem{}}, nil
}

type mockGeographyCreator struct {
	createGeographyFn func(ctx context.Context, req subscription.GeographyRequest) (*model.Geography, error)
	requests          []subscription.GeographyRequest
}

func (m *mockGeographyCreator) CreateGeography(ctx context.Context, req subscription.GeographyRequest) (*model.Geography, error) {
	m.requests = append(m.requests, req)
	if m.createGeographyFn != nil {
		return m.createGeographyFn(ctx, req)
	}
	return &model.Geography{ObjectID: "geo-1", Name: req.Name, Latitude: req.Latitude, Longitude: req.Longitude, Radius: req.Radius}, nil
}

type mockGeocoder struct {
	geocodeFn func(ctx context.Context, address string) (*geocode.Result, error)
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*geocode.Result, error) {
	if m.geocodeFn != nil {
		return m.geocodeFn(ctx, address)
	}
	return nil, geocode.ErrNoResult
}

type mockUnsubscriber struct {
	unsubscribeAllFn func(ctx context.Context) error
	calls            int
}

func (m *mockUnsubscriber) UnsubscribeAll(ctx context.Context) error {
	m.calls++
	if m.unsubscribeAllFn != nil {
		return m.unsubscribeAllFn(ctx)
	}
	return nil
}

type mockUserDeleter struct {
	deleteByUsernameFn func(ctx context.Context, username string) error
}

func (m *mockUserDeleter) DeleteByUsername(ctx context.Context, username string) error {
	if m.deleteByUsernameFn != nil {
		return m.deleteByUsernameFn(ctx, username)
	}
	return nil
}

type mockSubscriptionLister struct {
	listFn func(ctx context.Context) ([]*model.Subscription, error)
}

func (m *mockSubscriptionLister) List(ctx context.Context) ([]*model.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

type mockFailureLister struct {
	listFn func(ctx context.Context) ([]*model.ReconcileFailure, error)
}

func (m *mockFailureLister) List(ctx context.Context) ([]*model.ReconcileFailure, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

package subscription

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/repository"
	"github.com/hitoshi/mediahook/internal/repository/repotest"
	"github.com/hitoshi/mediahook/internal/upstream"
	"github.com/hitoshi/mediahook/internal/upstream/upstreamtest"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type fixture struct {
	manager *Manager
	client  *upstreamtest.Fake
	store   repository.KVStore
	subs    *repository.KVSubscriptionRepo
	geos    *repository.KVGeographyRepo
	locs    *repository.KVLocationRepo
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, client *upstreamtest.Fake) *fixture {
	t.Helper()
	store := repotest.NewStore(t)
	f := &fixture{
		client: client,
		store:  store,
		subs:   repository.NewKVSubscriptionRepo(store),
		geos:   repository.NewKVGeographyRepo(store),
		locs:   repository.NewKVLocationRepo(store),
		logs:   &bytes.Buffer{},
	}
	f.manager = NewManager(client, store, f.subs, f.geos, f.locs, newTestLogger(f.logs))
	return f
}

func TestEnsureSubscribed_Idempotent(t *testing.T) {
	f := newFixture(t, &upstreamtest.Fake{})
	ctx := context.Background()

	first, err := f.manager.EnsureSubscribed(ctx, model.TopicKindTag, "sunset")
	if err != nil {
		t.Fatalf("1回目の EnsureSubscribed がエラーを返した: %v", err)
	}
	second, err := f.manager.EnsureSubscribed(ctx, model.TopicKindTag, "sunset")
	if err != nil {
		t.Fatalf("2回目の EnsureSubscribed がエラーを返した: %v", err)
	}

	if f.client.Calls("Subscribe") != 1 {
		t.Errorf("上流の Subscribe 呼び出し回数 = %d, want 1", f.client.Calls("Subscribe"))
	}
	if first.UpstreamID != second.UpstreamID {
		t.Errorf("UpstreamID が異なる: %q vs %q", first.UpstreamID, second.UpstreamID)
	}
	subs, _ := f.subs.List(ctx)
	if len(subs) != 1 {
		t.Errorf("購読レコード数 = %d, want 1", len(subs))
	}
}

func TestEnsureSubscribed_ConcurrentCallsCreateOneSubscription(t *testing.T) {
	f := newFixture(t, &upstreamtest.Fake{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.EnsureSubscribed(ctx, model.TopicKindTag, "sunset"); err != nil {
				t.Errorf("EnsureSubscribed がエラーを返した: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.client.Calls("Subscribe") != 1 {
		t.Errorf("上流の Subscribe 呼び出し回数 = %d, want 1", f.client.Calls("Subscribe"))
	}
}

func TestEnsureSubscribed_UserScopeIsShared(t *testing.T) {
	var requested []upstream.SubscribeRequest
	client := &upstreamtest.Fake{
		SubscribeFunc: func(ctx context.Context, req upstream.SubscribeRequest) (*upstream.SubscriptionHandle, error) {
			requested = append(requested, req)
			return &upstream.SubscriptionHandle{ID: "u-1"}, nil
		},
	}
	f := newFixture(t, client)
	ctx := context.Background()

	f.manager.EnsureSubscribed(ctx, model.TopicKindUser, "42")
	f.manager.EnsureSubscribed(ctx, model.TopicKindUser, "43")

	if len(requested) != 1 {
		t.Fatalf("ユーザー購読は1件のみ作成されるべき: %d", len(requested))
	}
	if requested[0].Kind != model.TopicKindUser {
		t.Errorf("Kind = %q", requested[0].Kind)
	}
}

func TestEnsureSubscribed_LocationStoresMetadata(t *testing.T) {
	f := newFixture(t, &upstreamtest.Fake{})
	ctx := context.Background()

	if _, err := f.manager.EnsureSubscribed(ctx, model.TopicKindLocation, "514276"); err != nil {
		t.Fatalf("EnsureSubscribed がエラーを返した: %v", err)
	}
	loc, err := f.locs.FindByID(ctx, "514276")
	if err != nil || loc == nil {
		t.Fatalf("ロケーション情報が保存されるべき: %v, %v", loc, err)
	}
	if loc.Name != "location 514276" {
		t.Errorf("Name = %q", loc.Name)
	}
}

func TestEnsureSubscribed_LocationMetadataBackfill(t *testing.T) {
	fail := true
	client := &upstreamtest.Fake{
		LocationInfoFunc: func(ctx context.Context, locationID string) (*model.Location, error) {
			if fail {
				return nil, upstream.ErrQueryFailed
			}
			return &model.Location{ID: locationID, Name: "harbor"}, nil
		},
	}
	f := newFixture(t, client)
	ctx := context.Background()

	if _, err := f.manager.EnsureSubscribed(ctx, model.TopicKindLocation, "42"); err != nil {
		t.Fatalf("メタデータ取得失敗で購読を失敗させてはならない: %v", err)
	}
	if sub, _ := f.subs.Find(ctx, model.TopicKindLocation, "42"); sub == nil {
		t.Fatal("購読レコードが保存されるべき")
	}
	if loc, _ := f.locs.FindByID(ctx, "42"); loc != nil {
		t.Fatalf("loc = %+v, want nil", loc)
	}

	fail = false
	if _, err := f.manager.EnsureSubscribed(ctx, model.TopicKindLocation, "42"); err != nil {
		t.Fatalf("EnsureSubscribed がエラーを返した: %v", err)
	}
	loc, _ := f.locs.FindByID(ctx, "42")
	if loc == nil || loc.Name != "harbor" {
		t.Errorf("loc = %+v, want harbor", loc)
	}
	if client.Calls("Subscribe") != 1 {
		t.Errorf("Subscribe 呼び出し回数 = %d, want 1", client.Calls("Subscribe"))
	}
}

func TestEnsureSubscribed_UpstreamFailureIsReturned(t *testing.T) {
	client := &upstreamtest.Fake{
		SubscribeFunc: func(ctx context.Context, req upstream.SubscribeRequest) (*upstream.SubscriptionHandle, error) {
			return nil, &upstream.Error{StatusCode: 500, Message: "boom"}
		},
	}
	f := newFixture(t, client)
	ctx := context.Background()

	_, err := f.manager.EnsureSubscribed(ctx, model.TopicKindTag, "sunset")
	if !errors.Is(err, upstream.ErrQueryFailed) {
		t.Fatalf("err = %v, want ErrQueryFailed", err)
	}
	if sub, _ := f.subs.Find(ctx, model.TopicKindTag, "sunset"); sub != nil {
		t.Error("失敗時に購読レコードを作成してはならない")
	}
}

func TestEnsureSubscribed_UnknownGeography(t *testing.T) {
	f := newFixture(t, &upstreamtest.Fake{})

	_, err := f.manager.EnsureSubscribed(context.Background(), model.TopicKindGeography, "123")
	if !errors.Is(err, ErrGeographyUnknown) {
		t.Errorf("err = %v, want ErrGeographyUnknown", err)
	}
	if f.client.Calls("Subscribe") != 0 {
		t.Error("ジオグラフィはIDから上流購読を作成してはならない")
	}
}

func TestCreateGeography(t *testing.T) {
	client := &upstreamtest.Fake{
		SubscribeFunc: func(ctx context.Context, req upstream.SubscribeRequest) (*upstream.SubscriptionHandle, error) {
			if req.Radius != DefaultRadius {
				t.Errorf("Radius = %d, want %d", req.Radius, DefaultRadius)
			}
			return &upstream.SubscriptionHandle{ID: "s-9", ObjectID: "123", Raw: []byte(`{"object_id":"123"}`)}, nil
		},
	}
	f := newFixture(t, client)
	ctx := context.Background()

	geo, err := f.manager.CreateGeography(ctx, GeographyRequest{Latitude: 35.6, Longitude: 139.7})
	if err != nil {
		t.Fatalf("CreateGeography がエラーを返した: %v", err)
	}
	if geo.ObjectID != "123" || geo.Name != "nearby" {
		t.Errorf("geo = %+v", geo)
	}

	stored, _ := f.geos.FindByID(ctx, "123")
	if stored == nil || stored.Latitude != 35.6 {
		t.Errorf("保存されたジオグラフィ = %+v", stored)
	}

	// 作成済みジオグラフィに対する EnsureSubscribed は上流を呼ばない
	if _, err := f.manager.EnsureSubscribed(ctx, model.TopicKindGeography, "123"); err != nil {
		t.Fatalf("EnsureSubscribed がエラーを返した: %v", err)
	}
	if f.client.Calls("Subscribe") != 1 {
		t.Errorf("Subscribe 呼び出し回数 = %d, want 1", f.client.Calls("Subscribe"))
	}
}

func TestUnsubscribeAll_ClearsStore(t *testing.T) {
	f := newFixture(t, &upstreamtest.Fake{})
	ctx := context.Background()

	f.manager.EnsureSubscribed(ctx, model.TopicKindTag, "sunset")
	if err := f.manager.UnsubscribeAll(ctx); err != nil {
		t.Fatalf("UnsubscribeAll がエラーを返した: %v", err)
	}
	if f.client.Calls("UnsubscribeAll") != 1 {
		t.Error("上流の UnsubscribeAll が呼ばれるべき")
	}
	subs, _ := f.subs.List(ctx)
	if len(subs) != 0 {
		t.Errorf("ストアが消去されていない: %d件", len(subs))
	}
}

func TestUnsubscribeAll_UpstreamFailureKeepsStore(t *testing.T) {
	client := &upstreamtest.Fake{
		UnsubscribeAllFunc: func(ctx context.Context, scope string) error {
			return upstream.ErrQueryFailed
		},
	}
	f := newFixture(t, client)
	ctx := context.Background()

	f.manager.EnsureSubscribed(ctx, model.TopicKindTag, "sunset")
	if err := f.manager.UnsubscribeAll(ctx); err == nil {
		t.Fatal("エラーが返されるべき")
	}
	subs, _ := f.subs.List(ctx)
	if len(subs) != 1 {
		t.Errorf("上流解除失敗時はストアを保持すべき: %d件", len(subs))
	}
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/mediahook/internal/model"
)

func TestKVTopicRepo_SaveAndFind(t *testing.T) {
	store := newTestStore(t)
	repo := NewKVTopicRepo(store)
	ctx := context.Background()

	if topic, err := repo.Find(ctx, model.TopicKindTag, "sunset"); err != nil || topic != nil {
		t.Fatalf("Find on empty store = %v, %v", topic, err)
	}

	topic := &model.Topic{
		Kind:      model.TopicKindTag,
		ID:        "sunset",
		MinID:     "100",
		Window:    []model.MediaItem{{ID: "100_1"}, {ID: "99_1"}},
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.Save(ctx, topic); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.Find(ctx, model.TopicKindTag, "sunset")
	if err != nil || got == nil {
		t.Fatalf("Find = %v, %v", got, err)
	}
	if got.MinID != "100" || len(got.Window) != 2 || got.Window[0].ID != "100_1" {
		t.Errorf("Find = %+v", got)
	}

	// キーは channel:<kind>:<value> 形式
	raw, _ := store.Get(ctx, NamespaceChannels, "channel:tags:sunset")
	if raw == nil {
		t.Error("topic should be stored under channel:tags:sunset")
	}
}

func TestKVSubscriptionRepo_CreateIfAbsent(t *testing.T) {
	repo := NewKVSubscriptionRepo(newTestStore(t))
	ctx := context.Background()

	sub := &model.Subscription{Kind: model.TopicKindTag, ObjectID: "sunset", UpstreamID: "s-1"}
	created, err := repo.CreateIfAbsent(ctx, sub)
	if err != nil || !created {
		t.Fatalf("CreateIfAbsent = %v, %v", created, err)
	}
	created, _ = repo.CreateIfAbsent(ctx, &model.Subscription{Kind: model.TopicKindTag, ObjectID: "sunset", UpstreamID: "s-2"})
	if created {
		t.Error("duplicate CreateIfAbsent should be a no-op")
	}

	subs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(subs) != 1 || subs[0].UpstreamID != "s-1" {
		t.Errorf("List = %+v", subs)
	}
}

func TestKVMetadataRepos(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	geos := NewKVGeographyRepo(store)
	if err := geos.Save(ctx, &model.Geography{ObjectID: "123", Name: "nearby", Latitude: 35.6, Longitude: 139.7, Radius: 1000}); err != nil {
		t.Fatalf("Save geography failed: %v", err)
	}
	geo, err := geos.FindByID(ctx, "123")
	if err != nil || geo == nil || geo.Name != "nearby" {
		t.Errorf("FindByID geography = %+v, %v", geo, err)
	}
	if missing, _ := geos.FindByID(ctx, "999"); missing != nil {
		t.Error("missing geography should be nil")
	}

	locs := NewKVLocationRepo(store)
	locs.Save(ctx, &model.Location{ID: "514276", Name: "Shibuya"})
	loc, err := locs.FindByID(ctx, "514276")
	if err != nil || loc == nil || loc.Name != "Shibuya" {
		t.Errorf("FindByID location = %+v, %v", loc, err)
	}

	failures := NewKVFailureRepo(store)
	now := time.Now()
	failures.Record(ctx, &model.ReconcileFailure{TaskID: "b", FailedAt: now})
	failures.Record(ctx, &model.ReconcileFailure{TaskID: "a", FailedAt: now.Add(-time.Minute)})
	list, err := failures.List(ctx)
	if err != nil || len(list) != 2 || list[0].TaskID != "a" {
		t.Errorf("failures List = %+v, %v", list, err)
	}

	n, err := failures.DeleteBefore(ctx, now.Add(-time.Second))
	if err != nil || n != 1 {
		t.Fatalf("DeleteBefore = %d, %v, want 1", n, err)
	}
	list, _ = failures.List(ctx)
	if len(list) != 1 || list[0].TaskID != "b" {
		t.Errorf("failures after DeleteBefore = %+v", list)
	}
	if n, _ := failures.DeleteBefore(ctx, now.Add(-time.Second)); n != 0 {
		t.Errorf("second DeleteBefore = %d, want 0", n)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/mediahook/internal/channel"
	"github.com/hitoshi/mediahook/internal/database"
	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/reconcile"
	"github.com/hitoshi/mediahook/internal/repository"
	"github.com/hitoshi/mediahook/internal/repository/repotest"
	"github.com/hitoshi/mediahook/internal/security"
	"github.com/hitoshi/mediahook/internal/subscription"
	"github.com/hitoshi/mediahook/internal/topic"
	"github.com/hitoshi/mediahook/internal/upstream"
	"github.com/hitoshi/mediahook/internal/upstream/upstreamtest"
)

const testDispatchDelay = 50 * time.Millisecond

// stack は実際のストアとサービス群を上流フェイクと組み合わせたテスト用の構成。
type stack struct {
	router    http.Handler
	client    *upstreamtest.Fake
	topics    *repository.KVTopicRepo
	scheduler *reconcile.Scheduler
}

func newStack(t *testing.T, client *upstreamtest.Fake) *stack {
	t.Helper()
	return newStackWithStore(t, client, repotest.NewStore(t))
}

func newStackWithStore(t *testing.T, client *upstreamtest.Fake, store *repository.SQLKVStore) *stack {
	t.Helper()
	logger := discardLogger()

	topics := repository.NewKVTopicRepo(store)
	users := repository.NewKVUserRepo(store)
	geos := repository.NewKVGeographyRepo(store)
	locs := repository.NewKVLocationRepo(store)
	subs := repository.NewKVSubscriptionRepo(store)
	failures := repository.NewKVFailureRepo(store)

	manager := subscription.NewManager(client, store, subs, geos, locs, logger)
	topicService := topic.NewService(client, topics, users, manager, 0, logger)
	scheduler := reconcile.NewScheduler(topicService, failures, nil, logger, reconcile.Options{
		Delay:      testDispatchDelay,
		Workers:    2,
		RetryDelay: 10 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		scheduler.Shutdown(ctx)
	})
	reader := channel.NewReader(topicService, manager, client, users, geos, locs, security.NewContentSanitizer(), logger)

	router := NewRouter(&RouterDeps{
		Logger:         logger,
		AdminToken:     testAdminToken,
		Dispatcher:     reconcile.NewReconciler(scheduler, logger),
		CallbackConfig: CallbackHandlerConfig{ClientSecret: testSecret},
		Home:           reader,
		Exchanger:      client,
		Users:          users,
		Reader:         reader,
		Creator:        manager,
		Unsubscriber:   manager,
		UserDeleter:    users,
		Subscriptions:  subs,
		Failures:       failures,
		HealthChecker:  store,
	})

	return &stack{router: router, client: client, topics: topics, scheduler: scheduler}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// TestScenario_SignedNotificationUpdatesTopic は署名付き通知が遅延後にトピックへ反映されることを検証する。
func TestScenario_SignedNotificationUpdatesTopic(t *testing.T) {
	var queried atomic.Value
	client := &upstreamtest.Fake{
		RecentByTagFunc: func(ctx context.Context, name, minID string) ([]model.MediaItem, model.Pagination, error) {
			queried.Store(name + "|" + minID)
			return []model.MediaItem{
				{ID: "105_1", Caption: "sunset over the bay"},
				{ID: "104_1", Caption: "golden hour"},
			}, model.Pagination{MinID: "105"}, nil
		},
	}
	s := newStack(t, client)

	body := `[{"object":"tag","object_id":"sunset","changed_aspect":"media"}]`
	start := time.Now()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, newNotifyRequest(body, security.Sign([]byte(body), testSecret)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"accepted":1`) {
		t.Errorf("body = %s, want accepted 1", w.Body.String())
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		tp, _ := s.topics.Find(context.Background(), model.TopicKindTag, "sunset")
		return tp != nil
	})
	if !ok {
		t.Fatal("topic was not stored after dispatch delay")
	}
	if elapsed := time.Since(start); elapsed < testDispatchDelay {
		t.Errorf("topic updated after %v, before dispatch delay %v", elapsed, testDispatchDelay)
	}

	tp, err := s.topics.Find(context.Background(), model.TopicKindTag, "sunset")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if tp.MinID != "105" {
		t.Errorf("MinID = %q, want 105", tp.MinID)
	}
	if len(tp.Window) != 2 || tp.Window[0].ID != "105_1" {
		t.Errorf("Window = %+v", tp.Window)
	}
	if got := queried.Load(); got != "sunset|" {
		t.Errorf("first query = %v, want empty minId", got)
	}
	if s.client.Calls("Subscribe") != 1 {
		t.Errorf("Subscribe calls = %d, want 1", s.client.Calls("Subscribe"))
	}
}

// TestScenario_ForgedNotificationIsIgnored は署名不一致の通知が何も起こさないことを検証する。
func TestScenario_ForgedNotificationIsIgnored(t *testing.T) {
	client := &upstreamtest.Fake{}
	s := newStack(t, client)

	body := `[{"object":"tag","object_id":"sunset"}]`
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, newNotifyRequest(body, security.Sign([]byte(body), "wrong-secret")))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"status":"FAIL"}` {
		t.Errorf("body = %s", w.Body.String())
	}

	time.Sleep(3 * testDispatchDelay)

	if s.scheduler.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", s.scheduler.Pending())
	}
	if s.client.Calls("RecentByTag") != 0 || s.client.Calls("Subscribe") != 0 {
		t.Error("upstream should not be called for forged notification")
	}
	tp, err := s.topics.Find(context.Background(), model.TopicKindTag, "sunset")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if tp != nil {
		t.Errorf("topic should not exist, got %+v", tp)
	}
}

// TestScenario_UnknownGeographyIsUnrecognized はメタデータの無いジオグラフィが汎用エラーになることを検証する。
func TestScenario_UnknownGeographyIsUnrecognized(t *testing.T) {
	client := &upstreamtest.Fake{}
	s := newStack(t, client)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/channel/geographies/123", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeUnrecognizedChannel || body.Message != "Pardon?" {
		t.Errorf("body = %+v", body)
	}
	if s.client.Calls("RecentByGeography") != 0 {
		t.Error("upstream should not be queried for unknown geography")
	}
}

// TestScenario_StoreOutageIsStoreFailed はストアが使えない場合に各経路がSTORE_FAILEDを返すことを検証する。
func TestScenario_StoreOutageIsStoreFailed(t *testing.T) {
	db, driver, err := database.Open("sqlite::memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store := repository.NewSQLKVStore(db, driver)
	db.Close()
	s := newStackWithStore(t, &upstreamtest.Fake{}, store)

	paths := []string{"/channel/geographies/123", "/admin/subscriptions"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Authorization", "Bearer "+testAdminToken)
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503: %s", w.Code, w.Body.String())
			}
			var body middleware.ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != model.ErrCodeStoreFailed {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeStoreFailed)
			}
		})
	}
}

// TestScenario_CreatedGeographyIsReadable は登録した地理領域がチャンネルとして読めることを検証する。
func TestScenario_CreatedGeographyIsReadable(t *testing.T) {
	client := &upstreamtest.Fake{
		RecentByGeographyFunc: func(ctx context.Context, geographyID, minID string) ([]model.MediaItem, model.Pagination, error) {
			return []model.MediaItem{{ID: "9_1", Caption: "<b>harbor</b>"}}, model.Pagination{}, nil
		},
		SubscribeFunc: func(ctx context.Context, req upstream.SubscribeRequest) (*upstream.SubscriptionHandle, error) {
			return &upstream.SubscriptionHandle{ID: "sub-geo", Object: "geography", ObjectID: "3012"}, nil
		},
	}
	s := newStack(t, client)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/channel/geographies", strings.NewReader(`{"lat":35.0,"lng":139.0}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303: %s", w.Code, w.Body.String())
	}
	location := w.Header().Get("Location")
	if location != "/channel/geographies/3012" {
		t.Fatalf("Location = %q", location)
	}

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, location, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var rm channel.RenderModel
	if err := json.NewDecoder(w.Body).Decode(&rm); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if rm.Geography == nil || rm.Geography.Radius != subscription.DefaultRadius {
		t.Errorf("Geography = %+v", rm.Geography)
	}
	if len(rm.Media) != 1 || strings.Contains(rm.Media[0].Caption, "<b>") {
		t.Errorf("Media = %+v, want sanitized caption", rm.Media)
	}
}

// TestScenario_OAuthRegistersUser は認可フローで登録したユーザーがトップページに並ぶことを検証する。
func TestScenario_OAuthRegistersUser(t *testing.T) {
	client := &upstreamtest.Fake{
		ExchangeCodeFunc: func(ctx context.Context, code string) (*model.AuthenticatedUser, error) {
			return &model.AuthenticatedUser{ID: "42", Username: "dave", AccessToken: "tok-" + code}, nil
		},
	}
	s := newStack(t, client)

	// トップページでstateクッキーを受け取る
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var state string
	for _, c := range w.Result().Cookies() {
		if c.Name == oauthStateCookie {
			state = c.Value
		}
	}
	if state == "" {
		t.Fatal("state cookie not issued")
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/callbacks/oauth?code=abc&state="+state, nil)
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: state})
		w = httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusSeeOther {
			t.Fatalf("grant %d: status = %d, want 303: %s", i, w.Code, w.Body.String())
		}
	}

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var home channel.HomeModel
	if err := json.NewDecoder(w.Body).Decode(&home); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(home.AuthenticatedUsers) != 1 || home.AuthenticatedUsers[0].Username != "dave" {
		t.Errorf("users = %+v, want single dave", home.AuthenticatedUsers)
	}
	if strings.Contains(w.Body.String(), "tok-abc") {
		t.Error("access token must not be exposed")
	}
}

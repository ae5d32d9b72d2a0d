package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type statusCollector struct {
	mu    sync.Mutex
	codes []int
}

func (c *statusCollector) RecordNotifications(int)                   {}
func (c *statusCollector) RecordSignatureFailure()                   {}
func (c *statusCollector) RecordTaskScheduled(string)                {}
func (c *statusCollector) RecordTaskCompleted(string, time.Duration) {}
func (c *statusCollector) RecordTaskFailed(string, string)           {}
func (c *statusCollector) SetQueueDepth(int)                         {}
func (c *statusCollector) RecordHTTPStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
}

func TestRecoveryMiddleware_Returns500(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf)

	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/channel/tags/sunset", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !bytes.Contains(buf.Bytes(), []byte("panic recovered")) {
		t.Errorf("expected panic log, got %s", buf.String())
	}
}

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Content-Security-Policy"} {
		if w.Header().Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	collector := &statusCollector{}
	handler := NewMetricsMiddleware(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/callbacks", nil))

	if len(collector.codes) != 1 || collector.codes[0] != http.StatusForbidden {
		t.Errorf("recorded codes = %v, want [403]", collector.codes)
	}
}

// TestRouterIntegration_AdminGroup はchi.Router上でミドルウェアチェーンが
// 管理ルートだけに認証を要求することを検証する。
func TestRouterIntegration_AdminGroup(t *testing.T) {
	var buf bytes.Buffer
	collector := &statusCollector{}

	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware(newJSONLogger(&buf)))
	r.Use(NewMetricsMiddleware(collector))
	r.Use(NewLoggingMiddleware(newJSONLogger(&buf)))
	r.Use(NewSecurityHeadersMiddleware())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(NewAdminAuthMiddleware("ops-token"))
		r.Post("/admin/subscriptions/delete", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("public route: status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/subscriptions/delete", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("admin without token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/subscriptions/delete", nil)
	req.Header.Set("Authorization", "Bearer ops-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("admin with token: status = %d, want 204", w.Code)
	}

	want := []int{http.StatusOK, http.StatusUnauthorized, http.StatusNoContent}
	if len(collector.codes) != len(want) {
		t.Fatalf("recorded codes = %v, want %v", collector.codes, want)
	}
	for i := range want {
		if collector.codes[i] != want[i] {
			t.Errorf("codes[%d] = %d, want %d", i, collector.codes[i], want[i])
		}
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"principal":"admin"`)) {
		t.Errorf("expected principal in access log, got %s", buf.String())
	}
}

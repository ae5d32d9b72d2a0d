package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/mediahook/internal/geocode"
	"github.com/hitoshi/mediahook/internal/metrics"
	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	RateLimiter *middleware.RateLimiter
	AdminToken  string
	Collector   metrics.MetricsCollector
	Gatherer    prometheus.Gatherer

	// 通知受信
	Dispatcher     BatchDispatcher
	CallbackConfig CallbackHandlerConfig

	// 認可
	Home       HomeProvider
	Exchanger  CodeExchanger
	Users      UserRegistrar
	AuthConfig AuthHandlerConfig

	// チャンネル
	Reader   ChannelReader
	Creator  GeographyCreator
	Geocoder geocode.Geocoder

	// 管理
	Unsubscriber  Unsubscriber
	UserDeleter   UserDeleter
	Subscriptions SubscriptionLister
	Failures      FailureLister

	// ヘルスチェック
	HealthChecker Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Metrics → Logging → SecurityHeaders
//
// 閲覧系ルートには接続元ごとのレート制限をかける。
// 上流からの通知（/callbacks）はバースト的に届くため制限しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Collector))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	callbackHandler := NewCallbackHandler(deps.Dispatcher, deps.Collector, deps.CallbackConfig, logger)
	authHandler := NewAuthHandler(deps.Home, deps.Exchanger, deps.Users, deps.AuthConfig, logger)
	channelHandler := NewChannelHandler(deps.Reader, deps.Creator, deps.Geocoder, logger)
	adminHandler := NewAdminHandler(deps.Unsubscriber, deps.UserDeleter, deps.Subscriptions, deps.Failures, logger)

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, logger))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 上流からの通知と認可コールバック ---
	r.Route("/callbacks", func(r chi.Router) {
		r.Get("/", callbackHandler.Handshake)
		r.Post("/", callbackHandler.Notify)
		r.Get("/oauth", authHandler.Callback)
		r.Get("/confirmed", authHandler.Confirmed)
	})

	// --- 閲覧系 ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/", authHandler.Home)

		r.Route("/channel", func(r chi.Router) {
			create := http.HandlerFunc(channelHandler.CreateGeography)
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.RegistrationMiddleware()).Post("/geographies", create)
			} else {
				r.Post("/geographies", create)
			}
			r.Get("/{kind}/{value}", channelHandler.Read)
		})
	})

	// --- 管理 ---
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminToken))

		r.Get("/subscriptions", adminHandler.ListSubscriptions)
		r.Post("/subscriptions/delete", adminHandler.DeleteSubscriptions)
		r.Post("/users/{username}/delete", adminHandler.DeleteUser)
		r.Get("/failures", adminHandler.ListFailures)
	})

	return r
}

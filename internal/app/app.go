package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mediahook/internal/channel"
	"github.com/hitoshi/mediahook/internal/config"
	"github.com/hitoshi/mediahook/internal/database"
	"github.com/hitoshi/mediahook/internal/geocode"
	"github.com/hitoshi/mediahook/internal/handler"
	"github.com/hitoshi/mediahook/internal/logger"
	"github.com/hitoshi/mediahook/internal/metrics"
	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/hitoshi/mediahook/internal/reconcile"
	"github.com/hitoshi/mediahook/internal/repository"
	"github.com/hitoshi/mediahook/internal/security"
	"github.com/hitoshi/mediahook/internal/subscription"
	"github.com/hitoshi/mediahook/internal/topic"
	"github.com/hitoshi/mediahook/internal/upstream"
	"github.com/hitoshi/mediahook/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップする
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandReset:
		return runReset(cfg)
	default:
		return runServe(cfg)
	}
}

// Components はserveモードで起動する全コンポーネントを保持する。
type Components struct {
	DB          *sql.DB
	Store       *repository.SQLKVStore
	Client      upstream.Client
	Manager     *subscription.Manager
	Scheduler   *reconcile.Scheduler
	Cleanup     *cleanup.CleanupJob
	RateLimiter *middleware.RateLimiter
	Registry    *prometheus.Registry
	Router      http.Handler
}

// Build は設定に従って全依存関係をワイヤリングする。
// 返されたComponentsは使用後にCloseすること。
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Components, error) {
	// 1. ストアの初期化
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// 2. リポジトリの初期化
	topicRepo := repository.NewKVTopicRepo(store)
	userRepo := repository.NewKVUserRepo(store)
	geoRepo := repository.NewKVGeographyRepo(store)
	locRepo := repository.NewKVLocationRepo(store)
	subRepo := repository.NewKVSubscriptionRepo(store)
	failureRepo := repository.NewKVFailureRepo(store)

	// 3. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	client := newUpstreamClient(cfg, log)
	manager := subscription.NewManager(client, store, subRepo, geoRepo, locRepo, log)
	topics := topic.NewService(client, topicRepo, userRepo, manager, cfg.WindowSize, log)
	scheduler := reconcile.NewScheduler(topics, failureRepo, collector, log, reconcile.Options{
		Delay:       cfg.DispatchDelay,
		Workers:     cfg.ReconcileWorkers,
		QueueSize:   cfg.ReconcileQueueSize,
		MaxAttempts: cfg.ReconcileMaxAttempts,
		RetryDelay:  cfg.ReconcileRetryDelay,
	})
	reconciler := reconcile.NewReconciler(scheduler, log)
	reader := channel.NewReader(topics, manager, client, userRepo, geoRepo, locRepo, security.NewContentSanitizer(), log)

	// ジオコーダーはAPIキーが設定されている場合のみ有効にする
	var geocoder geocode.Geocoder
	if cfg.GeocoderAPIKey != "" {
		guard := security.NewSSRFGuard()
		if err := guard.ValidateURL(cfg.GeocoderURL); err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid geocoder URL: %w", err)
		}
		geocoder = geocode.NewClient(guard.NewSafeClient(cfg.UpstreamTimeout), cfg.GeocoderURL, cfg.GeocoderAPIKey, log)
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMinute))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      log,
		RateLimiter: rateLimiter,
		AdminToken:  cfg.AdminToken,
		Collector:   collector,
		Gatherer:    reg,

		Dispatcher: reconciler,
		CallbackConfig: handler.CallbackHandlerConfig{
			ClientSecret: cfg.UpstreamClientSecret,
			VerifyToken:  cfg.CallbackVerifyToken,
		},

		Home:      reader,
		Exchanger: client,
		Users:     userRepo,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure: strings.HasPrefix(cfg.BaseURL, "https://"),
		},

		Reader:   reader,
		Creator:  manager,
		Geocoder: geocoder,

		Unsubscriber:  manager,
		UserDeleter:   userRepo,
		Subscriptions: subRepo,
		Failures:      failureRepo,

		HealthChecker: store,
	})

	return &Components{
		DB:          db,
		Store:       store,
		Client:      client,
		Manager:     manager,
		Scheduler:   scheduler,
		Cleanup:     cleanup.NewCleanupJob(failureRepo, cfg.FailureRetention, log),
		RateLimiter: rateLimiter,
		Registry:    reg,
		Router:      router,
	}, nil
}

// Close はスケジューラを停止し、保留中タスクの完了を待ってからストアを閉じる。
func (c *Components) Close(ctx context.Context) error {
	c.RateLimiter.Stop()
	schedErr := c.Scheduler.Shutdown(ctx)
	dbErr := c.DB.Close()
	return errors.Join(schedErr, dbErr)
}

// openStore はDB接続を開き、疎通を確認してKVストアを返す。
// SQLiteの場合はスキーマを作成する。PostgreSQLはmigrateサブコマンドで事前に作成すること。
func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, *repository.SQLKVStore, error) {
	db, driver, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == database.DriverSQLite {
		if err := database.EnsureSQLiteSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	slog.Info("database connection established", slog.String("driver", string(driver)))
	return db, repository.NewSQLKVStore(db, driver), nil
}

// newUpstreamClient は設定から上流APIクライアントを生成する。
func newUpstreamClient(cfg *config.Config, log *slog.Logger) *upstream.HTTPClient {
	return upstream.NewHTTPClient(
		&http.Client{Timeout: cfg.UpstreamTimeout},
		upstream.Options{
			BaseURL:      cfg.UpstreamAPIURL,
			ClientID:     cfg.UpstreamClientID,
			ClientSecret: cfg.UpstreamClientSecret,
			RedirectURI:  cfg.OAuthRedirectURL(),
			CallbackURL:  cfg.CallbackURL(),
			VerifyToken:  cfg.CallbackVerifyToken,
			RatePerHour:  cfg.UpstreamRatePerHour,
		},
		log,
	)
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとHTTPサーバー、スケジューラの順にグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := Build(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      comps.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 失敗記録のクリーンアップジョブを日次でバックグラウンド実行
	go comps.Cleanup.Start(ctx, cleanup.DefaultInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("callback_url", cfg.CallbackURL()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("server listen error", slog.String("error", serveErr.Error()))
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("draining reconcile scheduler", slog.Int("pending", comps.Scheduler.Pending()))
	if err := comps.Close(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("server listen failed: %w", serveErr)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runReset は上流の全購読を解除し、ストアを消去する。
func runReset(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	client := newUpstreamClient(cfg, slog.Default())
	manager := subscription.NewManager(
		client, store,
		repository.NewKVSubscriptionRepo(store),
		repository.NewKVGeographyRepo(store),
		repository.NewKVLocationRepo(store),
		slog.Default(),
	)

	if err := manager.UnsubscribeAll(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	slog.Info("all subscriptions removed and store cleared")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
// SQLiteのファイルパスは認証情報を含まないためそのまま返す。
func maskDatabaseURL(url string) string {
	if strings.HasPrefix(url, "sqlite:") {
		return url
	}
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

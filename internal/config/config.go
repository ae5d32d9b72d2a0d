package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Upstream
	UpstreamClientID     string
	UpstreamClientSecret string
	UpstreamAPIURL       string
	UpstreamTimeout      time.Duration
	UpstreamRatePerHour  int
	CallbackVerifyToken  string

	// Reconcile
	DispatchDelay        time.Duration
	ReconcileWorkers     int
	ReconcileQueueSize   int
	ReconcileMaxAttempts int
	ReconcileRetryDelay  time.Duration
	FailureRetention     time.Duration
	WindowSize           int

	// Geocoder
	GeocoderURL    string
	GeocoderAPIKey string

	// Rate Limit
	RateLimitPerMinute int

	// Admin
	AdminToken string

	// Logging
	LogLevel string

	// Server
	ServerPort      string
	BaseURL         string
	ShutdownTimeout time.Duration
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.UpstreamClientID = os.Getenv("UPSTREAM_CLIENT_ID")
	if cfg.UpstreamClientID == "" {
		missing = append(missing, "UPSTREAM_CLIENT_ID")
	}

	cfg.UpstreamClientSecret = os.Getenv("UPSTREAM_CLIENT_SECRET")
	if cfg.UpstreamClientSecret == "" {
		missing = append(missing, "UPSTREAM_CLIENT_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// Optional fields with defaults
	cfg.UpstreamAPIURL = getEnvString("UPSTREAM_API_URL", "https://api.instagram.com")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.UpstreamRatePerHour = getEnvInt("UPSTREAM_RATE_PER_HOUR", 5000)
	cfg.CallbackVerifyToken = getEnvString("CALLBACK_VERIFY_TOKEN", "")
	cfg.DispatchDelay = getEnvDuration("DISPATCH_DELAY", 2*time.Second)
	cfg.ReconcileWorkers = getEnvInt("RECONCILE_WORKERS", 4)
	cfg.ReconcileQueueSize = getEnvInt("RECONCILE_QUEUE_SIZE", 1000)
	cfg.ReconcileMaxAttempts = getEnvInt("RECONCILE_MAX_ATTEMPTS", 3)
	cfg.ReconcileRetryDelay = getEnvDuration("RECONCILE_RETRY_DELAY", time.Second)
	cfg.FailureRetention = getEnvDuration("FAILURE_RETENTION", 7*24*time.Hour)
	cfg.WindowSize = getEnvInt("WINDOW_SIZE", 20)
	cfg.GeocoderURL = getEnvString("GEOCODER_URL", "https://maps.googleapis.com/maps/api/geocode/json")
	cfg.GeocoderAPIKey = getEnvString("GEOCODER_API_KEY", "")
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 120)
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)

	return cfg, nil
}

// CallbackURL は購読通知の受信URLを返す。
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/callbacks"
}

// OAuthRedirectURL はOAuth認可後のリダイレクトURLを返す。
func (c *Config) OAuthRedirectURL() string {
	return c.BaseURL + "/callbacks/oauth"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

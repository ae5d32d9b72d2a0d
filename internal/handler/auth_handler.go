package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hitoshi/mediahook/internal/channel"
	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/hitoshi/mediahook/internal/model"
)

const oauthStateCookie = "oauth_state"

// HomeProvider はトップページの表示モデルを返す能力。
type HomeProvider interface {
	Home(ctx context.Context, state string) (*channel.HomeModel, error)
}

// CodeExchanger は認可コードを認証済みユーザーに交換する能力。
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*model.AuthenticatedUser, error)
}

// UserRegistrar は認証済みユーザーを登録する能力。
type UserRegistrar interface {
	Create(ctx context.Context, user *model.AuthenticatedUser) (bool, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はトップページとユーザー認可フローのHTTPハンドラー。
type AuthHandler struct {
	home      HomeProvider
	exchanger CodeExchanger
	users     UserRegistrar
	config    AuthHandlerConfig
	logger    *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(home HomeProvider, exchanger CodeExchanger, users UserRegistrar, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		home:      home,
		exchanger: exchanger,
		users:     users,
		config:    config,
		logger:    logger,
	}
}

// Home は認証済みユーザーの一覧と認可URLを返す。
// GET /
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/callbacks",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	home, err := h.home.Home(r.Context(), state)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, home)
}

// Callback は認可コールバックを処理する。
// GET /callbacks/oauth?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// 1. ユーザーが認可を拒否した場合
	if reason := q.Get("error"); reason != "" {
		h.logger.Info("authorization denied",
			slog.String("error", reason),
			slog.String("error_reason", q.Get("error_reason")),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("認可が拒否されました"))
		return
	}

	// 2. stateの検証（CSRF対策）
	state := q.Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		h.logger.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateパラメータが不正です"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/callbacks",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 3. 認可コードの取得
	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	// 4. トークン交換
	user, err := h.exchanger.ExchangeCode(r.Context(), code)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	// 5. 登録（同一ユーザーの再認可は何もしない）
	created, err := h.users.Create(r.Context(), user)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	h.logger.Info("user authorized",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.Bool("created", created),
	)

	http.Redirect(w, r, "/callbacks/confirmed", http.StatusSeeOther)
}

// Confirmed は認可完了を通知する。
// GET /callbacks/confirmed
func (h *AuthHandler) Confirmed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "認可が完了しました。",
	})
}

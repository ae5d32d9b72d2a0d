package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/hitoshi/mediahook/internal/model"
)

// Unsubscriber は全購読を解除してストアを消去する能力。
type Unsubscriber interface {
	UnsubscribeAll(ctx context.Context) error
}

// UserDeleter は認証済みユーザーを削除する能力。
type UserDeleter interface {
	DeleteByUsername(ctx context.Context, username string) error
}

// SubscriptionLister は購読レコードを列挙する能力。
type SubscriptionLister interface {
	List(ctx context.Context) ([]*model.Subscription, error)
}

// FailureLister は失敗した再取得タスクを列挙する能力。
type FailureLister interface {
	List(ctx context.Context) ([]*model.ReconcileFailure, error)
}

// AdminHandler は運用者向けの管理HTTPハンドラー。
// 管理トークンによる認証ミドルウェアの内側に配置すること。
type AdminHandler struct {
	unsubscriber  Unsubscriber
	users         UserDeleter
	subscriptions SubscriptionLister
	failures      FailureLister
	logger        *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(unsubscriber Unsubscriber, users UserDeleter, subscriptions SubscriptionLister, failures FailureLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		unsubscriber:  unsubscriber,
		users:         users,
		subscriptions: subscriptions,
		failures:      failures,
		logger:        logger,
	}
}

// ListSubscriptions は保存済みの購読一覧を返す。
// GET /admin/subscriptions
func (h *AdminHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subscriptions.List(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if subs == nil {
		subs = []*model.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// DeleteSubscriptions は上流の全購読を解除し、ストアを消去する。
// POST /admin/subscriptions/delete
func (h *AdminHandler) DeleteSubscriptions(w http.ResponseWriter, r *http.Request) {
	if err := h.unsubscriber.UnsubscribeAll(r.Context()); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	principal, _ := middleware.PrincipalFromContext(r.Context())
	h.logger.Info("all subscriptions deleted", slog.String("principal", principal))
	writeJSON(w, http.StatusOK, statusResponse{Status: "OK"})
}

// DeleteUser は認証済みユーザーとそのインデックスを削除する。
// POST /admin/users/{username}/delete
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	err := h.users.DeleteByUsername(r.Context(), username)
	if errors.Is(err, model.ErrNotFound) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(username))
		return
	}
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("user deleted", slog.String("username", username))
	writeJSON(w, http.StatusOK, statusResponse{Status: "OK"})
}

// ListFailures は完了できなかった再取得タスクの記録を返す。
// GET /admin/failures
func (h *AdminHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := h.failures.List(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if failures == nil {
		failures = []*model.ReconcileFailure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/repository"
	"github.com/hitoshi/mediahook/internal/upstream"
)

// statusResponse はコールバックと管理系エンドポイントの簡易レスポンス。
type statusResponse struct {
	Status   string `json:"status"`
	Accepted *int   `json:"accepted,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 上流の失敗はUPSTREAM_QUERY_FAILED、ストアの失敗はSTORE_FAILEDとして扱い、
// それ以外の非APIErrorは内部エラーとしてログに残す。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusForAPIError(apiErr), apiErr)
		return
	}

	if errors.Is(err, upstream.ErrQueryFailed) {
		logger.Warn("upstream query failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamQueryFailedError(upstreamReason(err)))
		return
	}

	if errors.Is(err, repository.ErrStore) {
		logger.Error("store operation failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreFailedError())
		return
	}

	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// upstreamReason は上流エラーからユーザーに見せてよい理由を取り出す。
func upstreamReason(err error) string {
	var upErr *upstream.Error
	if errors.As(err, &upErr) && upErr.Type != "" {
		return upErr.Type
	}
	return "unavailable"
}

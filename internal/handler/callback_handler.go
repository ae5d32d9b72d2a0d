package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mediahook/internal/metrics"
	"github.com/hitoshi/mediahook/internal/middleware"
	"github.com/hitoshi/mediahook/internal/model"
	"github.com/hitoshi/mediahook/internal/reconcile"
	"github.com/hitoshi/mediahook/internal/security"
)

// DefaultMaxNotificationBytes は通知ボディの上限サイズ。
const DefaultMaxNotificationBytes int64 = 1 << 20

// BatchDispatcher は検証済みの通知バッチを再取得タスクへ振り分ける能力。
type BatchDispatcher interface {
	HandleBatch(ctx context.Context, batch *model.NotificationBatch) reconcile.BatchResult
}

// CallbackHandlerConfig は通知受信ハンドラーの設定。
type CallbackHandlerConfig struct {
	// ClientSecret は署名検証に使う共有シークレット。
	ClientSecret string
	// VerifyToken は購読作成時のハンドシェイクで照合するトークン。空の場合は照合しない。
	VerifyToken  string
	MaxBodyBytes int64
}

// CallbackHandler は上流プラットフォームからの更新通知を受け付けるHTTPハンドラー。
type CallbackHandler struct {
	dispatcher BatchDispatcher
	collector  metrics.MetricsCollector
	config     CallbackHandlerConfig
	logger     *slog.Logger
}

// NewCallbackHandler はCallbackHandlerを生成する。
func NewCallbackHandler(dispatcher BatchDispatcher, collector metrics.MetricsCollector, config CallbackHandlerConfig, logger *slog.Logger) *CallbackHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxNotificationBytes
	}
	return &CallbackHandler{
		dispatcher: dispatcher,
		collector:  collector,
		config:     config,
		logger:     logger,
	}
}

// Handshake は購読作成時の到達確認に応答し、hub.challengeをそのまま返す。
// GET /callbacks?hub.mode=subscribe&hub.challenge=xxx&hub.verify_token=yyy
func (h *CallbackHandler) Handshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge := q.Get("hub.challenge")
	if challenge == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("hub.challengeがありません"))
		return
	}

	if h.config.VerifyToken != "" && q.Get("hub.verify_token") != h.config.VerifyToken {
		h.logger.Warn("callback handshake rejected",
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeJSON(w, http.StatusForbidden, statusResponse{Status: "FAIL"})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// Notify は更新通知を受け取る。
// POST /callbacks
//
// 生ボディの署名を検証し、一致しない場合は何も振り分けずに403を返す。
// 一致した場合は通知ごとに遅延再取得をスケジュールして即座に応答する。
func (h *CallbackHandler) Notify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidRequestError("通知ボディが大きすぎます"))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("通知ボディを読み取れません"))
		return
	}

	signature := r.Header.Get(security.SignatureHeader)
	if !security.Verify(body, signature, h.config.ClientSecret) {
		h.collector.RecordSignatureFailure()
		h.logger.Warn("notification signature mismatch",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("body_bytes", len(body)),
			slog.Bool("signature_present", signature != ""),
		)
		writeJSON(w, http.StatusForbidden, statusResponse{Status: "FAIL"})
		return
	}

	entries, err := decodeNotifications(body)
	if err != nil {
		h.logger.Warn("malformed notification payload", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("通知ペイロードがJSONとして不正です"))
		return
	}
	h.collector.RecordNotifications(len(entries))

	result := h.dispatcher.HandleBatch(r.Context(), &model.NotificationBatch{
		Entries: entries,
		Raw:     body,
	})

	h.logger.Info("notifications dispatched",
		slog.Int("received", len(entries)),
		slog.Int("accepted", result.Accepted),
		slog.Int("skipped", result.Skipped),
		slog.Int("rejected", result.Rejected),
	)

	accepted := result.Accepted
	writeJSON(w, http.StatusOK, statusResponse{Status: "OK", Accepted: &accepted})
}

// decodeNotifications は通知ペイロードを解析する。
// 上流は通知を配列で送るが、単一オブジェクトも受け付ける。
func decodeNotifications(body []byte) ([]model.Notification, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single model.Notification
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		return []model.Notification{single}, nil
	}

	var entries []model.Notification
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

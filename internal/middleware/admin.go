// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mediahook/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに操作主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// AdminPrincipal は管理トークンで認証されたリクエストの操作主体名。
const AdminPrincipal = "admin"

// NewAdminAuthMiddleware はAuthorization: Bearerヘッダーを管理トークンと照合するミドルウェアを返す。
// トークンが未設定の場合は管理エンドポイント全体を無効化し、404を返す。
// 不一致の場合は401を返す。
func NewAdminAuthMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.NotFound(w, r)
				return
			}

			presented, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("admin authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "ADMIN_UNAUTHORIZED",
					Message:  "管理トークンが不正です。",
					Category: "auth",
					Action:   "Authorizationヘッダーに正しいトークンを指定してください。",
				})
				return
			}

			ctx := ContextWithPrincipal(r.Context(), AdminPrincipal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// PrincipalFromContext はリクエストコンテキストから操作主体を取得する。
// 管理認証ミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (string, error) {
	principal, ok := ctx.Value(principalContextKey).(string)
	if !ok || principal == "" {
		return "", fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストに操作主体を注入する。
func ContextWithPrincipal(ctx context.Context, principal string) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.principal = principal
	}
	return context.WithValue(ctx, principalContextKey, principal)
}

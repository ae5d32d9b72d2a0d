// Package upstream はメディアプラットフォームのクエリAPIおよび購読APIとの境界を提供する。
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/mediahook/internal/model"
)

// ErrQueryFailed は上流API呼び出しの失敗を表す。
// 呼び出し元は errors.Is で判定し、キャッシュを更新せずに扱う。
var ErrQueryFailed = errors.New("upstream query failed")

// Error は上流APIが返したエラーの詳細。
type Error struct {
	StatusCode int
	Type       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("上流APIエラー (status=%d, type=%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("上流APIエラー (status=%d): %s", e.StatusCode, e.Message)
}

// Unwrap はErrQueryFailedを返す。
func (e *Error) Unwrap() error {
	return ErrQueryFailed
}

// SubscribeRequest は購読作成リクエスト。
// ジオグラフィの場合はObjectIDの代わりに緯度経度と半径を使用する。
type SubscribeRequest struct {
	Kind      model.TopicKind
	ObjectID  string
	Latitude  float64
	Longitude float64
	Radius    int
}

// SubscriptionHandle は上流が返した購読情報。
type SubscriptionHandle struct {
	ID       string          `json:"id"`
	Object   string          `json:"object"`
	ObjectID string          `json:"object_id"`
	Raw      json.RawMessage `json:"-"`
}

// Client は上流プラットフォームの呼び出し能力を表すインターフェース。
// 全ての呼び出しは遅延・失敗しうるものとして扱う。
type Client interface {
	// RecentByTag はタグの最新メディアを取得する。minIDが空の場合は最新ページを返す。
	RecentByTag(ctx context.Context, name, minID string) ([]model.MediaItem, model.Pagination, error)

	// RecentByUser はユーザーの最新メディアをそのユーザーのアクセストークンで取得する。
	RecentByUser(ctx context.Context, userID, accessToken, minID string) ([]model.MediaItem, model.Pagination, error)

	// RecentByLocation はロケーションの最新メディアを取得する。
	RecentByLocation(ctx context.Context, locationID, minID string) ([]model.MediaItem, model.Pagination, error)

	// RecentByGeography はジオグラフィの最新メディアを取得する。
	RecentByGeography(ctx context.Context, geographyID, minID string) ([]model.MediaItem, model.Pagination, error)

	// Subscribe はリアルタイム購読を作成する。
	Subscribe(ctx context.Context, req SubscribeRequest) (*SubscriptionHandle, error)

	// UnsubscribeAll は指定スコープの購読を全て解除する。scopeは "all" または種別名。
	UnsubscribeAll(ctx context.Context, scope string) error

	// LocationInfo はロケーションのメタデータを取得する。
	LocationInfo(ctx context.Context, locationID string) (*model.Location, error)

	// AuthorizationURL はユーザー認可画面のURLを返す。
	AuthorizationURL(state string) string

	// ExchangeCode は認可コードをアクセストークンとユーザー情報に交換する。
	ExchangeCode(ctx context.Context, code string) (*model.AuthenticatedUser, error)
}

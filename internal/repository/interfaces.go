// Package repository はトピックストア（名前空間付きキーバリューストア）と
// その上に構築した型付きリポジトリを提供する。
package repository

import (
	"context"

	"github.com/hitoshi/mediahook/internal/model"
)

// ストアの論理名前空間
const (
	// NamespaceUsersByUsername はユーザー名からユーザーIDへのインデックス。
	NamespaceUsersByUsername = "authenticated_users"
	// NamespaceUsersByID は認証済みユーザーの正規レコード。
	NamespaceUsersByID = "authenticated_users_ids"
	// NamespaceGeographies は地理領域メタデータ（上流object_idがキー）。
	NamespaceGeographies = "geographies"
	// NamespaceLocations はロケーションメタデータ（ロケーションIDがキー）。
	NamespaceLocations = "locations"
	// NamespaceSubscriptions は上流購読レコード（kind:idがキー）。
	NamespaceSubscriptions = "subscriptions"
	// NamespaceChannels はトピックのウィンドウとminId（channel:<kind>:<value>がキー）。
	NamespaceChannels = "channels"
	// NamespaceReconcileFailures は完了できなかった再取得タスクの記録。
	NamespaceReconcileFailures = "reconcile_failures"
)

// Key は名前空間とキーの組。
type Key struct {
	Namespace string
	Key       string
}

// Entry は書き込み対象の1レコード。ValueはJSONでなければならない。
type Entry struct {
	Key
	Value []byte
}

// KVStore はトピックストアの能力を表すインターフェース。
// 各呼び出しはプールから接続を取得し、呼び出し終了時に解放する。
// 値は全てJSONでシリアライズされた構造化レコード。
type KVStore interface {
	// Get は値を取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// GetAll は名前空間内の全レコードをキーから値へのマップで返す。
	GetAll(ctx context.Context, namespace string) (map[string][]byte, error)

	// Set は値を上書き保存する。
	Set(ctx context.Context, namespace, key string, value []byte) error

	// Delete はレコードを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, namespace, key string) error

	// SetIfAbsent はキーが存在しない場合のみ書き込む。書き込んだ場合にtrueを返す。
	SetIfAbsent(ctx context.Context, namespace, key string, value []byte) (bool, error)

	// CreateAll は全エントリを1トランザクションで作成する。
	// いずれかのキーが既に存在する場合は何も書き込まずにfalseを返す。
	CreateAll(ctx context.Context, entries []Entry) (bool, error)

	// DeleteAll は全キーを1トランザクションで削除する。
	DeleteAll(ctx context.Context, keys []Key) error

	// ClearAll は全名前空間の全レコードを削除する。
	ClearAll(ctx context.Context) error

	// PingContext はバックエンドへの疎通を確認する。
	PingContext(ctx context.Context) error
}

// TopicRepository はトピックレコード（ウィンドウとminId）の永続化インターフェース。
type TopicRepository interface {
	// Find はトピックを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, kind model.TopicKind, id string) (*model.Topic, error)
	// Save はトピックを上書き保存する。
	Save(ctx context.Context, topic *model.Topic) error
}

// UserRepository は認証済みユーザーの永続化インターフェース。
// 正規レコードはIDで保持し、ユーザー名インデックスと同一トランザクションで更新する。
type UserRepository interface {
	// FindByID はIDでユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AuthenticatedUser, error)
	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.AuthenticatedUser, error)
	// List は全ユーザーをユーザー名順で返す。
	List(ctx context.Context) ([]*model.AuthenticatedUser, error)
	// Create はユーザーを作成する。既に同じユーザー名かIDが存在する場合は何もせずfalseを返す。
	Create(ctx context.Context, user *model.AuthenticatedUser) (bool, error)
	// DeleteByUsername はユーザーとインデックスを削除する。見つからない場合はmodel.ErrNotFoundを返す。
	DeleteByUsername(ctx context.Context, username string) error
}

// GeographyRepository は地理領域メタデータの永続化インターフェース。
type GeographyRepository interface {
	// FindByID は地理領域を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, objectID string) (*model.Geography, error)
	// Save は地理領域を上書き保存する。
	Save(ctx context.Context, geo *model.Geography) error
}

// LocationRepository はロケーションメタデータの永続化インターフェース。
type LocationRepository interface {
	// FindByID はロケーションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Location, error)
	// Save はロケーションを上書き保存する。
	Save(ctx context.Context, loc *model.Location) error
}

// SubscriptionRepository は上流購読レコードの永続化インターフェース。
type SubscriptionRepository interface {
	// Find は購読を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, kind model.TopicKind, objectID string) (*model.Subscription, error)
	// CreateIfAbsent は購読が存在しない場合のみ作成する。作成した場合にtrueを返す。
	CreateIfAbsent(ctx context.Context, sub *model.Subscription) (bool, error)
	// List は全購読を返す。
	List(ctx context.Context) ([]*model.Subscription, error)
}

// FailureRepository は失敗した再取得タスクの記録インターフェース。
type FailureRepository interface {
	// Record は失敗を記録する。
	Record(ctx context.Context, failure *model.ReconcileFailure) error
	// List は記録済みの失敗を返す。
	List(ctx context.Context) ([]*model.ReconcileFailure, error)
}

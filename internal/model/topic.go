// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TopicKind は購読対象トピックの種別を表す閉じた列挙型。
type TopicKind string

const (
	// TopicKindTag はハッシュタグ。
	TopicKindTag TopicKind = "tag"
	// TopicKindLocation は上流プラットフォームのロケーション。
	TopicKindLocation TopicKind = "location"
	// TopicKindGeography は緯度経度と半径で定義される任意の地理領域。
	TopicKindGeography TopicKind = "geography"
	// TopicKindUser は認証済みユーザー。
	TopicKindUser TopicKind = "user"
)

// AllTopicKinds は全てのトピック種別を返す。
// 種別ごとのハンドラー登録を網羅的に行うために使用する。
func AllTopicKinds() []TopicKind {
	return []TopicKind{TopicKindTag, TopicKindLocation, TopicKindGeography, TopicKindUser}
}

// ParseTopicKind は通知ペイロードのobjectフィールド（単数形）を種別に変換する。
func ParseTopicKind(s string) (TopicKind, bool) {
	switch TopicKind(s) {
	case TopicKindTag, TopicKindLocation, TopicKindGeography, TopicKindUser:
		return TopicKind(s), true
	default:
		return "", false
	}
}

// ParseChannelKind はチャンネルURLのパスセグメント（複数形）を種別に変換する。
func ParseChannelKind(s string) (TopicKind, bool) {
	switch s {
	case "tags":
		return TopicKindTag, true
	case "locations":
		return TopicKindLocation, true
	case "geographies":
		return TopicKindGeography, true
	case "users":
		return TopicKindUser, true
	default:
		return "", false
	}
}

// Channel はチャンネルURLおよびストアキーで使用する複数形の名前を返す。
func (k TopicKind) Channel() string {
	switch k {
	case TopicKindTag:
		return "tags"
	case TopicKindLocation:
		return "locations"
	case TopicKindGeography:
		return "geographies"
	case TopicKindUser:
		return "users"
	default:
		return string(k)
	}
}

// TopicKey はトピックレコードのストアキーを返す。形式は channel:<kind>:<value>。
func TopicKey(kind TopicKind, id string) string {
	return fmt.Sprintf("channel:%s:%s", kind.Channel(), id)
}

// Topic は購読対象トピックとキャッシュされた最新ウィンドウを表す。
type Topic struct {
	Kind      TopicKind   `json:"kind"`
	ID        string      `json:"id"`
	MinID     string      `json:"min_id,omitempty"`
	Window    []MediaItem `json:"window"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Key はトピックのストアキーを返す。
func (t *Topic) Key() string {
	return TopicKey(t.Kind, t.ID)
}

// MediaItem は上流プラットフォームのメディア1件を表す。
type MediaItem struct {
	ID          string   `json:"id"`
	Type        string   `json:"type,omitempty"`
	Link        string   `json:"link,omitempty"`
	Caption     string   `json:"caption,omitempty"`
	Username    string   `json:"username,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CreatedTime string   `json:"created_time,omitempty"`
}

// Pagination は上流クエリのページネーション情報。
// MinIDは上流が返す最新カーソルで、空の場合は先頭アイテムのIDで代用する。
type Pagination struct {
	NextURL   string `json:"next_url,omitempty"`
	NextMaxID string `json:"next_max_id,omitempty"`
	MinID     string `json:"min_id,omitempty"`
}

// Geography は地理領域購読のメタデータ。
type Geography struct {
	ObjectID  string          `json:"object_id"`
	Name      string          `json:"geography_name"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Radius    int             `json:"radius"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Location は上流ロケーションのメタデータ。上流の生ペイロードを保持する。
type Location struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Subscription は上流プラットフォームへの購読登録を表す。
// (Kind, ObjectID) ごとに最大1件。
type Subscription struct {
	Kind       TopicKind `json:"kind"`
	ObjectID   string    `json:"object_id"`
	UpstreamID string    `json:"upstream_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// SubscriptionKey は購読レコードのストアキーを返す。
func SubscriptionKey(kind TopicKind, objectID string) string {
	return string(kind) + ":" + objectID
}

// Notification は更新通知1件。
type Notification struct {
	Object   TopicKind `json:"object"`
	ObjectID string    `json:"object_id"`
}

// NotificationBatch は1回のWebhook呼び出しで届く通知の集合。
// Rawは署名検証に使用した生ボディ。
type NotificationBatch struct {
	Entries []Notification
	Raw     []byte
}

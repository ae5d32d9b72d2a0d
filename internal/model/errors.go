package model

import (
	"errors"
	"fmt"
)

// ErrNotFound はストアまたは上流に対象が存在しないことを表す。
var ErrNotFound = errors.New("not found")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, store, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeUpstreamQueryFailed  = "UPSTREAM_QUERY_FAILED"
	ErrCodeUnrecognizedChannel  = "UNRECOGNIZED_CHANNEL"
	ErrCodeTopicNotFound        = "TOPIC_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeStoreFailed          = "STORE_FAILED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
)

// NewAuthenticationFailedError は署名不一致エラーを生成する。
func NewAuthenticationFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  "通知の署名を検証できませんでした。",
		Category: "auth",
		Action:   "共有シークレットの設定を確認してください。",
	}
}

// NewUpstreamQueryFailedError は上流APIクエリ失敗エラーを生成する。
func NewUpstreamQueryFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamQueryFailed,
		Message:  fmt.Sprintf("上流APIの呼び出しに失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnrecognizedChannelError は未知のチャンネルに対する汎用エラーを生成する。
func NewUnrecognizedChannelError() *APIError {
	return &APIError{
		Code:     ErrCodeUnrecognizedChannel,
		Message:  "Pardon?",
		Category: "validation",
		Action:   "チャンネルの種類と値を確認してください。",
	}
}

// NewTopicNotFoundError はトピックのメタデータが見つからない場合のエラーを生成する。
func NewTopicNotFoundError(kind TopicKind, id string) *APIError {
	return &APIError{
		Code:     ErrCodeTopicNotFound,
		Message:  fmt.Sprintf("指定されたトピックが見つかりません: %s/%s", kind.Channel(), id),
		Category: "validation",
		Action:   "トピックIDを確認してください。",
	}
}

// NewUserNotFoundError は認証済みユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", username),
		Category: "auth",
		Action:   "ユーザーに再度認可を依頼してください。",
	}
}

// NewStoreFailedError はストア障害エラーを生成する。
func NewStoreFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreFailed,
		Message:  "データストアに接続できません。",
		Category: "store",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

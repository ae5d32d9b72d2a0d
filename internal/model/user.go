package model

import (
	"encoding/json"
	"time"
)

// AuthenticatedUser は認可フローを完了した閲覧ユーザーを表す。
// 正規レコードはIDで保持し、ユーザー名はセカンダリインデックスで解決する。
type AuthenticatedUser struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	AccessToken string          `json:"access_token"`
	Profile     json.RawMessage `json:"profile,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ReconcileFailure は完了できなかった再取得タスクの記録。
type ReconcileFailure struct {
	TaskID   string    `json:"task_id"`
	Kind     TopicKind `json:"kind"`
	ObjectID string    `json:"object_id"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hitoshi/mediahook/internal/model"
)

// usernameIndex はユーザー名インデックスの値。
type usernameIndex struct {
	ID string `json:"id"`
}

// KVUserRepo はKVStore上の認証済みユーザーリポジトリ。
// 正規レコード（authenticated_users_ids）とユーザー名インデックス（authenticated_users）を
// CreateAll/DeleteAllで同時に更新し、片方だけが残る状態を作らない。
type KVUserRepo struct {
	store KVStore
}

// NewKVUserRepo はKVUserRepoを生成する。
func NewKVUserRepo(store KVStore) *KVUserRepo {
	return &KVUserRepo{store: store}
}

// FindByID はIDでユーザーを取得する。見つからない場合はnilを返す。
func (r *KVUserRepo) FindByID(ctx context.Context, id string) (*model.AuthenticatedUser, error) {
	user := &model.AuthenticatedUser{}
	found, err := getJSON(ctx, r.store, NamespaceUsersByID, id, user)
	if err != nil || !found {
		return nil, err
	}
	return user, nil
}

// FindByUsername はユーザー名インデックスを経由してユーザーを取得する。
// インデックスの参照先が存在しない場合はnilを返す。
func (r *KVUserRepo) FindByUsername(ctx context.Context, username string) (*model.AuthenticatedUser, error) {
	var idx usernameIndex
	found, err := getJSON(ctx, r.store, NamespaceUsersByUsername, username, &idx)
	if err != nil || !found {
		return nil, err
	}
	return r.FindByID(ctx, idx.ID)
}

// List は全ユーザーをユーザー名順で返す。
func (r *KVUserRepo) List(ctx context.Context) ([]*model.AuthenticatedUser, error) {
	all, err := r.store.GetAll(ctx, NamespaceUsersByID)
	if err != nil {
		return nil, err
	}
	users := make([]*model.AuthenticatedUser, 0, len(all))
	for id, raw := range all {
		user := &model.AuthenticatedUser{}
		if err := json.Unmarshal(raw, user); err != nil {
			return nil, fmt.Errorf("ユーザーレコードのデコードに失敗しました (%s): %w", id, err)
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Create は正規レコードとユーザー名インデックスを1トランザクションで作成する。
// 既存ユーザーは上書きしない。
func (r *KVUserRepo) Create(ctx context.Context, user *model.AuthenticatedUser) (bool, error) {
	if user.ID == "" || user.Username == "" {
		return false, fmt.Errorf("ユーザーIDとユーザー名は必須です")
	}
	record, err := json.Marshal(user)
	if err != nil {
		return false, fmt.Errorf("ユーザーレコードのエンコードに失敗しました: %w", err)
	}
	index, err := json.Marshal(usernameIndex{ID: user.ID})
	if err != nil {
		return false, fmt.Errorf("ユーザー名インデックスのエンコードに失敗しました: %w", err)
	}

	return r.store.CreateAll(ctx, []Entry{
		{Key: Key{Namespace: NamespaceUsersByUsername, Key: user.Username}, Value: index},
		{Key: Key{Namespace: NamespaceUsersByID, Key: user.ID}, Value: record},
	})
}

// DeleteByUsername はユーザーとインデックスを1トランザクションで削除する。
func (r *KVUserRepo) DeleteByUsername(ctx context.Context, username string) error {
	var idx usernameIndex
	found, err := getJSON(ctx, r.store, NamespaceUsersByUsername, username, &idx)
	if err != nil {
		return err
	}
	if !found {
		return model.ErrNotFound
	}
	return r.store.DeleteAll(ctx, []Key{
		{Namespace: NamespaceUsersByUsername, Key: username},
		{Namespace: NamespaceUsersByID, Key: idx.ID},
	})
}

var _ UserRepository = (*KVUserRepo)(nil)

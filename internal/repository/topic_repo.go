package repository

import (
	"context"

	"github.com/hitoshi/mediahook/internal/model"
)

// KVTopicRepo はKVStore上のトピックリポジトリ。
type KVTopicRepo struct {
	store KVStore
}

// NewKVTopicRepo はKVTopicRepoを生成する。
func NewKVTopicRepo(store KVStore) *KVTopicRepo {
	return &KVTopicRepo{store: store}
}

// Find はトピックを取得する。見つからない場合はnilを返す。
func (r *KVTopicRepo) Find(ctx context.Context, kind model.TopicKind, id string) (*model.Topic, error) {
	topic := &model.Topic{}
	found, err := getJSON(ctx, r.store, NamespaceChannels, model.TopicKey(kind, id), topic)
	if err != nil || !found {
		return nil, err
	}
	return topic, nil
}

// Save はトピックを上書き保存する。
func (r *KVTopicRepo) Save(ctx context.Context, topic *model.Topic) error {
	return setJSON(ctx, r.store, NamespaceChannels, topic.Key(), topic)
}

var _ TopicRepository = (*KVTopicRepo)(nil)

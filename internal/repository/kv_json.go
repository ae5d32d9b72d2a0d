package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// getJSON はレコードを取得してdestにデコードする。存在しない場合はfalseを返す。
func getJSON(ctx context.Context, store KVStore, namespace, key string, dest any) (bool, error) {
	raw, err := store.Get(ctx, namespace, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("レコードのデコードに失敗しました (%s/%s): %w", namespace, key, err)
	}
	return true, nil
}

// setJSON は値をJSONにエンコードして保存する。
func setJSON(ctx context.Context, store KVStore, namespace, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("レコードのエンコードに失敗しました (%s/%s): %w", namespace, key, err)
	}
	return store.Set(ctx, namespace, key, raw)
}

// Package repotest はテスト用のSQLiteインメモリストアを提供する。
package repotest

import (
	"context"
	"testing"

	"github.com/hitoshi/mediahook/internal/database"
	"github.com/hitoshi/mediahook/internal/repository"
)

// NewStore はスキーマ適用済みのSQLiteインメモリKVStoreを返す。
// DBはテスト終了時に閉じる。
func NewStore(t testing.TB) *repository.SQLKVStore {
	t.Helper()
	db, driver, err := database.Open("sqlite::memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.EnsureSQLiteSchema(context.Background(), db); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return repository.NewSQLKVStore(db, driver)
}

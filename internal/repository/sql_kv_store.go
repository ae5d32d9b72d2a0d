package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/mediahook/internal/database"
)

// ErrStore はバックエンドへの読み書きが失敗したことを示す。
// SQLKVStoreが返すエラーはすべてこれをラップする。
var ErrStore = errors.New("store operation failed")

func storeError(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrStore, fmt.Errorf(format, args...))
}

// SQLKVStore はkv_entriesテーブルを使用したKVStoreの実装。
// PostgreSQL（lib/pq）とSQLite（modernc.org/sqlite）の両方で動作する。
// クエリは "?" プレースホルダで記述し、PostgreSQLでは "$n" に変換する。
type SQLKVStore struct {
	db     *sql.DB
	driver database.Driver
}

// NewSQLKVStore はSQLKVStoreを生成する。
func NewSQLKVStore(db *sql.DB, driver database.Driver) *SQLKVStore {
	return &SQLKVStore{db: db, driver: driver}
}

// NewPostgresKVStore はPostgreSQL用のSQLKVStoreを生成する。
func NewPostgresKVStore(db *sql.DB) *SQLKVStore {
	return NewSQLKVStore(db, database.DriverPostgres)
}

// NewSQLiteKVStore はSQLite用のSQLKVStoreを生成する。
func NewSQLiteKVStore(db *sql.DB) *SQLKVStore {
	return NewSQLKVStore(db, database.DriverSQLite)
}

// rebind は "?" プレースホルダをドライバに合わせて変換する。
func (s *SQLKVStore) rebind(query string) string {
	if s.driver != database.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get は値を取得する。存在しない場合はnilを返す。
func (s *SQLKVStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`),
		namespace, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("レコードの取得に失敗しました (%s/%s): %w", namespace, key, err)
	}
	return value, nil
}

// GetAll は名前空間内の全レコードを返す。
func (s *SQLKVStore) GetAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT key, value FROM kv_entries WHERE namespace = ? ORDER BY key ASC`),
		namespace,
	)
	if err != nil {
		return nil, storeError("レコード一覧の取得に失敗しました (%s): %w", namespace, err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, storeError("レコード行の読み取りに失敗しました: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("レコード一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// Set は値を上書き保存する。
func (s *SQLKVStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO kv_entries (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`),
		namespace, key, string(value),
	)
	if err != nil {
		return storeError("レコードの保存に失敗しました (%s/%s): %w", namespace, key, err)
	}
	return nil
}

// Delete はレコードを削除する。
func (s *SQLKVStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`),
		namespace, key,
	)
	if err != nil {
		return storeError("レコードの削除に失敗しました (%s/%s): %w", namespace, key, err)
	}
	return nil
}

// SetIfAbsent はキーが存在しない場合のみ書き込む。
func (s *SQLKVStore) SetIfAbsent(ctx context.Context, namespace, key string, value []byte) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.insertIfAbsentQuery(), namespace, key, string(value))
	if err != nil {
		return false, storeError("レコードの作成に失敗しました (%s/%s): %w", namespace, key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storeError("作成結果の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// CreateAll は全エントリを1トランザクションで作成する。
// いずれかが既に存在する場合はロールバックしてfalseを返す。
func (s *SQLKVStore) CreateAll(ctx context.Context, entries []Entry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeError("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.insertIfAbsentQuery()
	for _, e := range entries {
		result, err := tx.ExecContext(ctx, query, e.Namespace, e.Key.Key, string(e.Value))
		if err != nil {
			return false, storeError("レコードの作成に失敗しました (%s/%s): %w", e.Namespace, e.Key.Key, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return false, storeError("作成結果の取得に失敗しました: %w", err)
		}
		if n == 0 {
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storeError("failed to commit transaction: %w", err)
	}
	return true, nil
}

// DeleteAll は全キーを1トランザクションで削除する。
func (s *SQLKVStore) DeleteAll(ctx context.Context, keys []Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind(`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k.Namespace, k.Key); err != nil {
			return storeError("レコードの削除に失敗しました (%s/%s): %w", k.Namespace, k.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("failed to commit transaction: %w", err)
	}
	return nil
}

// ClearAll は全レコードを削除する。
func (s *SQLKVStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries`); err != nil {
		return storeError("全レコードの削除に失敗しました: %w", err)
	}
	return nil
}

// PingContext はバックエンドへの疎通を確認する。
func (s *SQLKVStore) PingContext(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeError("ストアへの接続確認に失敗しました: %w", err)
	}
	return nil
}

func (s *SQLKVStore) insertIfAbsentQuery() string {
	return s.rebind(`INSERT INTO kv_entries (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (namespace, key) DO NOTHING`)
}

// compile-time interface check
var _ KVStore = (*SQLKVStore)(nil)

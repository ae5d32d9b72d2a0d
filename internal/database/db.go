package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver はストアのバックエンド種別を表す。
type Driver string

const (
	// DriverPostgres はPostgreSQLバックエンド。
	DriverPostgres Driver = "postgres"
	// DriverSQLite はSQLiteバックエンド。単一ノード運用とテストで使用する。
	DriverSQLite Driver = "sqlite"
)

// ParseURL はDATABASE_URLからドライバとDSNを取り出す。
// "postgres://" / "postgresql://" はPostgreSQL、"sqlite:" プレフィックスはSQLiteとして扱う。
func ParseURL(databaseURL string) (Driver, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		dsn := strings.TrimPrefix(databaseURL, "sqlite:")
		dsn = strings.TrimPrefix(dsn, "//")
		if dsn == "" {
			return "", "", fmt.Errorf("empty sqlite path in database URL")
		}
		return DriverSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}

// Open はDATABASE_URLに応じたデータベース接続プールを開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
// SQLiteは単一コネクションに制限する（":memory:" をプール内で共有するため）。
func Open(databaseURL string) (*sql.DB, Driver, error) {
	driver, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return db, driver, nil
}

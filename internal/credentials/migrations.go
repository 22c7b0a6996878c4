package credentials

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Dialect はマイグレーション対象のデータベース種別です。
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Migrate は埋め込まれたスキーマを適用します。適用済みのバージョンはスキップされます。
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var (
		gooseDialect goose.Dialect
		dir          string
	)
	switch dialect {
	case DialectSQLite:
		gooseDialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	case DialectPostgres:
		gooseDialect, dir = goose.DialectPostgres, "migrations/postgres"
	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}

	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}

	// Provider はパッケージグローバルな状態を持たないため、テストの並列実行でも安全です。
	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

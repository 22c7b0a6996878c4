package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/comic-library/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "認証情報ストアのマイグレーションを適用する",
		Long:  `DATABASE_URL が postgres:// なら Postgres に、それ以外は SQLITE_PATH の SQLite に未適用のマイグレーションを適用します。`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	cmd.Println("Running migrations...")
	// Open 時にマイグレーションが適用される
	store, err := openCredentialStore(cmd.Context(), cfg)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	if err := store.Close(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "close store").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

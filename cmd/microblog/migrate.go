package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/microblog/internal/accounts"
	"github.com/yourusername/microblog/internal/config"
)

// migrator は migrate サブコマンドが使う操作です。
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() error
}

// newMigrator はテストで差し替えます。
var newMigrator = func(databaseURL string) (migrator, error) {
	return accounts.NewMigrator(databaseURL)
}

// NewMigrateCmd は migrate サブコマンドを作成します。
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "accounts テーブルのマイグレーションを実行します",
		Long:  `DATABASE_URL の PostgreSQL に対して accounts テーブルのマイグレーションを実行します。`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "未適用のマイグレーションをすべて適用します",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "up")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "すべてのマイグレーションを巻き戻します",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "down")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "現在のスキーマバージョンを表示します",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, "version")
		},
	})

	return cmd
}

func runMigrate(cmd *cobra.Command, direction string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable is required")
	}

	m, err := newMigrator(cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("failed to close migrator: %v\n", closeErr)
		}
	}()

	switch direction {
	case "up":
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "migrate up").Wrap(err)
		}
	case "down":
		cmd.Println("Rolling back migrations...")
		if err := m.Down(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "migrate down").Wrap(err)
		}
	}

	version, dirty, err := m.Version()
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "read version").Wrap(err)
	}
	cmd.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
	return nil
}

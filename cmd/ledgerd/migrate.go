package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"compliance-ledger/internal/config"
	"compliance-ledger/internal/storage/migrations"
	pgstore "compliance-ledger/internal/storage/postgres"
)

var errMemoryStorage = errors.New("storage is 'memory'; nothing is persisted")

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL and ClickHouse schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Storage == config.StorageMemory && cfg.ClickHouseDSN == "" {
				return errMemoryStorage
			}
			ctx := cmd.Context()

			if cfg.Storage == config.StoragePostgres {
				pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
				if err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
				defer pool.Close()
				if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
					return err
				}
				logger.Info("postgres migrations applied")
			}

			if cfg.ClickHouseDSN != "" {
				conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
				if err != nil {
					return err
				}
				_ = conn.Close()
				logger.Info("clickhouse migrations applied")
			}
			return nil
		},
	}
}

package main

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"threshold-lab/internal/storage/migrations"
	"threshold-lab/internal/storage/postgres"
)

func newMigrateCmd(root *rootFlags) *cobra.Command {
	var postgresDSN, clickhouseDSN string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root.config != "" {
				cfg, err := loadConfig(root)
				if err != nil {
					return err
				}
				if postgresDSN == "" {
					postgresDSN = cfg.Postgres.DSN
				}
				if clickhouseDSN == "" {
					clickhouseDSN = cfg.ClickHouse.DSN
				}
			}
			if postgresDSN == "" && clickhouseDSN == "" {
				return errors.New("nothing to migrate: set --postgres-dsn and/or --clickhouse-dsn")
			}

			ctx := cmd.Context()
			logger := log.Logger

			if postgresDSN != "" {
				pool, err := postgres.NewPool(ctx, postgresDSN)
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
					return err
				}
			}

			if clickhouseDSN != "" {
				conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN, logger)
				if err != nil {
					return err
				}
				defer conn.Close()
			}

			logger.Info().Msg("migrations complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL DSN")
	cmd.Flags().StringVar(&clickhouseDSN, "clickhouse-dsn", "", "ClickHouse DSN")
	return cmd
}

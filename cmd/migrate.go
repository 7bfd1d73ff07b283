package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/clinic-recall/internal/app"
	"github.com/jmehdipour/clinic-recall/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create MySQL tables (and ClickHouse tables when enabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Load(cfgPath)
		if err != nil {
			return err
		}

		sqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		if _, err := sqlDB.ExecContext(cmd.Context(), migrations.MySQL); err != nil {
			return fmt.Errorf("exec mysql migration: %w", err)
		}
		log.Info("mysql migration complete")

		if !cfg.ClickHouse.Enabled {
			return nil
		}
		ch, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		defer ch.Close()

		// the ClickHouse driver takes one statement per Exec
		for _, stmt := range strings.Split(migrations.ClickHouse, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := ch.ExecContext(cmd.Context(), stmt); err != nil {
				return fmt.Errorf("exec clickhouse migration: %w", err)
			}
		}
		log.Info("clickhouse migration complete")
		return nil
	},
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/email-scheduler/internal/config"
	"github.com/jmehdipour/email-scheduler/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if cfg.Storage.Driver == "mysql" {
			sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer sqlDB.Close()

			if err := applyFile(sqlDB, filepath.Join(migrationsDir, "mysql", "001_init.sql")); err != nil {
				return err
			}
			fmt.Println(">> mysql migration complete")
		}

		if cfg.ClickHouse.Enabled {
			chDB, err := db.NewClickHouseConnection(db.ClickHouseOptsFrom(cfg.ClickHouse))
			if err != nil {
				return fmt.Errorf("open clickhouse: %w", err)
			}
			defer chDB.Close()

			if err := applyFile(chDB, filepath.Join(migrationsDir, "clickhouse", "001_init.sql")); err != nil {
				return err
			}
			fmt.Println(">> clickhouse migration complete")
		}

		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "migrations root directory")
}

// applyFile runs every statement of a SQL file in order. ClickHouse accepts one
// statement per Exec, so the file is split on ';'.
func applyFile(conn *sqlx.DB, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", path, err)
	}

	for _, stmt := range splitStatements(string(raw)) {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

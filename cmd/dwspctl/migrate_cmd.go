package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/nzwater/compliance-core/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status|version]",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			switch command {
			case "up", "down", "status", "version":
			default:
				return withCode(exitUsage, fmt.Errorf("unknown migrate command %q", command))
			}
			return runMigrate(cmd.Context(), command)
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, command string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := connectDB(ctx, conf)
	if err != nil {
		return err
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(conf.Logger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, migrations.ComplianceDir); err != nil {
		return withCode(exitDB, fmt.Errorf("migrate %s: %w", command, err))
	}
	return nil
}

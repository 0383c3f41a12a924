package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mysqlstore "github.com/InahHwang/d-care-console-sub007/internal/infra/db/mysql"
	pgstore "github.com/InahHwang/d-care-console-sub007/internal/infra/db/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the call tables for the configured SQL driver",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		switch cfg.Database.Driver {
		case "mysql":
			db, err := mysqlstore.Connect(ctx, cfg.MySQLDSN())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := mysqlstore.Migrate(ctx, db); err != nil {
				return err
			}
		case "postgres":
			db, err := pgstore.Connect(ctx, cfg.PostgresDSN())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := pgstore.Migrate(ctx, db); err != nil {
				return err
			}
		default:
			return fmt.Errorf("migrate: driver %q has no schema", cfg.Database.Driver)
		}
		logger.Info("schema up to date", zap.String("driver", cfg.Database.Driver))
		return nil
	},
}

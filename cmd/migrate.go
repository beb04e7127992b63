package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sidrek1992/CFT-App-sub001/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Long:      "Apply (up) or roll back (down) the embedded Postgres migrations. The database is taken from --database-url or DATABASE_URL.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{store.MigrateUp, store.MigrateDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			v := viper.New()
			v.AutomaticEnv()
			if err := v.BindPFlag("DATABASE_URL", cmd.Flags().Lookup("database-url")); err != nil {
				return err
			}
			dsn := v.GetString("DATABASE_URL")

			if err := store.Migrate(dsn, args[0]); err != nil {
				return err
			}

			ver, dirty, err := store.MigrationVersion(dsn)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "direction", args[0], "version", ver, "dirty", dirty)
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", ver)
			return nil
		},
	}

	cmd.Flags().String("database-url", "", "Postgres connection URL. Can also use DATABASE_URL env var.")
	return cmd
}

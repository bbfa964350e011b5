package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wilsonaustin10/arnoldaibackend/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply workout storage migrations",
	Long: `Creates or upgrades the workouts schema for the configured storage
driver. serve does this on start; migrate lets deployments run it as a
separate step.`,
	Args:   cobra.NoArgs,
	PreRun: func(cmd *cobra.Command, _ []string) { bindStorageFlags(cmd) },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Driver == config.DriverMemory {
			return fmt.Errorf("the memory driver has no schema to migrate")
		}

		repo, err := openRepository(cmd.Context(), cfg.Storage, true)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()

		fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", cfg.Storage.Driver)
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("storage-driver", "", "Workout storage: sqlite or postgres")
	migrateCmd.Flags().String("storage-dsn", "", "Workout storage DSN or SQLite path")
	rootCmd.AddCommand(migrateCmd)
}

// bindStorageFlags points the storage keys at the running command's flags.
// serve and migrate both define them and viper keeps one binding per key.
func bindStorageFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("storage.driver", cmd.Flags().Lookup("storage-driver"))
	_ = viper.BindPFlag("storage.dsn", cmd.Flags().Lookup("storage-dsn"))
}

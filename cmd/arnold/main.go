// Command arnold runs the Arnold realtime workout voice agent.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wilsonaustin10/arnoldaibackend/config"
	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/version"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "arnold",
	Short:         "Arnold - realtime voice workout tracker",
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `Arnold bridges client audio websockets to the OpenAI Realtime API and
logs the workouts it hears through function calls.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("verbose") {
			logger.SetVerbose(verbose)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig reads .env, the config file, environment and bound flags, then
// applies the logging section.
func loadConfig() (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.DefaultLevel = "debug"
	}
	if err := logger.Configure(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	rootCmd.SetVersionTemplate(version.Get().String() + "\n")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

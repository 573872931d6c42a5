package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crypto-etl/internal/app"
	"crypto-etl/internal/config"
	"crypto-etl/internal/logging"
)

var (
	cfgFile    string
	logLevel   string
	appHandle  *app.App
	closeLogFn func() error
)

var rootCmd = &cobra.Command{
	Use:           "cryptoetl",
	Short:         "Fetch CoinGecko market data, enrich it, and upsert it into a relational store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, closeLog, err := logging.NewLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		closeLogFn = closeLog

		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if closeLogFn != nil {
		_ = closeLogFn()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

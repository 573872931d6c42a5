package cli

import (
	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single extract, transform, load cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Once(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scheduled pipeline cycles until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and index page",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run scheduled cycles and the read API together",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Up(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the crypto_data schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

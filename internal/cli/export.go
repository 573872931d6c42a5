package cli

import (
	"github.com/spf13/cobra"

	"crypto-etl/internal/app"
)

var (
	exportPNGPath string
	exportCSVPath string
	exportMaxRows int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored rows as CSV and/or a market cap PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
			MaxRows: exportMaxRows,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum rows to export (defaults to config)")
}

package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart/v2"

	"crypto-etl/internal/market"
	"crypto-etl/internal/storage"
)

const chartBars = 10

// Export writes stored rows as CSV and/or a market capitalisation bar chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = a.Config.Export.MaxRows
	}

	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := backend.TopByMarketCap(ctx, opts.MaxRows)
	if errors.Is(err, storage.ErrTableNotFound) {
		a.Logger.Info().Msg("crypto_data not created yet; nothing to export")
		return nil
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no rows found for export")
		return nil
	}

	columns, err := backend.Columns(ctx)
	if err != nil {
		return err
	}
	batch := market.Batch{Columns: columns, Records: rows}
	a.Logger.Info().Int("rows", batch.Len()).Int("columns", len(columns)).Msg("exporting rows")

	if opts.CSVPath != "" {
		if err := writeRowsCSV(opts.CSVPath, batch); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeMarketCapPNG(opts.PNGPath, batch.Head(chartBars)); err != nil {
			return err
		}
	}

	return nil
}

func writeRowsCSV(path string, batch market.Batch) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return market.WriteCSV(file, batch)
}

func writeMarketCapPNG(path string, batch market.Batch) error {
	bars := make([]chart.Value, 0, batch.Len())
	for _, rec := range batch.Records {
		capValue, ok := rec.Get(market.ColMarketCap).(float64)
		if !ok {
			continue
		}
		label := market.FormatValue(rec.Get(market.ColSymbol))
		if label == "" {
			label = market.FormatValue(rec.Get(market.ColID))
		}
		// billions keep the axis readable
		bars = append(bars, chart.Value{Label: label, Value: capValue / 1e9})
	}
	if len(bars) == 0 {
		return errors.New("no rows with a market cap to chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	graph := chart.BarChart{
		Title:  "Market capitalisation (USD bn)",
		Width:  1280,
		Height: 720,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		BarWidth: 60,
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

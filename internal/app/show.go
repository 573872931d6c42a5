package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"crypto-etl/internal/market"
	"crypto-etl/internal/storage"
)

// Show prints the stored rows with the largest market capitalisation.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	backend, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := backend.TopByMarketCap(ctx, opts.Limit)
	if errors.Is(err, storage.ErrTableNotFound) {
		fmt.Fprintln(a.Out, "crypto_data has not been created yet")
		return nil
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no rows found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rank\tID\tSymbol\tPrice\tMarket cap\t24h %\tCategory\tUpdated (UTC)")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			orDash(market.FormatValue(row.Get(market.ColMarketCapRank))),
			sanitizeInline(market.FormatValue(row.Get(market.ColID))),
			strings.ToUpper(sanitizeInline(market.FormatValue(row.Get(market.ColSymbol)))),
			formatNumber(row.Get(market.ColCurrentPrice), 4),
			formatNumber(row.Get(market.ColMarketCap), 0),
			formatNumber(row.Get(market.ColPriceChangePercentage24h), 2),
			orDash(market.FormatValue(row.Get(market.ColMarketCapCategory))),
			formatTime(row.Get(market.ColLastUpdated)),
		)
	}

	return writer.Flush()
}

func formatNumber(v any, places int32) string {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val).StringFixed(places)
	case float32:
		return decimal.NewFromFloat32(val).StringFixed(places)
	case int64:
		return decimal.NewFromInt(val).StringFixed(places)
	default:
		return "-"
	}
}

func formatTime(v any) string {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339)
	}
	return orDash(market.FormatValue(v))
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

package fetcher

import (
	"context"
	"encoding/json"

	"crypto-etl/internal/market"
)

// MarketsFetcher retrieves a snapshot of the tracked assets and the raw response body.
type MarketsFetcher interface {
	FetchMarkets(ctx context.Context) (market.Batch, json.RawMessage, error)
}

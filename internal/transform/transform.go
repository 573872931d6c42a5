package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"crypto-etl/internal/market"
)

var (
	// ErrMissingColumn reports a non-empty batch lacking a column every formula depends on.
	ErrMissingColumn = errors.New("transform: required column missing")
	// ErrInvalidID reports an empty or duplicated asset id.
	ErrInvalidID = errors.New("transform: invalid record id")
)

const (
	significantMovePct = 5.0
	defaultROICurrency = "usd"
)

var categoryThresholds = []struct {
	below    float64
	category string
}{
	{1e9, market.CategorySmall},
	{10e9, market.CategoryMid},
	{100e9, market.CategoryLarge},
}

// Transformer normalises and enriches market batches.
type Transformer struct {
	now func() time.Time
}

// New constructs a Transformer. A nil clock falls back to time.Now.
func New(now func() time.Time) *Transformer {
	if now == nil {
		now = time.Now
	}
	return &Transformer{now: now}
}

// Apply returns a new batch with coerced columns and derived metrics. The input is not
// modified. An empty batch is returned unchanged.
func (t *Transformer) Apply(batch market.Batch) (out market.Batch, err error) {
	if batch.Empty() {
		return batch, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = market.Batch{}
			err = fmt.Errorf("transform: unexpected failure: %v", r)
		}
	}()

	for _, col := range market.RequiredColumns {
		if !batch.HasColumn(col) {
			return market.Batch{}, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	now := t.now().UTC()
	records := make([]market.Record, len(batch.Records))
	seen := make(map[string]struct{}, len(batch.Records))

	for i, src := range batch.Records {
		rec := src.Clone()

		id := strings.TrimSpace(market.FormatValue(rec.Get(market.ColID)))
		if id == "" {
			return market.Batch{}, fmt.Errorf("%w: empty id at row %d", ErrInvalidID, i)
		}
		if _, dup := seen[id]; dup {
			return market.Batch{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidID, id)
		}
		seen[id] = struct{}{}
		rec[market.ColID] = id

		normalise(rec)
		records[i] = rec
	}

	keepROI := !batch.HasColumn(market.ColROI) && batch.HasColumn(market.ColROITimes)
	totalCap := sumColumn(records, market.ColMarketCap)

	for _, rec := range records {
		derive(rec, now, totalCap, keepROI)
	}

	fillSupply(batch, records)
	fillRank(batch, records)

	return market.Batch{Columns: outputColumns(batch.Columns), Records: records}, nil
}

func normalise(rec market.Record) {
	for _, col := range market.NumericColumns {
		if v, present := rec[col]; present {
			rec[col] = floatOrMissing(toFloat(v))
		}
	}
	for _, col := range market.TimestampColumns {
		if v, present := rec[col]; present {
			if ts, ok := toTime(v); ok {
				rec[col] = ts
			} else {
				rec[col] = nil
			}
		}
	}
	if v, present := rec[market.ColMarketCapRank]; present {
		if rank, ok := toInt(v); ok {
			rec[market.ColMarketCapRank] = rank
		} else {
			rec[market.ColMarketCapRank] = nil
		}
	}
}

func derive(rec market.Record, now time.Time, totalCap float64, keepROI bool) {
	marketCap := rec.Get(market.ColMarketCap)

	rec[market.ColVolumeToMarketCapRatio] = ratio(rec.Get(market.ColTotalVolume), marketCap)
	rec[market.ColPriceToATHRatio] = ratio(rec.Get(market.ColCurrentPrice), rec.Get(market.ColATH))
	rec[market.ColMarketDominance] = ratio(marketCap, totalCap)
	rec[market.ColHasMaxSupply] = rec.Get(market.ColMaxSupply) != nil

	if pct, ok := ratio(rec.Get(market.ColCirculatingSupply), rec.Get(market.ColTotalSupply)).(float64); ok {
		rec[market.ColCirculatingSupplyPercentage] = pct * 100
	} else {
		rec[market.ColCirculatingSupplyPercentage] = nil
	}

	rec[market.ColDaysSinceATH] = nil
	if athDate, ok := rec.Get(market.ColATHDate).(time.Time); ok {
		rec[market.ColDaysSinceATH] = int64(math.Floor(now.Sub(athDate).Hours() / 24))
	}

	rec[market.ColMarketCapCategory] = nil
	if mc, ok := marketCap.(float64); ok {
		rec[market.ColMarketCapCategory] = Category(mc)
	}

	rec[market.ColVolatility] = nil
	high, highOK := rec.Get(market.ColHigh24h).(float64)
	low, lowOK := rec.Get(market.ColLow24h).(float64)
	if highOK && lowOK {
		rec[market.ColVolatility] = ratio(high-low, low)
	}

	rec[market.ColSignificantPriceChange] = nil
	if pct, ok := rec.Get(market.ColPriceChangePercentage24h).(float64); ok {
		rec[market.ColSignificantPriceChange] = math.Abs(pct) > significantMovePct
	}

	rec[market.ColYear], rec[market.ColMonth] = nil, nil
	if updated, ok := rec.Get(market.ColLastUpdated).(time.Time); ok {
		rec[market.ColYear] = int64(updated.Year())
		rec[market.ColMonth] = int64(updated.Month())
	}

	if keepROI {
		times, _ := toFloat(rec.Get(market.ColROITimes))
		pct, _ := toFloat(rec.Get(market.ColROIPercentage))
		currency, ok := rec.Get(market.ColROICurrency).(string)
		if !ok || currency == "" {
			currency = defaultROICurrency
		}
		rec[market.ColROITimes], rec[market.ColROICurrency], rec[market.ColROIPercentage] = times, currency, pct
		return
	}

	times, currency, pct := extractROI(rec.Get(market.ColROI))
	rec[market.ColROITimes] = times
	rec[market.ColROICurrency] = currency
	rec[market.ColROIPercentage] = pct
	delete(rec, market.ColROI)
}

// Category buckets a market capitalisation. Bounds are closed-open.
func Category(marketCap float64) string {
	for _, th := range categoryThresholds {
		if marketCap < th.below {
			return th.category
		}
	}
	return market.CategoryMega
}

// extractROI reads the nested roi object, defaulting each malformed field.
func extractROI(v any) (float64, string, float64) {
	times, currency, pct := 0.0, defaultROICurrency, 0.0

	roi, ok := v.(map[string]any)
	if !ok {
		return times, currency, pct
	}
	if f, ok := toFloat(roi["times"]); ok {
		times = f
	}
	if s, ok := roi["currency"].(string); ok && s != "" {
		currency = s
	}
	if f, ok := toFloat(roi["percentage"]); ok {
		pct = f
	}
	return times, currency, pct
}

func sumColumn(records []market.Record, column string) float64 {
	total := 0.0
	for _, rec := range records {
		if f, ok := rec.Get(column).(float64); ok {
			total += f
		}
	}
	return total
}

// fillSupply zero-fills supply columns carried by the batch. Missing supply means no
// known supply; price and volume fields are never zero-filled.
func fillSupply(batch market.Batch, records []market.Record) {
	for _, col := range market.SupplyColumns {
		if !batch.HasColumn(col) {
			continue
		}
		for _, rec := range records {
			if rec.Get(col) == nil {
				rec[col] = 0.0
			}
		}
	}
}

// fillRank assigns max(observed rank)+1 to records without a rank.
func fillRank(batch market.Batch, records []market.Record) {
	if !batch.HasColumn(market.ColMarketCapRank) {
		return
	}

	var maxRank int64
	for _, rec := range records {
		if rank, ok := rec.Get(market.ColMarketCapRank).(int64); ok && rank > maxRank {
			maxRank = rank
		}
	}
	for _, rec := range records {
		if rec.Get(market.ColMarketCapRank) == nil {
			rec[market.ColMarketCapRank] = maxRank + 1
		}
	}
}

func outputColumns(input []string) []string {
	columns := make([]string, 0, len(input)+len(market.DerivedColumns))
	present := make(map[string]struct{}, cap(columns))
	for _, col := range input {
		if col == market.ColROI {
			continue
		}
		if _, dup := present[col]; dup {
			continue
		}
		present[col] = struct{}{}
		columns = append(columns, col)
	}
	for _, col := range market.DerivedColumns {
		if _, dup := present[col]; dup {
			continue
		}
		present[col] = struct{}{}
		columns = append(columns, col)
	}
	return columns
}

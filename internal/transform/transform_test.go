package transform

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"crypto-etl/internal/market"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTransformer() *Transformer {
	return New(func() time.Time { return fixedNow })
}

func baseColumns(extra ...string) []string {
	cols := []string{"id", "current_price", "market_cap", "total_volume", "high_24h", "low_24h"}
	return append(cols, extra...)
}

func TestApplyBitcoinScenario(t *testing.T) {
	batch := market.Batch{
		Columns: baseColumns("max_supply", "total_supply"),
		Records: []market.Record{{
			"id":            "bitcoin",
			"current_price": json.Number("40000"),
			"market_cap":    json.Number("700000000000"),
			"total_volume":  json.Number("35000000000"),
			"high_24h":      json.Number("41000"),
			"low_24h":       json.Number("39000"),
			"max_supply":    nil,
			"total_supply":  json.Number("0"),
		}},
	}

	out, err := newTestTransformer().Apply(batch)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	rec := out.Records[0]

	if rec.Get(market.ColHasMaxSupply) != false {
		t.Fatalf("has_max_supply = %v, want false", rec.Get(market.ColHasMaxSupply))
	}
	if rec.Get(market.ColMarketCapCategory) != market.CategoryMega {
		t.Fatalf("category = %v", rec.Get(market.ColMarketCapCategory))
	}
	vol, ok := rec.Get(market.ColVolatility).(float64)
	if !ok || math.Abs(vol-0.0513) > 0.0001 {
		t.Fatalf("volatility = %v, want ~0.0513", rec.Get(market.ColVolatility))
	}
	if rec.Get(market.ColCirculatingSupplyPercentage) != nil {
		t.Fatalf("circulating_supply_percentage should be missing, got %v", rec.Get(market.ColCirculatingSupplyPercentage))
	}
	if rec.Get(market.ColMaxSupply) != 0.0 {
		t.Fatalf("max_supply should be zero-filled, got %v", rec.Get(market.ColMaxSupply))
	}
	if rec.Get(market.ColMarketDominance) != 1.0 {
		t.Fatalf("single record dominance = %v", rec.Get(market.ColMarketDominance))
	}
	if ratio := rec.Get(market.ColVolumeToMarketCapRatio).(float64); math.Abs(ratio-0.05) > 1e-12 {
		t.Fatalf("volume_to_market_cap_ratio = %v", ratio)
	}
	if rec.Get(market.ColROITimes) != 0.0 || rec.Get(market.ColROICurrency) != "usd" || rec.Get(market.ColROIPercentage) != 0.0 {
		t.Fatalf("roi defaults not applied: %v %v %v", rec.Get(market.ColROITimes), rec.Get(market.ColROICurrency), rec.Get(market.ColROIPercentage))
	}
	if rec.Get(market.ColSignificantPriceChange) != nil {
		t.Fatal("significant_price_change should be missing without a percentage")
	}
}

func TestApplyEmptyIsIdentity(t *testing.T) {
	in := market.Batch{Columns: []string{}}
	out, err := newTestTransformer().Apply(in)
	if err != nil {
		t.Fatalf("empty batch should not fail: %v", err)
	}
	if !out.Empty() {
		t.Fatal("empty batch should stay empty")
	}
}

func TestCategoryBoundaries(t *testing.T) {
	cases := []struct {
		cap  float64
		want string
	}{
		{0, market.CategorySmall},
		{999_999_999, market.CategorySmall},
		{1e9, market.CategoryMid},
		{10e9 - 1, market.CategoryMid},
		{10e9, market.CategoryLarge},
		{100e9, market.CategoryMega},
		{7e11, market.CategoryMega},
	}
	for _, tc := range cases {
		if got := Category(tc.cap); got != tc.want {
			t.Errorf("Category(%v) = %s, want %s", tc.cap, got, tc.want)
		}
	}
}

func TestVolatilityGuardsZeroAndMissingLow(t *testing.T) {
	batch := market.Batch{
		Columns: baseColumns(),
		Records: []market.Record{
			{"id": "zero", "current_price": 1.0, "market_cap": 1.0, "total_volume": 1.0, "high_24h": 2.0, "low_24h": 0.0},
			{"id": "missing", "current_price": 1.0, "market_cap": 1.0, "total_volume": 1.0, "high_24h": 2.0, "low_24h": nil},
			{"id": "garbage", "current_price": 1.0, "market_cap": 1.0, "total_volume": 1.0, "high_24h": 2.0, "low_24h": "n/a"},
		},
	}

	out, err := newTestTransformer().Apply(batch)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, rec := range out.Records {
		if rec.Get(market.ColVolatility) != nil {
			t.Errorf("%s: volatility = %v, want missing", rec.Get("id"), rec.Get(market.ColVolatility))
		}
	}
	if out.Records[2].Get(market.ColLow24h) != nil {
		t.Fatal("unparseable low_24h should coerce to missing")
	}
}

func TestApplyDerivedFields(t *testing.T) {
	batch := market.Batch{
		Columns: baseColumns("price_change_percentage_24h", "ath", "ath_date", "last_updated",
			"circulating_supply", "total_supply", "max_supply", "market_cap_rank", "roi"),
		Records: []market.Record{
			{
				"id": "ethereum", "current_price": "3000", "market_cap": 3e11, "total_volume": 2e10,
				"high_24h": 3100.0, "low_24h": 2900.0, "price_change_percentage_24h": json.Number("-6.2"),
				"ath": 4800.0, "ath_date": "2024-05-22T00:00:00.000Z", "last_updated": "2024-05-31T23:59:00.000Z",
				"circulating_supply": 120e6, "total_supply": 120e6, "max_supply": nil, "market_cap_rank": json.Number("2"),
				"roi": map[string]any{"times": json.Number("58.4"), "currency": "btc", "percentage": json.Number("5845.2")},
			},
			{
				"id": "tether", "current_price": 1.0, "market_cap": 1e11, "total_volume": 5e10,
				"high_24h": 1.001, "low_24h": 0.999, "price_change_percentage_24h": 0.01,
				"ath": 1.32, "ath_date": "not a date", "last_updated": nil,
				"circulating_supply": nil, "total_supply": 0.0, "max_supply": 21e6, "market_cap_rank": nil,
				"roi": "broken",
			},
		},
	}

	out, err := newTestTransformer().Apply(batch)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	eth, usdt := out.Records[0], out.Records[1]

	if out.HasColumn(market.ColROI) {
		t.Fatal("nested roi column should be dropped")
	}
	if _, present := eth[market.ColROI]; present {
		t.Fatal("roi key should be removed from records")
	}
	if eth.Get(market.ColROITimes) != 58.4 || eth.Get(market.ColROICurrency) != "btc" || eth.Get(market.ColROIPercentage) != 5845.2 {
		t.Fatalf("roi not extracted: %v", eth)
	}
	if usdt.Get(market.ColROICurrency) != "usd" {
		t.Fatal("malformed roi should default")
	}
	if eth.Get(market.ColDaysSinceATH) != int64(10) {
		t.Fatalf("days_since_ath = %v, want 10", eth.Get(market.ColDaysSinceATH))
	}
	if usdt.Get(market.ColDaysSinceATH) != nil || usdt.Get(market.ColATHDate) != nil {
		t.Fatal("unparseable ath_date should be missing")
	}
	if eth.Get(market.ColYear) != int64(2024) || eth.Get(market.ColMonth) != int64(5) {
		t.Fatalf("year/month = %v/%v", eth.Get(market.ColYear), eth.Get(market.ColMonth))
	}
	if usdt.Get(market.ColYear) != nil {
		t.Fatal("year should be missing without last_updated")
	}
	if eth.Get(market.ColSignificantPriceChange) != true || usdt.Get(market.ColSignificantPriceChange) != false {
		t.Fatal("significant_price_change mismatch")
	}
	if eth.Get(market.ColCirculatingSupplyPercentage) != 100.0 {
		t.Fatalf("circulating_supply_percentage = %v", eth.Get(market.ColCirculatingSupplyPercentage))
	}
	if eth.Get(market.ColPriceToATHRatio) != 0.625 {
		t.Fatalf("price_to_ath_ratio = %v", eth.Get(market.ColPriceToATHRatio))
	}
	if eth.Get(market.ColMarketDominance) != 0.75 || usdt.Get(market.ColMarketDominance) != 0.25 {
		t.Fatal("dominance should split total market cap")
	}
	if eth.Get(market.ColHasMaxSupply) != false || usdt.Get(market.ColHasMaxSupply) != true {
		t.Fatal("has_max_supply mismatch")
	}
	if usdt.Get(market.ColCirculatingSupply) != 0.0 {
		t.Fatal("missing circulating_supply should be zero-filled")
	}
	if usdt.Get(market.ColMarketCapRank) != int64(3) {
		t.Fatalf("missing rank should be max+1, got %v", usdt.Get(market.ColMarketCapRank))
	}
	if eth.Get(market.ColLastUpdated).(time.Time).Location() != time.UTC {
		t.Fatal("timestamps should be UTC")
	}
}

func TestApplyDoesNotZeroFillPrices(t *testing.T) {
	batch := market.Batch{
		Columns: baseColumns(),
		Records: []market.Record{
			{"id": "a", "current_price": nil, "market_cap": nil, "total_volume": nil, "high_24h": nil, "low_24h": nil},
		},
	}
	out, err := newTestTransformer().Apply(batch)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	rec := out.Records[0]
	for _, col := range []string{"current_price", "market_cap", "total_volume"} {
		if rec.Get(col) != nil {
			t.Errorf("%s should stay missing, got %v", col, rec.Get(col))
		}
	}
	if rec.Get(market.ColMarketCapCategory) != nil || rec.Get(market.ColMarketDominance) != nil {
		t.Fatal("derived fields on missing market cap should be missing")
	}
}

func TestApplyMissingRequiredColumnIsFatal(t *testing.T) {
	batch := market.Batch{
		Columns: []string{"id", "current_price"},
		Records: []market.Record{{"id": "bitcoin", "current_price": 1.0}},
	}
	_, err := newTestTransformer().Apply(batch)
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestApplyRejectsBadIDs(t *testing.T) {
	row := func(id any) market.Record {
		return market.Record{"id": id, "current_price": 1.0, "market_cap": 1.0, "total_volume": 1.0, "high_24h": 1.0, "low_24h": 1.0}
	}
	for name, records := range map[string][]market.Record{
		"empty":     {row("")},
		"nil":       {row(nil)},
		"duplicate": {row("btc"), row("btc")},
	} {
		_, err := newTestTransformer().Apply(market.Batch{Columns: baseColumns(), Records: records})
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("%s: expected ErrInvalidID, got %v", name, err)
		}
	}
}

func TestApplyStaticFieldsAreIdempotent(t *testing.T) {
	batch := market.Batch{
		Columns: baseColumns("roi"),
		Records: []market.Record{
			{"id": "solana", "current_price": 150.0, "market_cap": 7e10, "total_volume": 3e9, "high_24h": 155.0, "low_24h": 140.0,
				"roi": map[string]any{"times": 2.5, "currency": "usd", "percentage": 250.0}},
		},
	}
	tr := newTestTransformer()

	once, err := tr.Apply(batch)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	twice, err := tr.Apply(once)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	for _, col := range []string{market.ColMarketCapCategory, market.ColVolatility, market.ColVolumeToMarketCapRatio, market.ColROITimes, market.ColROIPercentage} {
		if once.Records[0].Get(col) != twice.Records[0].Get(col) {
			t.Errorf("%s changed between passes: %v -> %v", col, once.Records[0].Get(col), twice.Records[0].Get(col))
		}
	}
	if len(once.Columns) != len(twice.Columns) {
		t.Fatalf("column set changed: %v -> %v", once.Columns, twice.Columns)
	}
}

func TestApplyLeavesInputUntouched(t *testing.T) {
	rec := market.Record{"id": "btc", "current_price": "1", "market_cap": 1.0, "total_volume": 1.0, "high_24h": 1.0, "low_24h": 1.0}
	if _, err := newTestTransformer().Apply(market.Batch{Columns: baseColumns(), Records: []market.Record{rec}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Get("current_price") != "1" {
		t.Fatal("input record was mutated")
	}
	if _, present := rec[market.ColVolatility]; present {
		t.Fatal("derived column leaked into input record")
	}
}

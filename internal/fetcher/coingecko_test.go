package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

const marketsFixture = `[
  {"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":40000,"market_cap":700000000000,
   "market_cap_rank":1,"total_volume":35000000000,"high_24h":41000,"low_24h":39000,
   "roi":null,"last_updated":"2024-05-31T23:59:00.000Z"},
  {"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":3000,"market_cap":300000000000,
   "market_cap_rank":2,"total_volume":20000000000,"high_24h":3100,"low_24h":2900,
   "roi":{"times":58.4,"currency":"btc","percentage":5845.2},"last_updated":"2024-05-31T23:59:00.000Z"}
]`

func TestCoinGeckoFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		for key, want := range map[string]string{
			"vs_currency": "usd",
			"order":       "market_cap_desc",
			"per_page":    "10",
			"page":        "1",
			"sparkline":   "false",
		} {
			if got := q.Get(key); got != want {
				t.Errorf("query %s = %q, want %q", key, got, want)
			}
		}
		if got := r.Header.Get("x-cg-api-key"); got != "secret" {
			t.Errorf("api key header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(marketsFixture))
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second}, noopLogger())

	batch, raw, err := cg.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if batch.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", batch.Len())
	}
	if batch.Columns[0] != "id" || batch.Columns[len(batch.Columns)-1] != "last_updated" {
		t.Fatalf("columns should follow response key order: %v", batch.Columns)
	}
	if !strings.Contains(string(raw), `"bitcoin"`) {
		t.Fatal("raw payload should be returned verbatim")
	}
}

func TestCoinGeckoFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":{"error_code":500,"error_message":"upstream down"}}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	batch, _, err := cg.FetchMarkets(context.Background())
	if err == nil {
		t.Fatal("HTTP 500 should return an error")
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("error should carry api message: %v", err)
	}
	if !batch.Empty() {
		t.Fatal("failed fetch should not return records")
	}
}

func TestCoinGeckoFetchOmitsEmptyAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-Cg-Api-Key"]; ok {
			t.Error("api key header should be omitted when unset")
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	batch, _, err := cg.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("empty array is a valid response: %v", err)
	}
	if !batch.Empty() {
		t.Fatal("expected empty batch")
	}
}

func TestCoinGeckoFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>rate limited</html>`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, _, err := cg.FetchMarkets(context.Background()); err == nil {
		t.Fatal("non-json body should return an error")
	}
}

func TestCoinGeckoRateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second, RequestsPerMinute: 1}, noopLogger())
	if _, _, err := cg.FetchMarkets(context.Background()); err != nil {
		t.Fatalf("first request should pass the limiter: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := cg.FetchMarkets(ctx); err == nil {
		t.Fatal("second request inside the window should fail on the deadline")
	}
}

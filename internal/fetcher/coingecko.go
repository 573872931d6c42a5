package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crypto-etl/internal/market"
)

const (
	defaultBaseURL    = "https://api.coingecko.com/api/v3"
	coinsMarketsPath  = "/coins/markets"
	apiKeyHeader      = "x-cg-api-key"
	defaultUserAgent  = "crypto-etl/1.0"
	maxErrorBodyBytes = 512
)

// CoinGeckoOptions parameterise the markets fetcher.
type CoinGeckoOptions struct {
	BaseURL           string
	APIKey            string
	VsCurrency        string
	Order             string
	PerPage           int
	Page              int
	Sparkline         bool
	Timeout           time.Duration
	UserAgent         string
	RequestsPerMinute int
}

// CoinGecko fetches market snapshots from the CoinGecko REST API.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewCoinGecko constructs a CoinGecko fetcher with defaults for unset options.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	if opts.Order == "" {
		opts.Order = "market_cap_desc"
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 10
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		baseURL: baseURL,
	}
}

// FetchMarkets retrieves one page of /coins/markets and returns it as a batch together
// with the raw response body.
func (c *CoinGecko) FetchMarkets(ctx context.Context) (market.Batch, json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return market.Batch{}, nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(), nil)
	if err != nil {
		return market.Batch{}, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(c.opts.APIKey); key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	c.logger.Debug().Str("url", req.URL.Redacted()).Msg("requesting markets")

	resp, err := c.client.Do(req)
	if err != nil {
		return market.Batch{}, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Batch{}, nil, err
	}

	c.logger.Info().Int("status", resp.StatusCode).Int("bytes", len(payload)).Msg("received markets response")

	if resp.StatusCode != http.StatusOK {
		return market.Batch{}, nil, parseHTTPError(resp.StatusCode, payload)
	}

	batch, err := market.DecodeJSON(payload)
	if err != nil {
		return market.Batch{}, nil, err
	}
	return batch, json.RawMessage(payload), nil
}

func (c *CoinGecko) endpoint() string {
	q := url.Values{}
	q.Set("vs_currency", c.opts.VsCurrency)
	q.Set("order", c.opts.Order)
	q.Set("per_page", strconv.Itoa(c.opts.PerPage))
	q.Set("page", strconv.Itoa(c.opts.Page))
	q.Set("sparkline", strconv.FormatBool(c.opts.Sparkline))
	return c.baseURL + coinsMarketsPath + "?" + q.Encode()
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		body := strings.TrimSpace(string(payload))
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return fmt.Errorf("coingecko api error (%d): %s", status, body)
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ MarketsFetcher = (*CoinGecko)(nil)

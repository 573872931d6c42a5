package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-etl/internal/market"
)

// Telegram 单条消息上限 4096 字符。
const telegramMessageLimit = 4096

// TelegramOptions 配置 Telegram 预览推送。
type TelegramOptions struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Timeout  time.Duration
	// Keys 限定推送的 artifact，为空时全部推送。
	Keys []string
}

// TelegramPublisher 通过 Telegram Bot API 推送预览表。
type TelegramPublisher struct {
	botToken string
	chatID   string
	baseURL  string
	keys     map[string]struct{}
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramPublisher 构造 Telegram 推送器。
func NewTelegramPublisher(opts TelegramOptions, logger zerolog.Logger) *TelegramPublisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.telegram.org"
	}

	var keys map[string]struct{}
	if len(opts.Keys) > 0 {
		keys = make(map[string]struct{}, len(opts.Keys))
		for _, k := range opts.Keys {
			keys[k] = struct{}{}
		}
	}

	return &TelegramPublisher{
		botToken: opts.BotToken,
		chatID:   opts.ChatID,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		keys:     keys,
		client:   &http.Client{Timeout: opts.Timeout},
		logger:   logger.With().Str("component", "artifact_telegram").Logger(),
	}
}

// Publish 调用 sendMessage API 推送文本。
func (p *TelegramPublisher) Publish(ctx context.Context, table Table) error {
	if p.keys != nil {
		if _, ok := p.keys[table.Key]; !ok {
			return nil
		}
	}

	payload := map[string]string{
		"chat_id": p.chatID,
		"text":    renderTable(table),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false")
	}

	p.logger.Info().
		Str("key", table.Key).
		Int("rows", len(table.Records)).
		Msg("预览已发送 (Telegram)")
	return nil
}

func renderTable(table Table) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[crypto-etl] %s\n", table.Key))
	if table.Description != "" {
		builder.WriteString(table.Description)
		builder.WriteString("\n")
	}
	for _, rec := range table.Records {
		line := fmt.Sprintf("%s: price %s, cap %s, %s\n",
			market.FormatValue(rec.Get(market.ColID)),
			formatAmount(rec.Get(market.ColCurrentPrice), 4),
			formatAmount(rec.Get(market.ColMarketCap), 0),
			categoryOf(rec),
		)
		if builder.Len()+len(line) > telegramMessageLimit {
			builder.WriteString("...")
			break
		}
		builder.WriteString(line)
	}
	return builder.String()
}

func formatAmount(v any, places int32) string {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val).StringFixed(places)
	case int64:
		return decimal.NewFromInt(val).StringFixed(places)
	case json.Number:
		if d, err := decimal.NewFromString(val.String()); err == nil {
			return d.StringFixed(places)
		}
	}
	return "n/a"
}

func categoryOf(rec market.Record) string {
	if c, ok := rec.Get(market.ColMarketCapCategory).(string); ok && c != "" {
		return c
	}
	return "uncategorised"
}

var _ Publisher = (*TelegramPublisher)(nil)

package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-etl/internal/market"
)

func previewTable() Table {
	batch := market.Batch{
		Columns: []string{market.ColID, market.ColCurrentPrice, market.ColMarketCap, market.ColMarketCapCategory},
		Records: []market.Record{
			{market.ColID: "bitcoin", market.ColCurrentPrice: 50000.5, market.ColMarketCap: 1e12, market.ColMarketCapCategory: market.CategoryMega},
			{market.ColID: "dogecoin", market.ColCurrentPrice: nil, market.ColMarketCap: 2e10},
			{market.ColID: "tron", market.ColCurrentPrice: 0.12, market.ColMarketCap: 1e10},
		},
	}
	return NewTable(KeyLoaded, "top rows", batch, 2)
}

func TestNewTableTruncates(t *testing.T) {
	table := previewTable()
	if len(table.Records) != 2 {
		t.Fatalf("预览行数应为 2, 实际 %d", len(table.Records))
	}
	if table.Key != KeyLoaded || len(table.Columns) != 4 {
		t.Fatalf("unexpected table: %+v", table)
	}
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	if err := NewLogPublisher(logger).Publish(context.Background(), previewTable()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"key":"loaded-data"`) || !strings.Contains(out, `"rows":2`) {
		t.Fatalf("summary line missing: %s", out)
	}
	if strings.Count(out, "artifact row") != 2 {
		t.Fatalf("expected two row lines: %s", out)
	}
}

func TestTelegramPublisherSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	publisher := NewTelegramPublisher(TelegramOptions{BotToken: "token", ChatID: "chat", BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if err := publisher.Publish(context.Background(), previewTable()); err != nil {
		t.Fatalf("Telegram Publish 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"[crypto-etl] loaded-data", "bitcoin: price 50000.5000, cap 1000000000000, Mega Cap", "dogecoin: price n/a, cap 20000000000, uncategorised"} {
		if !strings.Contains(text, want) {
			t.Errorf("text 缺少 %q:\n%s", want, text)
		}
	}
}

func TestTelegramPublisherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	publisher := NewTelegramPublisher(TelegramOptions{BotToken: "token", ChatID: "chat", BaseURL: srv.URL}, zerolog.Nop())
	if err := publisher.Publish(context.Background(), previewTable()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramPublisherSkipsOtherKeys(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	publisher := NewTelegramPublisher(TelegramOptions{BaseURL: srv.URL, Keys: []string{KeyLoaded}}, zerolog.Nop())
	table := previewTable()
	table.Key = KeyExtracted
	if err := publisher.Publish(context.Background(), table); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if called {
		t.Fatal("extracted-data should not be sent")
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Table) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	err := Multi{failingPublisher{first}, nil, NewLogPublisher(zerolog.Nop()), failingPublisher{second}}.
		Publish(context.Background(), previewTable())
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors, got %v", err)
	}
}

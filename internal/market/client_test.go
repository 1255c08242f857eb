package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finquery/finquery/internal/testutil"
)

// newGateway starts a fake gateway and returns a client pointed at it. Both
// are torn down via t.Cleanup.
func newGateway(t *testing.T) (*Client, *testutil.MarketServer) {
	t.Helper()

	gw := testutil.StartMarketServer(t)

	client, err := NewClient(Config{
		ServerURL:  gw.URL,
		Timeout:    5 * time.Second,
		HTTPClient: gw.HTTPClient,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client, gw
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("NewClient() with empty URL expected error, got nil")
	}
}

func TestPrice(t *testing.T) {
	client, gw := newGateway(t)

	price, err := client.Price(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Price() unexpected error: %v", err)
	}
	if price.Symbol != "AAPL" {
		t.Errorf("Price().Symbol = %q, want %q", price.Symbol, "AAPL")
	}
	if price.Price != 189.95 {
		t.Errorf("Price().Price = %v, want 189.95", price.Price)
	}
	if price.ChangePercent == nil || *price.ChangePercent != 1.25 {
		t.Errorf("Price().ChangePercent = %v, want 1.25", price.ChangePercent)
	}
	if got := gw.LastResponseFormat(); got != "json" {
		t.Errorf("response_format sent = %q, want %q", got, "json")
	}
}

func TestPriceStructuredContentWins(t *testing.T) {
	client, _ := newGateway(t)

	price, err := client.Price(context.Background(), testutil.SymbolStructured)
	if err != nil {
		t.Fatalf("Price() unexpected error: %v", err)
	}
	if price.Price != 42.50 {
		t.Errorf("Price().Price = %v, want 42.50", price.Price)
	}
	// The text content has no percent_change; only the structured payload
	// does, so its presence proves structured content took precedence.
	if price.ChangePercent == nil || *price.ChangePercent != 2.5 {
		t.Errorf("Price().ChangePercent = %v, want 2.5", price.ChangePercent)
	}
}

func TestPricePlainTextPayload(t *testing.T) {
	client, _ := newGateway(t)

	price, err := client.Price(context.Background(), testutil.SymbolPlainText)
	if err != nil {
		t.Fatalf("Price() unexpected error: %v", err)
	}
	// Non-JSON text decodes to an empty payload rather than failing.
	if price.Price != 0 {
		t.Errorf("Price().Price = %v, want 0", price.Price)
	}
}

func TestQuote(t *testing.T) {
	client, _ := newGateway(t)

	quote, err := client.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Quote() unexpected error: %v", err)
	}
	if quote.Symbol != "AAPL" {
		t.Errorf("Quote().Symbol = %q, want %q", quote.Symbol, "AAPL")
	}
	if quote.Open != 189.50 || quote.High != 191.20 || quote.Low != 188.90 || quote.Close != 190.45 {
		t.Errorf("Quote() OHLC = %v/%v/%v/%v, want 189.50/191.20/188.90/190.45",
			quote.Open, quote.High, quote.Low, quote.Close)
	}
	if quote.Volume == nil || *quote.Volume != 55119000 {
		t.Errorf("Quote().Volume = %v, want 55119000", quote.Volume)
	}
	if quote.FiftyTwoWeekHigh == nil || *quote.FiftyTwoWeekHigh != 232.50 {
		t.Errorf("Quote().FiftyTwoWeekHigh = %v, want 232.50", quote.FiftyTwoWeekHigh)
	}
}

func TestTimeSeries(t *testing.T) {
	client, _ := newGateway(t)

	series, err := client.TimeSeries(context.Background(), "AAPL", "1day", 30)
	if err != nil {
		t.Fatalf("TimeSeries() unexpected error: %v", err)
	}
	if series.Symbol != "AAPL" || series.Interval != "1day" {
		t.Errorf("TimeSeries() symbol/interval = %q/%q, want AAPL/1day", series.Symbol, series.Interval)
	}
	if len(series.Values) != 2 {
		t.Fatalf("TimeSeries() returned %d candles, want 2", len(series.Values))
	}
	if series.Values[0].Datetime != "2026-01-16" || series.Values[0].Close != 191 {
		t.Errorf("TimeSeries() first candle = %+v", series.Values[0])
	}
}

func TestTimeSeriesDefaults(t *testing.T) {
	client, _ := newGateway(t)

	series, err := client.TimeSeries(context.Background(), "AAPL", "", 0)
	if err != nil {
		t.Fatalf("TimeSeries() unexpected error: %v", err)
	}
	if series.Interval != "1day" {
		t.Errorf("TimeSeries() default interval = %q, want %q", series.Interval, "1day")
	}
}

func TestIndicator(t *testing.T) {
	client, _ := newGateway(t)

	series, err := client.Indicator(context.Background(), IndicatorRequest{
		Symbol:    "AAPL",
		Indicator: "rsi",
	})
	if err != nil {
		t.Fatalf("Indicator() unexpected error: %v", err)
	}
	if series.Symbol != "AAPL" {
		t.Errorf("Indicator().Symbol = %q, want %q", series.Symbol, "AAPL")
	}
	if series.Indicator != "RSI" {
		t.Errorf("Indicator().Indicator = %q, want %q", series.Indicator, "RSI")
	}
	if len(series.Values) != 2 {
		t.Fatalf("Indicator() returned %d values, want 2", len(series.Values))
	}
	if _, ok := series.Values[0]["rsi"]; !ok {
		t.Errorf("Indicator() first value missing rsi column: %v", series.Values[0])
	}
}

func TestExchangeRate(t *testing.T) {
	client, _ := newGateway(t)

	rate, err := client.ExchangeRate(context.Background(), "EUR/USD")
	if err != nil {
		t.Fatalf("ExchangeRate() unexpected error: %v", err)
	}
	if rate.Symbol != "EUR/USD" {
		t.Errorf("ExchangeRate().Symbol = %q, want %q", rate.Symbol, "EUR/USD")
	}
	if rate.Rate != 1.0854 {
		t.Errorf("ExchangeRate().Rate = %v, want 1.0854", rate.Rate)
	}
}

func TestConvert(t *testing.T) {
	client, _ := newGateway(t)

	t.Run("result derived from rate", func(t *testing.T) {
		conv, err := client.Convert(context.Background(), "USD", "EUR", 100)
		if err != nil {
			t.Fatalf("Convert() unexpected error: %v", err)
		}
		if conv.From != "USD" || conv.To != "EUR" || conv.Amount != 100 {
			t.Errorf("Convert() echo = %s/%s %v, want USD/EUR 100", conv.From, conv.To, conv.Amount)
		}
		if conv.Rate != 0.9234 {
			t.Errorf("Convert().Rate = %v, want 0.9234", conv.Rate)
		}
		if math.Abs(conv.Result-92.34) > 1e-9 {
			t.Errorf("Convert().Result = %v, want 92.34", conv.Result)
		}
	})

	t.Run("upstream amount used as result", func(t *testing.T) {
		conv, err := client.Convert(context.Background(), "GBP", "JPY", 2)
		if err != nil {
			t.Fatalf("Convert() unexpected error: %v", err)
		}
		if math.Abs(conv.Result-381.0) > 1e-9 {
			t.Errorf("Convert().Result = %v, want 381.0", conv.Result)
		}
		if conv.Rate != 190.5 {
			t.Errorf("Convert().Rate = %v, want 190.5", conv.Rate)
		}
	})
}

func TestCommodities(t *testing.T) {
	client, _ := newGateway(t)

	list, err := client.Commodities(context.Background())
	if err != nil {
		t.Fatalf("Commodities() unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Commodities() returned %d entries, want 2", len(list))
	}
	if list[0].Symbol != "XAU/USD" || list[0].Name != "Gold" {
		t.Errorf("Commodities()[0] = %+v, want XAU/USD Gold", list[0])
	}
}

func TestInvalidSymbolClassification(t *testing.T) {
	client, _ := newGateway(t)

	_, err := client.Price(context.Background(), testutil.SymbolInvalid)
	if !errors.Is(err, ErrInvalidSymbol) {
		t.Fatalf("Price() on unknown symbol error = %v, want ErrInvalidSymbol", err)
	}
}

func TestUpstreamErrorCarriesCode(t *testing.T) {
	client, _ := newGateway(t)

	_, err := client.Price(context.Background(), testutil.SymbolUpstreamError)
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Price() on upstream failure error = %v, want *UpstreamError", err)
	}
	if upstream.Code != 429 {
		t.Errorf("UpstreamError.Code = %d, want 429", upstream.Code)
	}
	if upstream.Message != "You have run out of API credits for the current minute" {
		t.Errorf("UpstreamError.Message = %q", upstream.Message)
	}
}

func TestSessionReuseAndRedial(t *testing.T) {
	client, gw := newGateway(t)
	ctx := context.Background()

	if _, err := client.Price(ctx, "AAPL"); err != nil {
		t.Fatalf("Price() unexpected error: %v", err)
	}
	if _, err := client.Quote(ctx, "AAPL"); err != nil {
		t.Fatalf("Quote() unexpected error: %v", err)
	}
	if got := gw.InitializeCount(); got != 1 {
		t.Fatalf("after two calls: %d initializes, want 1 (session not reused)", got)
	}

	// A failed exchange drops the session, so the next call re-dials.
	if _, err := client.call(ctx, "unknown_tool", nil); err == nil {
		t.Fatal("call(unknown_tool) expected error, got nil")
	}
	if _, err := client.Price(ctx, "AAPL"); err != nil {
		t.Fatalf("Price() after dropped session unexpected error: %v", err)
	}
	if got := gw.InitializeCount(); got != 2 {
		t.Errorf("after dropped session: %d initializes, want 2", got)
	}
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(Config{
		ServerURL: url,
		Timeout:   2 * time.Second,
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient() unexpected error: %v", err)
	}

	if _, err := client.Price(context.Background(), "AAPL"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Price() against dead server error = %v, want ErrUnreachable", err)
	}
	if err := client.Health(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Health() against dead server error = %v, want ErrUnreachable", err)
	}
}

func TestCallTimeout(t *testing.T) {
	_, gw := newGateway(t)
	gw.SetPriceDelay(2 * time.Second)

	client, err := NewClient(Config{
		ServerURL:  gw.URL,
		Timeout:    300 * time.Millisecond,
		HTTPClient: gw.HTTPClient,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if _, err := client.Price(context.Background(), "AAPL"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Price() past deadline error = %v, want ErrUnreachable", err)
	}
}

func TestHealth(t *testing.T) {
	client, gw := newGateway(t)

	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health() unexpected error: %v", err)
	}

	gw.SetHealth(http.StatusServiceUnavailable)
	err := client.Health(context.Background())
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Health() on 503 error = %v, want *UpstreamError", err)
	}
	if upstream.Code != http.StatusServiceUnavailable {
		t.Errorf("UpstreamError.Code = %d, want 503", upstream.Code)
	}
}

func TestDecodeResultOrder(t *testing.T) {
	t.Parallel()

	t.Run("structured content wins", func(t *testing.T) {
		t.Parallel()
		res := &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: `{"a":1}`}},
			StructuredContent: map[string]any{"b": 2},
		}
		raw, err := decodeResult(res)
		if err != nil {
			t.Fatalf("decodeResult unexpected error: %v", err)
		}
		if string(raw) != `{"b":2}` {
			t.Errorf("decodeResult = %s, want {\"b\":2}", raw)
		}
	})

	t.Run("text parsed as json", func(t *testing.T) {
		t.Parallel()
		res := textResult(`{"a":1}`)
		raw, err := decodeResult(res)
		if err != nil {
			t.Fatalf("decodeResult unexpected error: %v", err)
		}
		if string(raw) != `{"a":1}` {
			t.Errorf("decodeResult = %s, want {\"a\":1}", raw)
		}
	})

	t.Run("plain text wrapped", func(t *testing.T) {
		t.Parallel()
		res := textResult("hello world")
		raw, err := decodeResult(res)
		if err != nil {
			t.Fatalf("decodeResult unexpected error: %v", err)
		}
		if string(raw) != `{"text":"hello world"}` {
			t.Errorf("decodeResult = %s, want {\"text\":\"hello world\"}", raw)
		}
	})

	t.Run("no content is an error", func(t *testing.T) {
		t.Parallel()
		if _, err := decodeResult(&mcp.CallToolResult{}); err == nil {
			t.Fatal("decodeResult on empty result expected error, got nil")
		}
	})
}

func TestClassifyToolError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		wantInvalid bool
		wantCode    int
		wantMsg     string
	}{
		{
			name:        "symbol not found",
			text:        "symbol not found: XXXX. Please specify it correctly.",
			wantInvalid: true,
		},
		{
			name:        "invalid symbol wording",
			text:        "Invalid symbol FOO requested",
			wantInvalid: true,
		},
		{
			name:     "structured upstream error",
			text:     `{"code":429,"message":"rate limited"}`,
			wantCode: 429,
			wantMsg:  "rate limited",
		},
		{
			name:        "structured invalid symbol",
			text:        `{"code":404,"message":"symbol not found: ZZZZ"}`,
			wantInvalid: true,
		},
		{
			name:    "plain message",
			text:    "boom",
			wantMsg: "boom",
		},
		{
			name:    "empty message",
			text:    "",
			wantMsg: "tool returned an error with no message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyToolError(tt.text)
			if tt.wantInvalid {
				if !errors.Is(err, ErrInvalidSymbol) {
					t.Fatalf("classifyToolError(%q) = %v, want ErrInvalidSymbol", tt.text, err)
				}
				return
			}
			var upstream *UpstreamError
			if !errors.As(err, &upstream) {
				t.Fatalf("classifyToolError(%q) = %v, want *UpstreamError", tt.text, err)
			}
			if upstream.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", upstream.Code, tt.wantCode)
			}
			if upstream.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", upstream.Message, tt.wantMsg)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: true},
		{name: "eof", err: io.EOF, want: true},
		{name: "net error", err: &net.DNSError{IsTimeout: true}, want: true},
		{name: "protocol error", err: errors.New("tool not found"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := transportFailure(tt.err); got != tt.want {
				t.Errorf("transportFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

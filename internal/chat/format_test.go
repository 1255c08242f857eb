package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/finquery/finquery/internal/market"
	"github.com/finquery/finquery/internal/websearch"
)

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		price *market.Price
		want  string
	}{
		{
			name:  "up",
			price: &market.Price{Symbol: "XAU/USD", Price: 2381.35, ChangePercent: fp(1.25)},
			want:  "The current price of XAU/USD is $2381.35, up 1.25% today.",
		},
		{
			name:  "down keeps magnitude positive",
			price: &market.Price{Symbol: "AAPL", Price: 189.5, ChangePercent: fp(-2.5)},
			want:  "The current price of AAPL is $189.50, down 2.50% today.",
		},
		{
			name:  "zero change reads as down",
			price: &market.Price{Symbol: "AAPL", Price: 189.5, ChangePercent: fp(0)},
			want:  "The current price of AAPL is $189.50, down 0.00% today.",
		},
		{
			name:  "no change percent",
			price: &market.Price{Symbol: "EUR/USD", Price: 1.0842},
			want:  "The current price of EUR/USD is $1.08.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := formatPrice(tt.price.Symbol, tt.price)
			if res.Answer != tt.want {
				t.Errorf("answer = %q, want %q", res.Answer, tt.want)
			}
			if res.Type != TypePrice {
				t.Errorf("type = %q, want %q", res.Type, TypePrice)
			}
			if res.Data != tt.price {
				t.Error("data should be the price payload itself")
			}
		})
	}
}

func TestFormatQuote(t *testing.T) {
	t.Parallel()

	full := &market.Quote{
		Symbol: "AAPL", Open: 188.1, High: 191.2, Low: 187.3, Close: 190.45,
		Volume: ip(52847100), ChangePercent: fp(1.32),
	}
	res := formatQuote("AAPL", full)
	want := "Here's the detailed quote for AAPL: Open: $188.10, High: $191.20, Low: $187.30, Close: $190.45, Volume: 52,847,100, Change: 1.32%"
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
	if res.Type != TypeQuote {
		t.Errorf("type = %q, want %q", res.Type, TypeQuote)
	}

	bare := &market.Quote{Symbol: "XAU/USD", Open: 2370, High: 2390, Low: 2365, Close: 2381.35}
	res = formatQuote("XAU/USD", bare)
	want = "Here's the detailed quote for XAU/USD: Open: $2370.00, High: $2390.00, Low: $2365.00, Close: $2381.35"
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
}

func TestFormatHistorical(t *testing.T) {
	t.Parallel()

	small := &market.Series{Symbol: "AAPL", Interval: "1day", Values: makeCandles(5)}
	res := formatHistorical("AAPL", "1day", small)
	want := "Here's the 1day historical data for AAPL. I found 5 candles."
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
	if res.Type != TypeHistorical {
		t.Errorf("type = %q, want %q", res.Type, TypeHistorical)
	}

	// Both the payload and the reported count cap at 100.
	big := &market.Series{Symbol: "AAPL", Interval: "1h", Values: makeCandles(150)}
	res = formatHistorical("AAPL", "1h", big)
	want = "Here's the 1h historical data for AAPL. I found 100 candles."
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
	data, ok := res.Data.(*HistoricalData)
	if !ok {
		t.Fatalf("data = %T, want *HistoricalData", res.Data)
	}
	if len(data.Candles) != 100 {
		t.Errorf("len(candles) = %d, want 100", len(data.Candles))
	}
}

func TestFormatIndicator(t *testing.T) {
	t.Parallel()

	values := make([]map[string]any, 150)
	for i := range values {
		values[i] = map[string]any{"rsi": 50.0}
	}
	series := &market.IndicatorSeries{Symbol: "AAPL", Indicator: "rsi", Values: values}

	// The answer reports the full count; only the payload caps at 100.
	res := formatIndicator("AAPL", "rsi", 14, series)
	want := "Here's the RSI(14) for AAPL. I calculated 150 data points."
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
	if res.Type != TypeIndicator {
		t.Errorf("type = %q, want %q", res.Type, TypeIndicator)
	}
	data, ok := res.Data.(*IndicatorData)
	if !ok {
		t.Fatalf("data = %T, want *IndicatorData", res.Data)
	}
	if len(data.Values) != 100 {
		t.Errorf("len(values) = %d, want 100", len(data.Values))
	}
	if data.Indicator != "RSI" {
		t.Errorf("indicator = %q, want %q", data.Indicator, "RSI")
	}
}

func TestFormatConversion(t *testing.T) {
	t.Parallel()

	conv := &market.Conversion{From: "USD", To: "EUR", Amount: 100, Result: 85.5, Rate: 0.855}
	res := formatConversion(conv)
	want := "100.00 USD equals 85.50 EUR (rate: 0.8550)."
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
	if res.Type != TypeConversion {
		t.Errorf("type = %q, want %q", res.Type, TypeConversion)
	}
}

func TestFormatCommodities(t *testing.T) {
	t.Parallel()

	list := []market.Commodity{
		{Symbol: "XAU/USD", Name: "Gold"},
		{Symbol: "XAG/USD", Name: "Silver"},
	}
	res := formatCommodities(list)
	want := "Here are the available commodities: Gold (XAU/USD), Silver (XAG/USD)"
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
	// Listings ride the quote type on the wire.
	if res.Type != TypeQuote {
		t.Errorf("type = %q, want %q", res.Type, TypeQuote)
	}

	res = formatCommodities(nil)
	if res.Answer != "No commodities available" {
		t.Errorf("empty answer = %q", res.Answer)
	}
}

func TestFormatSearch(t *testing.T) {
	t.Parallel()

	results := []websearch.Result{
		{Title: "Fed holds rates", URL: "https://example.com/fed", Snippet: "The Fed kept rates steady."},
		{Title: "Gold rallies", URL: "https://example.com/gold", Snippet: "Gold hit a record."},
	}
	res := formatSearch("fed rate decision", results)
	if !strings.HasPrefix(res.Answer, `Here's what I found for "fed rate decision":`) {
		t.Errorf("answer prefix wrong: %q", res.Answer)
	}
	if !strings.Contains(res.Answer, "1. Fed holds rates (https://example.com/fed)") {
		t.Errorf("first result missing: %q", res.Answer)
	}
	if !strings.Contains(res.Answer, "2. Gold rallies (https://example.com/gold)") {
		t.Errorf("second result missing: %q", res.Answer)
	}
	if res.Type != TypeWebSearch {
		t.Errorf("type = %q, want %q", res.Type, TypeWebSearch)
	}

	res = formatSearch("nothing", nil)
	if res.Answer != `I couldn't find any web results for "nothing".` {
		t.Errorf("empty answer = %q", res.Answer)
	}
}

func TestGroupDigits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{5, "5"},
		{999, "999"},
		{1000, "1,000"},
		{52847, "52,847"},
		{52847100, "52,847,100"},
		{-1234567, "-1,234,567"},
	}
	for _, tt := range tests {
		if got := groupDigits(tt.n); got != tt.want {
			t.Errorf("groupDigits(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func makeCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Datetime: fmt.Sprintf("2025-01-%02d", i%28+1),
			Open:     100, High: 101, Low: 99, Close: 100.5,
		}
	}
	return out
}

package chat

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/finquery/finquery/internal/market"
	"github.com/finquery/finquery/internal/websearch"
)

// maxSeriesPoints bounds the candles/values included in a response payload.
// Upstream can return far more; clients only chart this many.
const maxSeriesPoints = 100

// HistoricalData is the wire payload for historical answers.
type HistoricalData struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Candles  []market.Candle `json:"candles"`
}

// IndicatorData is the wire payload for indicator answers.
type IndicatorData struct {
	Symbol    string           `json:"symbol"`
	Indicator string           `json:"indicator"`
	Period    int              `json:"period"`
	Values    []map[string]any `json:"values"`
}

// CommoditiesData is the wire payload for commodity listings.
type CommoditiesData struct {
	Commodities []market.Commodity `json:"commodities"`
}

// SearchData is the wire payload for web search answers.
type SearchData struct {
	Query   string             `json:"query"`
	Results []websearch.Result `json:"results"`
}

func formatPrice(symbol string, p *market.Price) *Result {
	var answer string
	if p.ChangePercent != nil {
		direction := "down"
		if *p.ChangePercent > 0 {
			direction = "up"
		}
		answer = fmt.Sprintf("The current price of %s is $%.2f, %s %.2f%% today.",
			symbol, p.Price, direction, math.Abs(*p.ChangePercent))
	} else {
		answer = fmt.Sprintf("The current price of %s is $%.2f.", symbol, p.Price)
	}
	return &Result{Answer: answer, Type: TypePrice, Data: p}
}

func formatQuote(symbol string, q *market.Quote) *Result {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's the detailed quote for %s: Open: $%.2f, High: $%.2f, Low: $%.2f, Close: $%.2f",
		symbol, q.Open, q.High, q.Low, q.Close)
	if q.Volume != nil {
		fmt.Fprintf(&b, ", Volume: %s", groupDigits(*q.Volume))
	}
	if q.ChangePercent != nil {
		fmt.Fprintf(&b, ", Change: %.2f%%", *q.ChangePercent)
	}
	return &Result{Answer: b.String(), Type: TypeQuote, Data: q}
}

// formatHistorical reports the count of the candles it returns, so a capped
// payload reads as 100 candles even when upstream sent more.
func formatHistorical(symbol, interval string, s *market.Series) *Result {
	candles := s.Values
	if len(candles) > maxSeriesPoints {
		candles = candles[:maxSeriesPoints]
	}
	answer := fmt.Sprintf("Here's the %s historical data for %s. I found %d candles.",
		interval, symbol, len(candles))
	return &Result{
		Answer: answer,
		Type:   TypeHistorical,
		Data:   &HistoricalData{Symbol: symbol, Interval: interval, Candles: candles},
	}
}

// formatIndicator reports the full upstream count while capping the payload,
// unlike formatHistorical. Deployed clients show the count as "calculated"
// work, not as payload size.
func formatIndicator(symbol, indicator string, period int, s *market.IndicatorSeries) *Result {
	name := strings.ToUpper(indicator)
	answer := fmt.Sprintf("Here's the %s(%d) for %s. I calculated %d data points.",
		name, period, symbol, len(s.Values))
	values := s.Values
	if len(values) > maxSeriesPoints {
		values = values[:maxSeriesPoints]
	}
	return &Result{
		Answer: answer,
		Type:   TypeIndicator,
		Data:   &IndicatorData{Symbol: symbol, Indicator: name, Period: period, Values: values},
	}
}

func formatConversion(c *market.Conversion) *Result {
	answer := fmt.Sprintf("%.2f %s equals %.2f %s (rate: %.4f).",
		c.Amount, c.From, c.Result, c.To, c.Rate)
	return &Result{Answer: answer, Type: TypeConversion, Data: c}
}

// formatCommodities reports Type "quote"; deployed clients never grew a
// dedicated commodities renderer.
func formatCommodities(list []market.Commodity) *Result {
	var answer string
	if len(list) == 0 {
		answer = "No commodities available"
	} else {
		parts := make([]string, len(list))
		for i, c := range list {
			parts[i] = fmt.Sprintf("%s (%s)", c.Name, c.Symbol)
		}
		answer = "Here are the available commodities: " + strings.Join(parts, ", ")
	}
	return &Result{Answer: answer, Type: TypeQuote, Data: &CommoditiesData{Commodities: list}}
}

func formatSearch(terms string, results []websearch.Result) *Result {
	var b strings.Builder
	if len(results) == 0 {
		fmt.Fprintf(&b, "I couldn't find any web results for %q.", terms)
	} else {
		fmt.Fprintf(&b, "Here's what I found for %q:", terms)
		for i, r := range results {
			fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, r.Title, r.URL)
		}
	}
	return &Result{
		Answer: b.String(),
		Type:   TypeWebSearch,
		Data:   &SearchData{Query: terms, Results: results},
	}
}

// groupDigits renders n with comma thousands separators.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	out := b.String()
	if neg {
		return "-" + out
	}
	return out
}

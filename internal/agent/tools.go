package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/finquery/finquery/internal/market"
	"github.com/finquery/finquery/internal/websearch"
)

// Tool name constants registered with Genkit. The model selects tools by
// these names, so they are part of the system prompt contract.
const (
	ToolGetPrice      = "get_price"
	ToolGetQuote      = "get_quote"
	ToolGetHistorical = "get_historical_data"
	ToolGetIndicator  = "get_technical_indicator"
	ToolConvert       = "convert_currency"
	ToolCommodities   = "list_commodities"
	ToolWebSearch     = "web_search"
	ToolWebFetch      = "web_fetch"
)

// Tool call defaults applied when the model omits optional arguments.
const (
	defaultInterval   = "1day"
	defaultOutputSize = 30
	defaultTimePeriod = 14

	// maxToolValues bounds how many candles or indicator points are handed
	// back to the model in one payload.
	maxToolValues = 100

	// maxFetchRunes bounds extracted page text in a web_fetch payload.
	maxFetchRunes = 8000
)

// marketData is the slice of the market client the toolset calls.
type marketData interface {
	Price(ctx context.Context, symbol string) (*market.Price, error)
	Quote(ctx context.Context, symbol string) (*market.Quote, error)
	TimeSeries(ctx context.Context, symbol, interval string, outputSize int) (*market.Series, error)
	Indicator(ctx context.Context, req market.IndicatorRequest) (*market.IndicatorSeries, error)
	Convert(ctx context.Context, from, to string, amount float64) (*market.Conversion, error)
	Commodities(ctx context.Context) ([]market.Commodity, error)
}

// webSearcher is the slice of the search client the web tools call.
type webSearcher interface {
	Search(ctx context.Context, query string) ([]websearch.Result, error)
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// PriceInput requests a spot price.
type PriceInput struct {
	Symbol string `json:"symbol" jsonschema_description:"Ticker or pair to quote, e.g. AAPL, XAU/USD, EUR/USD"`
}

// QuoteInput requests a full OHLC quote.
type QuoteInput struct {
	Symbol string `json:"symbol" jsonschema_description:"Ticker or pair to quote, e.g. AAPL, XAU/USD, EUR/USD"`
}

// HistoricalInput requests a candle series.
type HistoricalInput struct {
	Symbol     string `json:"symbol" jsonschema_description:"Ticker or pair, e.g. AAPL, XAU/USD"`
	Interval   string `json:"interval,omitempty" jsonschema_description:"Candle interval: 1min, 5min, 15min, 30min, 45min, 1h, 2h, 4h, 1day, 1week, 1month. Defaults to 1day"`
	OutputSize int    `json:"outputsize,omitempty" jsonschema_description:"Number of candles to return. Defaults to 30"`
}

// IndicatorInput requests a computed technical indicator.
type IndicatorInput struct {
	Symbol     string `json:"symbol" jsonschema_description:"Ticker or pair, e.g. AAPL, XAU/USD"`
	Indicator  string `json:"indicator" jsonschema_description:"Indicator name: sma, ema, rsi, macd, bbands, adx, atr, stoch"`
	Interval   string `json:"interval,omitempty" jsonschema_description:"Candle interval the indicator is computed on. Defaults to 1day"`
	TimePeriod int    `json:"time_period,omitempty" jsonschema_description:"Lookback period in bars. Defaults to 14"`
}

// ConvertInput requests a currency conversion.
type ConvertInput struct {
	From   string  `json:"from" jsonschema_description:"Source currency code, e.g. USD"`
	To     string  `json:"to" jsonschema_description:"Target currency code, e.g. EUR"`
	Amount float64 `json:"amount" jsonschema_description:"Amount in the source currency"`
}

// CommoditiesInput requests the commodity catalog (no arguments).
type CommoditiesInput struct{}

// SearchInput requests a web search.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"Search query"`
}

// FetchInput requests readable text extracted from a web page.
type FetchInput struct {
	URL string `json:"url" jsonschema_description:"Page URL to fetch and extract readable text from"`
}

// Toolset holds the data clients behind the agent's tools. Create one with
// NewToolset, then register it with RegisterTools.
type Toolset struct {
	data   marketData
	search webSearcher
	logger *slog.Logger
}

// NewToolset creates a Toolset. search may be nil, in which case the web
// tools are not registered.
func NewToolset(data marketData, search webSearcher, logger *slog.Logger) (*Toolset, error) {
	if data == nil {
		return nil, fmt.Errorf("market data client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolset{data: data, search: search, logger: logger}, nil
}

// RegisterTools registers every tool with Genkit and returns the handles for
// Config.Tools. The web tools are included only when the toolset has a search
// client.
func RegisterTools(g *genkit.Genkit, ts *Toolset) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if ts == nil {
		return nil, fmt.Errorf("toolset is required")
	}

	tools := []ai.Tool{
		genkit.DefineTool(g, ToolGetPrice,
			"Get the current price of a stock, commodity, or currency pair. "+
				"Returns the latest price and the percent change on the day when available. "+
				"Use this for questions like 'what is the price of gold' or 'how is AAPL doing'.",
			ts.GetPrice),
		genkit.DefineTool(g, ToolGetQuote,
			"Get a detailed quote for a stock, commodity, or currency pair: "+
				"open, high, low, close, volume, percent change, and 52-week range when available. "+
				"Use this when the user asks for details beyond the bare price.",
			ts.GetQuote),
		genkit.DefineTool(g, ToolGetHistorical,
			"Get historical OHLCV candles for a symbol at a chosen interval. "+
				"Use this for trends, past performance, and 'how did X move last week' questions.",
			ts.GetHistorical),
		genkit.DefineTool(g, ToolGetIndicator,
			"Compute a technical indicator (RSI, SMA, EMA, MACD, Bollinger Bands, ADX, ATR, STOCH) for a symbol. "+
				"Use this for questions about momentum, moving averages, or overbought/oversold conditions.",
			ts.GetIndicator),
		genkit.DefineTool(g, ToolConvert,
			"Convert an amount from one currency to another at the current exchange rate. "+
				"Use this for questions like 'convert 100 USD to EUR'.",
			ts.Convert),
		genkit.DefineTool(g, ToolCommodities,
			"List the commodities available for querying, with their trading symbols. "+
				"Use this when the user asks what commodities can be looked up.",
			ts.Commodities),
	}

	if ts.search != nil {
		tools = append(tools,
			genkit.DefineTool(g, ToolWebSearch,
				"Search the web for current information: news, events, analysis, and anything "+
					"not covered by the market data tools. Returns titles, URLs, and snippets.",
				ts.WebSearch),
			genkit.DefineTool(g, ToolWebFetch,
				"Fetch a web page and extract its readable text content. "+
					"Use this to read an article found via web_search.",
				ts.WebFetch),
		)
	}

	return tools, nil
}

// GetPrice fetches the spot price for a symbol.
func (ts *Toolset) GetPrice(ctx *ai.ToolContext, input PriceInput) (map[string]any, error) {
	symbol := strings.TrimSpace(input.Symbol)
	ts.logger.Debug("tool call", "tool", ToolGetPrice, "symbol", symbol)
	if symbol == "" {
		return failurePayload("symbol is required"), nil
	}

	p, err := ts.data.Price(ctx.Context, symbol)
	if err != nil {
		return ts.failure(ctx, ToolGetPrice, err)
	}

	out := map[string]any{
		"symbol":  p.Symbol,
		"price":   p.Price,
		"success": true,
	}
	if p.ChangePercent != nil {
		out["change_percent"] = *p.ChangePercent
	}
	return out, nil
}

// GetQuote fetches the full daily quote for a symbol.
func (ts *Toolset) GetQuote(ctx *ai.ToolContext, input QuoteInput) (map[string]any, error) {
	symbol := strings.TrimSpace(input.Symbol)
	ts.logger.Debug("tool call", "tool", ToolGetQuote, "symbol", symbol)
	if symbol == "" {
		return failurePayload("symbol is required"), nil
	}

	q, err := ts.data.Quote(ctx.Context, symbol)
	if err != nil {
		return ts.failure(ctx, ToolGetQuote, err)
	}

	out := map[string]any{
		"symbol":  q.Symbol,
		"open":    q.Open,
		"high":    q.High,
		"low":     q.Low,
		"close":   q.Close,
		"success": true,
	}
	if q.Volume != nil {
		out["volume"] = *q.Volume
	}
	if q.ChangePercent != nil {
		out["change_percent"] = *q.ChangePercent
	}
	if q.FiftyTwoWeekHigh != nil {
		out["fifty_two_week_high"] = *q.FiftyTwoWeekHigh
	}
	if q.FiftyTwoWeekLow != nil {
		out["fifty_two_week_low"] = *q.FiftyTwoWeekLow
	}
	return out, nil
}

// GetHistorical fetches a candle series for a symbol.
func (ts *Toolset) GetHistorical(ctx *ai.ToolContext, input HistoricalInput) (map[string]any, error) {
	symbol := strings.TrimSpace(input.Symbol)
	interval := strings.TrimSpace(input.Interval)
	if interval == "" {
		interval = defaultInterval
	}
	size := input.OutputSize
	if size <= 0 {
		size = defaultOutputSize
	}
	ts.logger.Debug("tool call", "tool", ToolGetHistorical,
		"symbol", symbol, "interval", interval, "outputsize", size)
	if symbol == "" {
		return failurePayload("symbol is required"), nil
	}

	series, err := ts.data.TimeSeries(ctx.Context, symbol, interval, size)
	if err != nil {
		return ts.failure(ctx, ToolGetHistorical, err)
	}

	values := series.Values
	if len(values) > maxToolValues {
		values = values[:maxToolValues]
	}
	return map[string]any{
		"symbol":   series.Symbol,
		"interval": series.Interval,
		"count":    len(series.Values),
		"values":   values,
		"success":  true,
	}, nil
}

// GetIndicator computes a technical indicator for a symbol.
func (ts *Toolset) GetIndicator(ctx *ai.ToolContext, input IndicatorInput) (map[string]any, error) {
	symbol := strings.TrimSpace(input.Symbol)
	indicator := strings.ToLower(strings.TrimSpace(input.Indicator))
	interval := strings.TrimSpace(input.Interval)
	if interval == "" {
		interval = defaultInterval
	}
	period := input.TimePeriod
	if period <= 0 {
		period = defaultTimePeriod
	}
	ts.logger.Debug("tool call", "tool", ToolGetIndicator,
		"symbol", symbol, "indicator", indicator, "interval", interval, "time_period", period)
	if symbol == "" {
		return failurePayload("symbol is required"), nil
	}
	if indicator == "" {
		return failurePayload("indicator is required"), nil
	}

	series, err := ts.data.Indicator(ctx.Context, market.IndicatorRequest{
		Symbol:     symbol,
		Indicator:  indicator,
		Interval:   interval,
		TimePeriod: period,
	})
	if err != nil {
		return ts.failure(ctx, ToolGetIndicator, err)
	}

	values := series.Values
	if len(values) > maxToolValues {
		values = values[:maxToolValues]
	}
	return map[string]any{
		"symbol":      series.Symbol,
		"indicator":   indicator,
		"time_period": period,
		"count":       len(series.Values),
		"values":      values,
		"success":     true,
	}, nil
}

// Convert converts an amount between two currencies.
func (ts *Toolset) Convert(ctx *ai.ToolContext, input ConvertInput) (map[string]any, error) {
	from := strings.ToUpper(strings.TrimSpace(input.From))
	to := strings.ToUpper(strings.TrimSpace(input.To))
	ts.logger.Debug("tool call", "tool", ToolConvert,
		"from", from, "to", to, "amount", input.Amount)
	if from == "" || to == "" {
		return failurePayload("both from and to currencies are required"), nil
	}
	if input.Amount <= 0 {
		return failurePayload("amount must be positive"), nil
	}

	conv, err := ts.data.Convert(ctx.Context, from, to, input.Amount)
	if err != nil {
		return ts.failure(ctx, ToolConvert, err)
	}

	return map[string]any{
		"from":    conv.From,
		"to":      conv.To,
		"amount":  conv.Amount,
		"result":  conv.Result,
		"rate":    conv.Rate,
		"success": true,
	}, nil
}

// Commodities lists the commodity catalog.
func (ts *Toolset) Commodities(ctx *ai.ToolContext, _ CommoditiesInput) (map[string]any, error) {
	ts.logger.Debug("tool call", "tool", ToolCommodities)

	list, err := ts.data.Commodities(ctx.Context)
	if err != nil {
		return ts.failure(ctx, ToolCommodities, err)
	}

	return map[string]any{
		"commodities": list,
		"count":       len(list),
		"success":     true,
	}, nil
}

// WebSearch runs a web search and returns the top results.
func (ts *Toolset) WebSearch(ctx *ai.ToolContext, input SearchInput) (map[string]any, error) {
	query := strings.TrimSpace(input.Query)
	ts.logger.Debug("tool call", "tool", ToolWebSearch, "query", query)
	if query == "" {
		return failurePayload("query is required"), nil
	}

	results, err := ts.search.Search(ctx.Context, query)
	if err != nil {
		return ts.failure(ctx, ToolWebSearch, err)
	}

	return map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
		"success": true,
	}, nil
}

// WebFetch fetches a page and returns its readable text, truncated to keep
// the payload inside the model's context window.
func (ts *Toolset) WebFetch(ctx *ai.ToolContext, input FetchInput) (map[string]any, error) {
	pageURL := strings.TrimSpace(input.URL)
	ts.logger.Debug("tool call", "tool", ToolWebFetch, "url", pageURL)
	if pageURL == "" {
		return failurePayload("url is required"), nil
	}

	text, err := ts.search.Fetch(ctx.Context, pageURL)
	if err != nil {
		return ts.failure(ctx, ToolWebFetch, err)
	}

	truncated := false
	if runes := []rune(text); len(runes) > maxFetchRunes {
		text = string(runes[:maxFetchRunes])
		truncated = true
	}
	return map[string]any{
		"url":       pageURL,
		"content":   text,
		"truncated": truncated,
		"success":   true,
	}, nil
}

// failure converts a data-layer error into a payload the model can read and
// recover from. Context cancellation is the one infrastructure error that
// aborts the run instead.
func (ts *Toolset) failure(ctx *ai.ToolContext, tool string, err error) (map[string]any, error) {
	if ctx.Context != nil && ctx.Context.Err() != nil {
		return nil, fmt.Errorf("%s canceled: %w", tool, ctx.Context.Err())
	}
	ts.logger.Warn("tool call failed", "tool", tool, "error", err)
	return failurePayload(err.Error()), nil
}

func failurePayload(msg string) map[string]any {
	return map[string]any{"error": msg, "success": false}
}

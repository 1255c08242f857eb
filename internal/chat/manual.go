package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finquery/finquery/internal/cache"
	"github.com/finquery/finquery/internal/market"
	"github.com/finquery/finquery/internal/query"
	"github.com/finquery/finquery/internal/session"
	"github.com/finquery/finquery/internal/websearch"
)

// Answer prefixes for degraded data. The price path keeps its historical
// wording; the other intents share the shorter one.
const (
	stalePricePrefix       = "⚠️ Using cached data (may be stale): "
	staleDataPrefix        = "⚠️ Using cached data: "
	staleCommoditiesPrefix = "⚠️ Using known commodities list (MCP unavailable): "
)

// knownCommodities answers commodity listings when upstream is down and the
// cache holds nothing, so the intent never hard-fails.
var knownCommodities = []market.Commodity{
	{Symbol: "XAU/USD", Name: "Gold"},
	{Symbol: "XAG/USD", Name: "Silver"},
	{Symbol: "XPT/USD", Name: "Platinum"},
	{Symbol: "XPD/USD", Name: "Palladium"},
	{Symbol: "NG", Name: "Natural Gas"},
	{Symbol: "CL", Name: "Crude Oil WTI"},
	{Symbol: "BZ", Name: "Brent Crude Oil"},
	{Symbol: "HG", Name: "Copper"},
	{Symbol: "ZC", Name: "Corn"},
	{Symbol: "ZW", Name: "Wheat"},
	{Symbol: "ZS", Name: "Soybeans"},
	{Symbol: "KC", Name: "Coffee"},
	{Symbol: "CT", Name: "Cotton"},
	{Symbol: "SB", Name: "Sugar"},
}

// marketData is the slice of the market client the manual router consumes.
// *market.Client satisfies it.
type marketData interface {
	Price(ctx context.Context, symbol string) (*market.Price, error)
	Quote(ctx context.Context, symbol string) (*market.Quote, error)
	TimeSeries(ctx context.Context, symbol, interval string, outputSize int) (*market.Series, error)
	Indicator(ctx context.Context, req market.IndicatorRequest) (*market.IndicatorSeries, error)
	Convert(ctx context.Context, from, to string, amount float64) (*market.Conversion, error)
	Commodities(ctx context.Context) ([]market.Commodity, error)
}

// webSearcher is the slice of the web search client the manual router
// consumes. *websearch.Client satisfies it.
type webSearcher interface {
	Search(ctx context.Context, q string) ([]websearch.Result, error)
}

// ManualConfig assembles a ManualRouter.
type ManualConfig struct {
	// Cache stores typed upstream payloads keyed by intent fingerprint.
	// Required.
	Cache *cache.Store

	// Market fetches fresh data. Required.
	Market marketData

	// Search enables the websearch intent. Nil disables it; the intent
	// then answers with a clarification rather than an error.
	Search webSearcher

	// Resolver parses queries. Defaults to query.NewResolver().
	Resolver *query.Resolver

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ManualRouter is the deterministic pipeline: resolve, check the cache,
// fetch, fall back to stale data when upstream fails, format, cache the
// fresh result. Conversion responses are never cached (the amount makes
// nearly every request unique). It does not stream; the Service synthesizes
// the single final chunk.
type ManualRouter struct {
	cache    *cache.Store
	market   marketData
	search   webSearcher
	resolver *query.Resolver
	logger   *slog.Logger
}

// NewManualRouter creates a ManualRouter from cfg.
func NewManualRouter(cfg ManualConfig) (*ManualRouter, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if cfg.Market == nil {
		return nil, fmt.Errorf("market data client is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = query.NewResolver()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ManualRouter{
		cache:    cfg.Cache,
		market:   cfg.Market,
		search:   cfg.Search,
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
	}, nil
}

// Route implements Router. The emit callback is unused: the pipeline
// produces its whole answer at once.
func (r *ManualRouter) Route(ctx context.Context, text string, history []session.Turn, _ EmitFunc) (*Result, error) {
	parsed := r.resolver.Resolve(text, contextEntries(history))
	r.logger.Debug("query resolved",
		"intent", parsed.Intent, "symbols", parsed.Symbols)

	var (
		res *Result
		err error
	)
	switch parsed.Intent {
	case query.IntentQuote:
		res, err = r.quote(ctx, parsed)
	case query.IntentHistorical:
		res, err = r.historical(ctx, parsed)
	case query.IntentIndicator:
		res, err = r.indicator(ctx, parsed)
	case query.IntentConversion:
		res, err = r.conversion(ctx, parsed)
	case query.IntentCommodities:
		res, err = r.commodities(ctx)
	case query.IntentWebSearch:
		res, err = r.websearch(ctx, parsed)
	default:
		// Price is also the fallback for unclassified queries; without a
		// symbol it degrades to the no-symbol clarification.
		res, err = r.price(ctx, parsed)
	}
	if err != nil {
		return nil, err
	}

	res.Intent = string(parsed.Intent)
	if res.Failure == nil {
		res.Symbols = parsed.Symbols
	}
	return res, nil
}

func (r *ManualRouter) price(ctx context.Context, p query.ParsedQuery) (*Result, error) {
	symbol := p.Symbol()
	if symbol == "" {
		return clarify(CodeNoSymbol,
			"I couldn't identify a trading symbol in your query. Please specify a symbol like 'gold', 'AAPL', or 'EUR/USD'.",
			"No trading symbol found in query"), nil
	}

	key := cache.Fingerprint(query.IntentPrice, map[string]any{"symbol": symbol})
	if hit, ok := cachedPayload[*market.Price](r.cache, key); ok {
		res := formatPrice(symbol, hit)
		res.Cached = true
		return res, nil
	}

	fresh, err := r.market.Price(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := stalePayload[*market.Price](r.cache, key); ok {
			res := formatPrice(symbol, stale)
			res.Stale = true
			res.Answer = stalePricePrefix + res.Answer
			return res, nil
		}
		return degraded(fmt.Sprintf("Sorry, I couldn't get the price for %s. %s", symbol, upstreamMessage(err)), err), nil
	}

	r.cache.Put(key, fresh, query.IntentPrice)
	return formatPrice(symbol, fresh), nil
}

func (r *ManualRouter) quote(ctx context.Context, p query.ParsedQuery) (*Result, error) {
	symbol := p.Symbol()
	if symbol == "" {
		return clarify(CodeNoSymbol,
			"I couldn't identify a trading symbol. Please specify a symbol like 'AAPL' or 'EUR/USD'.",
			"No trading symbol found in query"), nil
	}

	key := cache.Fingerprint(query.IntentQuote, map[string]any{"symbol": symbol})
	if hit, ok := cachedPayload[*market.Quote](r.cache, key); ok {
		res := formatQuote(symbol, hit)
		res.Cached = true
		return res, nil
	}

	fresh, err := r.market.Quote(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := stalePayload[*market.Quote](r.cache, key); ok {
			res := formatQuote(symbol, stale)
			res.Stale = true
			res.Answer = staleDataPrefix + res.Answer
			return res, nil
		}
		return degraded(fmt.Sprintf("Sorry, I couldn't get quote data for %s. %s", symbol, upstreamMessage(err)), err), nil
	}

	r.cache.Put(key, fresh, query.IntentQuote)
	return formatQuote(symbol, fresh), nil
}

func (r *ManualRouter) historical(ctx context.Context, p query.ParsedQuery) (*Result, error) {
	symbol := p.Symbol()
	if symbol == "" {
		return clarify(CodeNoSymbol,
			"Please specify a symbol to get historical data for.",
			"No trading symbol found in query"), nil
	}

	key := cache.Fingerprint(query.IntentHistorical, map[string]any{
		"symbol":     symbol,
		"interval":   p.Interval,
		"outputsize": p.OutputSize,
	})
	if hit, ok := cachedPayload[*market.Series](r.cache, key); ok {
		res := formatHistorical(symbol, p.Interval, hit)
		res.Cached = true
		return res, nil
	}

	fresh, err := r.market.TimeSeries(ctx, symbol, p.Interval, p.OutputSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := stalePayload[*market.Series](r.cache, key); ok {
			res := formatHistorical(symbol, p.Interval, stale)
			res.Stale = true
			res.Answer = staleDataPrefix + res.Answer
			return res, nil
		}
		return degraded(fmt.Sprintf("Sorry, I couldn't get historical data for %s. %s", symbol, upstreamMessage(err)), err), nil
	}

	r.cache.Put(key, fresh, query.IntentHistorical)
	return formatHistorical(symbol, p.Interval, fresh), nil
}

func (r *ManualRouter) indicator(ctx context.Context, p query.ParsedQuery) (*Result, error) {
	symbol := p.Symbol()
	if symbol == "" {
		return clarify(CodeNoSymbol,
			"Please specify a symbol to calculate the indicator for.",
			"No trading symbol found in query"), nil
	}
	if p.Indicator == "" {
		return clarify(CodeNoIndicator,
			"Please specify which indicator you want (e.g., RSI, SMA, MACD).",
			"No indicator specified in query"), nil
	}

	key := cache.Fingerprint(query.IntentIndicator, map[string]any{
		"symbol":      symbol,
		"indicator":   p.Indicator,
		"interval":    p.Interval,
		"time_period": p.TimePeriod,
	})
	if hit, ok := cachedPayload[*market.IndicatorSeries](r.cache, key); ok {
		res := formatIndicator(symbol, p.Indicator, p.TimePeriod, hit)
		res.Cached = true
		return res, nil
	}

	fresh, err := r.market.Indicator(ctx, market.IndicatorRequest{
		Symbol:     symbol,
		Indicator:  p.Indicator,
		Interval:   p.Interval,
		TimePeriod: p.TimePeriod,
		OutputSize: p.OutputSize,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := stalePayload[*market.IndicatorSeries](r.cache, key); ok {
			res := formatIndicator(symbol, p.Indicator, p.TimePeriod, stale)
			res.Stale = true
			res.Answer = staleDataPrefix + res.Answer
			return res, nil
		}
		return degraded(fmt.Sprintf("Sorry, I couldn't calculate %s for %s. %s", strings.ToUpper(p.Indicator), symbol, upstreamMessage(err)), err), nil
	}

	r.cache.Put(key, fresh, query.IntentIndicator)
	return formatIndicator(symbol, p.Indicator, p.TimePeriod, fresh), nil
}

// conversion never touches the cache: the amount makes nearly every request
// unique, and rates move constantly anyway.
func (r *ManualRouter) conversion(ctx context.Context, p query.ParsedQuery) (*Result, error) {
	if p.FromCurrency == "" || p.ToCurrency == "" {
		return clarify(CodeMissingCurrencies,
			"Please specify both currencies for conversion (e.g., 'convert 100 USD to EUR').",
			"Need both source and target currencies"), nil
	}

	conv, err := r.market.Convert(ctx, p.FromCurrency, p.ToCurrency, p.Amount)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return degraded(fmt.Sprintf("Sorry, I couldn't convert %s to %s. %s", p.FromCurrency, p.ToCurrency, upstreamMessage(err)), err), nil
	}
	return formatConversion(conv), nil
}

func (r *ManualRouter) commodities(ctx context.Context) (*Result, error) {
	key := cache.Fingerprint(query.IntentCommodities, nil)
	if hit, ok := cachedPayload[[]market.Commodity](r.cache, key); ok {
		res := formatCommodities(hit)
		res.Cached = true
		return res, nil
	}

	fresh, err := r.market.Commodities(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := stalePayload[[]market.Commodity](r.cache, key); ok {
			res := formatCommodities(stale)
			res.Stale = true
			res.Answer = staleDataPrefix + res.Answer
			return res, nil
		}
		res := formatCommodities(knownCommodities)
		res.Stale = true
		res.Answer = staleCommoditiesPrefix + strings.TrimPrefix(res.Answer, "Here are the available commodities: ")
		return res, nil
	}

	r.cache.Put(key, fresh, query.IntentCommodities)
	return formatCommodities(fresh), nil
}

func (r *ManualRouter) websearch(ctx context.Context, p query.ParsedQuery) (*Result, error) {
	if r.search == nil {
		return clarify(CodeSearchDisabled,
			"Web search is currently disabled. Try asking about prices, quotes, historical data, indicators, or currency conversions.",
			"web search is not configured"), nil
	}

	terms := p.SearchTerms
	key := cache.Fingerprint(query.IntentWebSearch, map[string]any{
		"query": strings.ToLower(terms),
	})
	if hit, ok := cachedPayload[[]websearch.Result](r.cache, key); ok {
		res := formatSearch(terms, hit)
		res.Cached = true
		return res, nil
	}

	results, err := r.search.Search(ctx, terms)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := stalePayload[[]websearch.Result](r.cache, key); ok {
			res := formatSearch(terms, stale)
			res.Stale = true
			res.Answer = staleDataPrefix + res.Answer
			return res, nil
		}
		return &Result{
			Answer:  fmt.Sprintf("Sorry, the web search failed. %s", err),
			Type:    TypeWebSearch,
			Failure: &Failure{Code: CodeSearchError, Message: err.Error()},
		}, nil
	}

	r.cache.Put(key, results, query.IntentWebSearch)
	return formatSearch(terms, results), nil
}

// contextEntries converts session history to resolver context, oldest
// first. Only user turns participate; the resolver scans newest-first for
// symbol inheritance.
func contextEntries(history []session.Turn) []query.ContextEntry {
	if len(history) == 0 {
		return nil
	}
	entries := make([]query.ContextEntry, 0, len(history))
	for _, t := range history {
		if t.Role != session.RoleUser {
			continue
		}
		entries = append(entries, query.ContextEntry{
			Query:   t.Content,
			Intent:  query.Intent(t.Intent),
			Symbols: t.Symbols,
		})
	}
	return entries
}

// cachedPayload returns a fresh cache entry's payload when it has the
// expected type. A payload of the wrong type reads as a miss.
func cachedPayload[T any](st *cache.Store, key string) (T, bool) {
	var zero T
	e, ok := st.Get(key)
	if !ok {
		return zero, false
	}
	p, ok := e.Payload.(T)
	if !ok {
		return zero, false
	}
	return p, true
}

// stalePayload is cachedPayload over the stale window.
func stalePayload[T any](st *cache.Store, key string) (T, bool) {
	var zero T
	e, ok := st.GetStale(key)
	if !ok {
		return zero, false
	}
	p, ok := e.Payload.(T)
	if !ok {
		return zero, false
	}
	return p, true
}

func clarify(code, answer, message string) *Result {
	return &Result{
		Answer:  answer,
		Failure: &Failure{Code: code, Message: message},
	}
}

func degraded(answer string, err error) *Result {
	return &Result{
		Answer:  answer,
		Failure: &Failure{Code: CodeMCPError, Message: err.Error()},
	}
}

// upstreamMessage renders a market error for the user-facing answer. The
// full error chain goes into Failure.Message; the answer gets the short
// form.
func upstreamMessage(err error) string {
	var ue *market.UpstreamError
	switch {
	case errors.Is(err, market.ErrInvalidSymbol):
		return "That doesn't look like a valid trading symbol."
	case errors.Is(err, market.ErrUnreachable):
		return "The market data service is currently unreachable."
	case errors.As(err, &ue):
		return ue.Message
	default:
		return err.Error()
	}
}

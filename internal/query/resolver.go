package query

import (
	"regexp"
	"strconv"
	"strings"
)

// aliasPair maps one lowercase alias to its canonical value. Tables are
// ordered slices, not maps, so multi-symbol extraction order is stable.
type aliasPair struct {
	alias string
	value string
}

var metalAliases = []aliasPair{
	{"gold", "XAU/USD"},
	{"silver", "XAG/USD"},
	{"platinum", "XPT/USD"},
	{"palladium", "XPD/USD"},
}

var cryptoAliases = []aliasPair{
	{"bitcoin", "BTC/USD"},
	{"btc", "BTC/USD"},
	{"ethereum", "ETH/USD"},
	{"eth", "ETH/USD"},
	{"litecoin", "LTC/USD"},
	{"ltc", "LTC/USD"},
}

var companyAliases = []aliasPair{
	{"apple", "AAPL"},
	{"microsoft", "MSFT"},
	{"google", "GOOGL"},
	{"alphabet", "GOOGL"},
	{"amazon", "AMZN"},
	{"meta", "META"},
	{"facebook", "META"},
	{"nvidia", "NVDA"},
	{"tesla", "TSLA"},
	{"jpmorgan", "JPM"},
	{"jp morgan", "JPM"},
	{"walmart", "WMT"},
	{"johnson", "JNJ"},
	{"exxon", "XOM"},
	{"chevron", "CVX"},
}

// forexPairs are recognized with or without the slash ("EUR/USD", "EURUSD").
var forexPairs = []string{
	"EUR/USD", "GBP/USD", "USD/JPY", "USD/CHF", "AUD/USD", "USD/CAD",
	"NZD/USD", "EUR/GBP", "EUR/JPY", "GBP/JPY",
}

var knownTickers = map[string]bool{
	"AAPL": true, "MSFT": true, "GOOGL": true, "GOOG": true, "AMZN": true,
	"META": true, "NVDA": true, "TSLA": true, "JPM": true, "V": true,
	"MA": true, "UNH": true, "JNJ": true, "WMT": true, "PG": true,
	"XOM": true, "CVX": true, "BAC": true,
}

// indicatorAliases maps spoken names to TwelveData indicator codes. Longer
// phrases come first so "exponential moving average" resolves to ema before
// the generic "moving average" catches it as sma.
var indicatorAliases = []aliasPair{
	{"moving average convergence divergence", "macd"},
	{"exponential moving average", "ema"},
	{"simple moving average", "sma"},
	{"relative strength index", "rsi"},
	{"relative strength", "rsi"},
	{"average directional index", "adx"},
	{"average true range", "atr"},
	{"commodity channel index", "cci"},
	{"on balance volume", "obv"},
	{"bollinger bands", "bbands"},
	{"bollinger", "bbands"},
	{"rate of change", "roc"},
	{"williams %r", "willr"},
	{"williams", "willr"},
	{"stochastic", "stoch"},
	{"momentum", "mom"},
	{"moving average", "sma"},
}

// indicatorCodeRe matches bare indicator codes on word boundaries so "atr"
// does not fire inside "theatre".
var indicatorCodeRe = regexp.MustCompile(`\b(sma|ema|rsi|macd|bbands|stoch|adx|atr|cci|obv|mom|roc|willr)\b`)

// intervalAliases maps spoken intervals to TwelveData interval codes.
// Longer phrases first: "15 minute" must not be caught by "5 minute".
var intervalAliases = []aliasPair{
	{"15 minute", "15min"},
	{"15min", "15min"},
	{"30 minute", "30min"},
	{"30min", "30min"},
	{"1 minute", "1min"},
	{"1min", "1min"},
	{"5 minute", "5min"},
	{"5min", "5min"},
	{"1 hour", "1h"},
	{"hourly", "1h"},
	{"4 hour", "4h"},
	{"4h", "4h"},
	{"1h", "1h"},
	{"daily", "1day"},
	{"1 day", "1day"},
	{"1day", "1day"},
	{"weekly", "1week"},
	{"1 week", "1week"},
	{"1week", "1week"},
	{"monthly", "1month"},
	{"1 month", "1month"},
	{"1month", "1month"},
	{"day", "1day"},
	{"week", "1week"},
	{"month", "1month"},
}

// excludedWords are uppercase words that look like tickers but never are.
var excludedWords = map[string]bool{
	"THE": true, "IS": true, "OF": true, "TO": true, "FOR": true, "AT": true,
	"BY": true, "IN": true, "ON": true, "AN": true, "IT": true,
	"WHAT": true, "HOW": true, "SHOW": true, "GET": true, "GIVE": true,
	"ME": true, "AND": true, "OR": true, "WITH": true,
	"PRICE": true, "COST": true, "WORTH": true, "VALUE": true, "RATE": true,
	"DATA": true, "QUOTE": true,
	"LAST": true, "PAST": true, "TODAY": true, "NOW": true, "CURRENT": true,
	"DAILY": true, "WEEKLY": true,
	"SMA": true, "EMA": true, "RSI": true, "MACD": true, "ADX": true,
	"ATR": true, "CCI": true, "OBV": true, "ROC": true,
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
	"AUD": true, "CAD": true, "NZD": true,
	"DAY": true, "WEEK": true, "MONTH": true, "YEAR": true, "HOUR": true,
	"MIN": true,
	"CAN": true, "YOU": true, "TELL": true, "ABOUT": true, "THIS": true,
	"THAT": true, "FROM": true, "ITS": true, "ALSO": true, "TOO": true,
	"SAME": true,
	"GOLD": true, "SILVER": true, "PLATINUM": true, "BITCOIN": true,
	"ETHEREUM": true,
	"JOKE": true, "FUNNY": true, "HELP": true, "HELLO": true, "HI": true,
	"BYE": true, "THANKS": true, "PLEASE": true,
	"STOCK": true, "STOCKS": true, "MARKET": true, "TRADING": true,
	"TRADE": true, "TRADES": true,
	"INFO": true, "KNOW": true, "WANT": true, "NEED": true, "LIKE": true,
}

// financialIntentPhrases gate the unknown-ticker fallback: an arbitrary
// uppercase word is only treated as a symbol when the query talks finance.
var financialIntentPhrases = []string{
	"price", "quote", "cost", "worth", "value", "trading at",
	"buy", "sell", "invest", "stock", "share", "ticker",
	"chart", "history", "historical", "candle", "ohlc",
	"indicator", "sma", "ema", "rsi", "macd",
}

var commoditiesPhrases = []string{
	"list commodities", "available commodities", "what commodities",
	"which commodities", "show commodities", "commodities list",
}

// searchPrefixes divert a query to web search when it opens with one of
// these. Longer prefixes first.
var searchPrefixes = []string{
	"search the web for ", "search for ", "look up ", "google ",
}

var conversionPhrases = []string{
	"convert", "exchange", " to usd", " to eur", " to gbp", "how much is",
}

var historicalPhrases = []string{
	"historical", "history", "past", "chart", "time series", "candles",
	"over time", "last week", "last month", "last year", "trend",
}

var quotePhrases = []string{
	"quote", "detailed", "52 week", "volume", "high low", "open close", "ohlc",
}

var (
	tickerRe       = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	explicitPairRe = regexp.MustCompile(`\b[A-Z]{2,6}/[A-Z]{2,6}\b`)
	lastRangeRe    = regexp.MustCompile(`last\s+\d+\s+(?:days?|weeks?|months?|hours?)`)
	amountRe       = regexp.MustCompile(`\d+(?:\.\d+)?`)
	currencyCodeRe = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CHF|AUD|CAD|NZD)\b`)
	followUpRe     = regexp.MustCompile(`\b(?:its?|that|the same|this|same stock|same symbol|and what about|how about|what about|also|too)\b`)

	timePeriodRes = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)[\s-]*(?:period|days?)`),
		regexp.MustCompile(`period\s*of\s*(\d+)`),
		regexp.MustCompile(`(\d+)[\s-]*(?:day|week)\s*(?:sma|ema|rsi|macd)`),
	}
	outputSizeRes = []*regexp.Regexp{
		regexp.MustCompile(`last\s*(\d+)\s*(?:days?|weeks?|candles?|points?|bars?)`),
		regexp.MustCompile(`(\d+)\s*(?:days?|weeks?|candles?|points?|bars?)\s*of`),
	}
)

// word-boundary matchers for the alias tables, compiled once from the
// tables themselves.
var (
	metalRe   = aliasRegexp(metalAliases)
	cryptoRe  = aliasRegexp(cryptoAliases)
	companyRe = aliasRegexp(companyAliases)

	metalLookup   = aliasLookup(metalAliases)
	cryptoLookup  = aliasLookup(cryptoAliases)
	companyLookup = aliasLookup(companyAliases)
)

func aliasRegexp(pairs []aliasPair) *regexp.Regexp {
	alts := make([]string, len(pairs))
	for i, p := range pairs {
		alts[i] = regexp.QuoteMeta(p.alias)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func aliasLookup(pairs []aliasPair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.alias] = p.value
	}
	return m
}

// Defaults applied when a query does not specify the parameter.
const (
	DefaultInterval   = "1day"
	DefaultTimePeriod = 14
	DefaultOutputSize = 30
	MaxOutputSize     = 5000
)

// Resolver turns natural-language queries into ParsedQuery values.
// It is stateless and safe for concurrent use.
type Resolver struct{}

// NewResolver returns a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve parses text into an intent, symbols and parameters. When no symbol
// is present but the text reads like a follow-up ("what about its volume?"),
// symbols are inherited from the most recent history entry that has any.
func (r *Resolver) Resolve(text string, history []ContextEntry) ParsedQuery {
	lower := strings.ToLower(text)

	p := ParsedQuery{
		RawQuery:   text,
		Intent:     detectIntent(lower),
		Symbols:    extractSymbols(text),
		Interval:   extractInterval(lower),
		Indicator:  extractIndicator(lower),
		TimePeriod: extractTimePeriod(lower),
		OutputSize: extractOutputSize(lower),
	}

	if p.Intent == IntentWebSearch {
		p.SearchTerms = stripSearchPrefix(text, lower)
	}
	p.FromCurrency, p.ToCurrency, p.Amount = extractConversion(text, lower)

	if len(p.Symbols) == 0 && len(history) > 0 {
		p.Symbols = symbolsFromContext(lower, history)
	}

	if p.Interval == "" {
		p.Interval = DefaultInterval
	}
	if p.TimePeriod == 0 {
		p.TimePeriod = DefaultTimePeriod
	}
	if p.OutputSize == 0 {
		p.OutputSize = DefaultOutputSize
	}
	if p.Amount == 0 {
		p.Amount = 1
	}

	return p
}

// detectIntent classifies lowered text. First match wins; bare statements
// with no trigger phrase default to price, which downstream turns into a
// clarification when no symbol is present either.
func detectIntent(lower string) Intent {
	for _, phrase := range commoditiesPhrases {
		if strings.Contains(lower, phrase) {
			return IntentCommodities
		}
	}
	for _, prefix := range searchPrefixes {
		if strings.HasPrefix(lower, prefix) && strings.TrimSpace(lower[len(prefix):]) != "" {
			return IntentWebSearch
		}
	}
	for _, phrase := range conversionPhrases {
		if strings.Contains(lower, phrase) {
			return IntentConversion
		}
	}
	if extractIndicator(lower) != "" {
		return IntentIndicator
	}
	for _, phrase := range historicalPhrases {
		if strings.Contains(lower, phrase) {
			return IntentHistorical
		}
	}
	if lastRangeRe.MatchString(lower) {
		return IntentHistorical
	}
	for _, phrase := range quotePhrases {
		if strings.Contains(lower, phrase) {
			return IntentQuote
		}
	}
	return IntentPrice
}

// extractSymbols collects trading symbols in priority order: metals, crypto,
// company names, forex pairs, known tickers, explicit BASE/QUOTE pairs, and
// finally an unknown-ticker fallback that fires only for finance-flavored
// queries and takes a single candidate.
func extractSymbols(text string) []string {
	lower := strings.ToLower(text)
	upper := strings.ToUpper(text)

	var symbols []string
	add := func(sym string) {
		for _, s := range symbols {
			if s == sym {
				return
			}
		}
		symbols = append(symbols, sym)
	}

	for _, alias := range metalRe.FindAllString(lower, -1) {
		add(metalLookup[alias])
	}
	for _, alias := range cryptoRe.FindAllString(lower, -1) {
		add(cryptoLookup[alias])
	}
	for _, alias := range companyRe.FindAllString(lower, -1) {
		add(companyLookup[alias])
	}

	for _, pair := range forexPairs {
		if strings.Contains(upper, pair) || strings.Contains(upper, strings.ReplaceAll(pair, "/", "")) {
			add(pair)
		}
	}

	words := tickerRe.FindAllString(upper, -1)
	for _, w := range words {
		if knownTickers[w] && !excludedWords[w] {
			add(w)
		}
	}

	for _, pair := range explicitPairRe.FindAllString(upper, -1) {
		add(pair)
	}

	// Last resort: a finance-flavored query may name a ticker we don't know.
	// Take the first plausible word only.
	if len(symbols) == 0 && hasFinancialIntent(lower) {
		for _, w := range words {
			if !excludedWords[w] {
				add(w)
				break
			}
		}
	}

	return symbols
}

func hasFinancialIntent(lower string) bool {
	for _, phrase := range financialIntentPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func extractInterval(lower string) string {
	for _, a := range intervalAliases {
		if strings.Contains(lower, a.alias) {
			return a.value
		}
	}
	return ""
}

func extractIndicator(lower string) string {
	for _, a := range indicatorAliases {
		if strings.Contains(lower, a.alias) {
			return a.value
		}
	}
	if m := indicatorCodeRe.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return ""
}

func extractTimePeriod(lower string) int {
	for _, re := range timePeriodRes {
		if m := re.FindStringSubmatch(lower); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func extractOutputSize(lower string) int {
	for _, re := range outputSizeRes {
		if m := re.FindStringSubmatch(lower); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			return min(n, MaxOutputSize)
		}
	}
	return 0
}

// currencyWords map spoken currency names (singular after trailing-s strip)
// to ISO codes.
var currencyWords = map[string]string{
	"dollar": "USD", "usd": "USD",
	"euro": "EUR", "eur": "EUR",
	"pound": "GBP", "gbp": "GBP",
	"yen": "JPY", "jpy": "JPY",
	"franc": "CHF", "chf": "CHF",
}

// extractConversion finds the from/to currencies and the amount. Spoken
// names fill the slots in order of appearance; explicit ISO codes override
// when two or more are present.
func extractConversion(text, lower string) (from, to string, amount float64) {
	if m := amountRe.FindString(lower); m != "" {
		amount, _ = strconv.ParseFloat(m, 64)
	}

	for _, word := range strings.Fields(lower) {
		code, ok := currencyWords[strings.TrimRight(word, "s")]
		if !ok {
			continue
		}
		switch {
		case from == "":
			from = code
		case to == "":
			to = code
		}
	}

	codes := currencyCodeRe.FindAllString(strings.ToUpper(text), -1)
	if len(codes) >= 2 {
		from, to = codes[0], codes[1]
	} else if len(codes) == 1 && from == "" {
		from = codes[0]
	}

	return from, to, amount
}

func stripSearchPrefix(text, lower string) string {
	for _, prefix := range searchPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(text[len(prefix):])
		}
	}
	return strings.TrimSpace(text)
}

// symbolsFromContext inherits symbols from the newest history entry that
// carries any, but only when the text actually reads like a follow-up.
func symbolsFromContext(lower string, history []ContextEntry) []string {
	if !followUpRe.MatchString(lower) {
		return nil
	}
	for i := len(history) - 1; i >= 0; i-- {
		if len(history[i].Symbols) > 0 {
			out := make([]string, len(history[i].Symbols))
			copy(out, history[i].Symbols)
			return out
		}
	}
	return nil
}

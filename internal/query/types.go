// Package query parses natural-language market questions into structured
// requests: an intent, trading symbols, and the parameters the market-data
// operations need.
//
// Parsing is deterministic and performs no I/O. Identical inputs always
// produce identical results, which keeps downstream cache keys stable.
package query

// Intent classifies what a query is asking for.
type Intent string

const (
	IntentPrice       Intent = "price"
	IntentQuote       Intent = "quote"
	IntentHistorical  Intent = "historical"
	IntentIndicator   Intent = "indicator"
	IntentConversion  Intent = "conversion"
	IntentCommodities Intent = "commodities_list"
	IntentWebSearch   Intent = "websearch"
	IntentUnknown     Intent = "unknown"
)

// ParsedQuery is the structured form of one natural-language query.
// Defaults are applied during parsing: Interval "1day", TimePeriod 14,
// OutputSize 30, Amount 1.
type ParsedQuery struct {
	Intent       Intent
	Symbols      []string
	Interval     string
	Indicator    string
	TimePeriod   int
	OutputSize   int
	FromCurrency string
	ToCurrency   string
	Amount       float64
	SearchTerms  string
	RawQuery     string
}

// Symbol returns the primary symbol, or "" when none was extracted.
func (p *ParsedQuery) Symbol() string {
	if len(p.Symbols) == 0 {
		return ""
	}
	return p.Symbols[0]
}

// ContextEntry is one prior exchange consulted when resolving follow-up
// queries ("what about its volume?"). Only Symbols participates in
// inheritance; Query and Intent are kept for logging.
type ContextEntry struct {
	Query   string
	Intent  Intent
	Symbols []string
}

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names on the TwelveData gateway's MCP surface. The fake registers the
// same names so clients exercise their real wire path.
const (
	toolPrice        = "twelvedata_get_price"
	toolQuote        = "twelvedata_get_quote"
	toolTimeSeries   = "twelvedata_get_time_series"
	toolIndicator    = "twelvedata_technical_indicator"
	toolExchangeRate = "twelvedata_get_exchange_rate"
	toolConvert      = "twelvedata_convert_currency"
	toolCommodities  = "twelvedata_list_commodities"
)

// Magic symbols the price tool reacts to. Any other symbol gets the default
// feed unless a SetPrice override exists for it.
const (
	// SymbolInvalid produces an invalid-symbol tool error.
	SymbolInvalid = "BADSYM"
	// SymbolUpstreamError produces a structured upstream error with code 429.
	SymbolUpstreamError = "FAIL"
	// SymbolPlainText produces a non-JSON text payload.
	SymbolPlainText = "PLAIN"
	// SymbolStructured produces structured content that disagrees with the
	// text content, so tests can observe which one a client prefers.
	SymbolStructured = "STRUCT"
)

// MarketServer is an in-process stand-in for the TwelveData MCP gateway. It
// serves the gateway's tool surface over streamable HTTP plus a /health
// endpoint, and records protocol traffic for assertions. Payloads mimic
// TwelveData's string-encoded numbers.
type MarketServer struct {
	// URL is the gateway base. The MCP endpoint lives at URL+"/mcp" and
	// the health probe at URL+"/health".
	URL string

	// HTTPClient is preconfigured for the underlying test server.
	HTTPClient *http.Client

	mu          sync.Mutex
	initializes int
	healthCode  int
	lastFormat  string
	priceDelay  time.Duration
	prices      map[string]scriptedPrice
}

type scriptedPrice struct {
	price     float64
	changePct float64
}

// StartMarketServer launches a fake gateway torn down via t.Cleanup.
func StartMarketServer(t *testing.T) *MarketServer {
	t.Helper()

	s := &MarketServer{
		healthCode: http.StatusOK,
		prices:     make(map[string]scriptedPrice),
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "fake-twelvedata", Version: "0.0.1"}, nil)
	s.registerTools(t, server)

	mux := http.NewServeMux()
	mux.Handle("/mcp", s.counting(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		code := s.healthCode
		s.mu.Unlock()
		w.WriteHeader(code)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Client().CloseIdleConnections)
	t.Cleanup(srv.Close)

	s.URL = srv.URL
	s.HTTPClient = srv.Client()
	return s
}

// SetPrice scripts the price feed for one symbol, overriding both the magic
// symbols and the default feed.
func (s *MarketServer) SetPrice(symbol string, price, changePct float64) {
	s.mu.Lock()
	s.prices[symbol] = scriptedPrice{price: price, changePct: changePct}
	s.mu.Unlock()
}

// SetHealth changes the status code of the /health endpoint.
func (s *MarketServer) SetHealth(code int) {
	s.mu.Lock()
	s.healthCode = code
	s.mu.Unlock()
}

// SetPriceDelay makes the price tool sleep before answering, for timeout
// tests. The sleep respects call cancellation.
func (s *MarketServer) SetPriceDelay(d time.Duration) {
	s.mu.Lock()
	s.priceDelay = d
	s.mu.Unlock()
}

// InitializeCount reports how many MCP initialize handshakes the server has
// seen, which is how tests observe session reuse and re-dials.
func (s *MarketServer) InitializeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializes
}

// LastResponseFormat returns the response_format argument of the most recent
// tool call, "" before the first call.
func (s *MarketServer) LastResponseFormat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFormat
}

// counting wraps the MCP endpoint and counts initialize handshakes.
func (s *MarketServer) counting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(r.Body)
			if err == nil {
				if bytes.Contains(body, []byte(`"method":"initialize"`)) {
					s.mu.Lock()
					s.initializes++
					s.mu.Unlock()
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *MarketServer) recordFormat(format string) {
	s.mu.Lock()
	s.lastFormat = format
	s.mu.Unlock()
}

// Tool argument structs mirror what the real gateway accepts. Every tool
// takes response_format because clients send it on every call.
type symbolArgs struct {
	Symbol         string `json:"symbol"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type seriesArgs struct {
	Symbol         string `json:"symbol"`
	Interval       string `json:"interval"`
	OutputSize     int    `json:"outputsize"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type indicatorArgs struct {
	Symbol         string `json:"symbol"`
	Indicator      string `json:"indicator"`
	Interval       string `json:"interval"`
	TimePeriod     int    `json:"time_period"`
	OutputSize     int    `json:"outputsize"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type convertArgs struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	Amount         float64 `json:"amount"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

type emptyArgs struct {
	ResponseFormat string `json:"response_format,omitempty"`
}

func jsonResult(payload any) *mcp.CallToolResult {
	b, _ := json.Marshal(payload)
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func addTool[In any](t *testing.T, server *mcp.Server, name string, handler mcp.ToolHandlerFor[In, any]) {
	t.Helper()
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		t.Fatalf("building schema for %s: %v", name, err)
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        name,
		Description: "fake " + name,
		InputSchema: schema,
	}, handler)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *MarketServer) registerTools(t *testing.T, server *mcp.Server) {
	t.Helper()

	addTool(t, server, toolPrice, func(ctx context.Context, req *mcp.CallToolRequest, in symbolArgs) (*mcp.CallToolResult, any, error) {
		s.mu.Lock()
		s.lastFormat = in.ResponseFormat
		delay := s.priceDelay
		scripted, hasScript := s.prices[in.Symbol]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		if hasScript {
			return jsonResult(map[string]any{
				"price":          formatNumber(scripted.price),
				"percent_change": formatNumber(scripted.changePct),
			}), nil, nil
		}

		switch in.Symbol {
		case SymbolInvalid:
			return errorResult("symbol not found: " + in.Symbol + ". Please specify it correctly according to API documentation."), nil, nil
		case SymbolUpstreamError:
			return errorResult(`{"code":429,"message":"You have run out of API credits for the current minute"}`), nil, nil
		case SymbolPlainText:
			return textResult("price feed temporarily unavailable"), nil, nil
		case SymbolStructured:
			return &mcp.CallToolResult{
				Content:           []mcp.Content{&mcp.TextContent{Text: `{"price":"42.50"}`}},
				StructuredContent: map[string]any{"price": "42.50", "percent_change": "2.5"},
			}, nil, nil
		default:
			return jsonResult(map[string]any{"price": "189.95", "percent_change": "1.25"}), nil, nil
		}
	})

	addTool(t, server, toolQuote, func(ctx context.Context, req *mcp.CallToolRequest, in symbolArgs) (*mcp.CallToolResult, any, error) {
		s.recordFormat(in.ResponseFormat)
		return jsonResult(map[string]any{
			"symbol": in.Symbol, "open": "189.50", "high": "191.20",
			"low": "188.90", "close": "190.45", "volume": "55119000",
			"percent_change": "0.85",
			"fifty_two_week": map[string]any{"high": "232.50", "low": "164.08"},
		}), nil, nil
	})

	addTool(t, server, toolTimeSeries, func(ctx context.Context, req *mcp.CallToolRequest, in seriesArgs) (*mcp.CallToolResult, any, error) {
		s.recordFormat(in.ResponseFormat)
		return jsonResult(map[string]any{
			"meta": map[string]any{"symbol": in.Symbol, "interval": in.Interval},
			"values": []map[string]any{
				{"datetime": "2026-01-16", "open": "190", "high": "192", "low": "189", "close": "191", "volume": "40000000"},
				{"datetime": "2026-01-15", "open": "188", "high": "190", "low": "187", "close": "190", "volume": "42000000"},
			},
		}), nil, nil
	})

	addTool(t, server, toolIndicator, func(ctx context.Context, req *mcp.CallToolRequest, in indicatorArgs) (*mcp.CallToolResult, any, error) {
		s.recordFormat(in.ResponseFormat)
		return jsonResult(map[string]any{
			"meta": map[string]any{"symbol": in.Symbol},
			"values": []map[string]any{
				{"datetime": "2026-01-16", in.Indicator: "190.10"},
				{"datetime": "2026-01-15", in.Indicator: "189.80"},
			},
		}), nil, nil
	})

	addTool(t, server, toolExchangeRate, func(ctx context.Context, req *mcp.CallToolRequest, in symbolArgs) (*mcp.CallToolResult, any, error) {
		s.recordFormat(in.ResponseFormat)
		return jsonResult(map[string]any{
			"symbol": in.Symbol, "rate": "1.0854", "timestamp": 1714060800,
		}), nil, nil
	})

	addTool(t, server, toolConvert, func(ctx context.Context, req *mcp.CallToolRequest, in convertArgs) (*mcp.CallToolResult, any, error) {
		s.recordFormat(in.ResponseFormat)
		if in.From == "GBP" {
			return jsonResult(map[string]any{
				"symbol": in.From + "/" + in.To, "rate": "190.5", "amount": "381.0",
			}), nil, nil
		}
		return jsonResult(map[string]any{
			"symbol": in.From + "/" + in.To, "rate": "0.9234",
		}), nil, nil
	})

	addTool(t, server, toolCommodities, func(ctx context.Context, req *mcp.CallToolRequest, in emptyArgs) (*mcp.CallToolResult, any, error) {
		s.recordFormat(in.ResponseFormat)
		return jsonResult([]map[string]any{
			{"symbol": "XAU/USD", "name": "Gold"},
			{"symbol": "CL", "name": "Crude Oil WTI"},
		}), nil, nil
	})
}

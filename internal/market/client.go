// Package market provides the typed client for the TwelveData MCP gateway.
// Every operation maps to one MCP tool call over streamable HTTP; the client
// keeps a single lazily dialed session and re-dials after any call failure,
// so a restarted gateway never wedges it. Responses are decoded into the
// payload types in types.go, tolerating TwelveData's string-encoded numbers.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// DefaultTimeout bounds one tool call including the lazy dial.
	DefaultTimeout = 30 * time.Second

	// healthTimeout bounds the plain HTTP health probe.
	healthTimeout = 5 * time.Second

	clientName    = "finquery"
	clientVersion = "1.0.0"
)

// MCP tool names exposed by the TwelveData gateway.
const (
	toolPrice        = "twelvedata_get_price"
	toolQuote        = "twelvedata_get_quote"
	toolTimeSeries   = "twelvedata_get_time_series"
	toolIndicator    = "twelvedata_technical_indicator"
	toolExchangeRate = "twelvedata_get_exchange_rate"
	toolConvert      = "twelvedata_convert_currency"
	toolCommodities  = "twelvedata_list_commodities"
)

// Fallback values applied when a request leaves a field unset.
const (
	defaultInterval   = "1day"
	defaultTimePeriod = 14
	defaultOutputSize = 30
)

// Config holds market client configuration.
type Config struct {
	// ServerURL is the gateway base URL, e.g. http://localhost:3847. The MCP
	// endpoint lives at {ServerURL}/mcp and the health probe at
	// {ServerURL}/health.
	ServerURL string

	// Timeout is the per-call budget. DefaultTimeout when zero.
	Timeout time.Duration

	// HTTPClient is used for both MCP traffic and health probes.
	// http.DefaultClient when nil.
	HTTPClient *http.Client

	// Logger receives per-call diagnostics. slog.Default() when nil.
	Logger *slog.Logger
}

// Client talks to the market data gateway. Safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	httpc   *http.Client
	logger  *slog.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
}

// NewClient creates a market data client. It does not dial; the first call
// establishes the session.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("market server URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		timeout: cfg.Timeout,
		httpc:   cfg.HTTPClient,
		logger:  cfg.Logger,
	}, nil
}

// Price fetches the spot price of a symbol.
func (c *Client) Price(ctx context.Context, symbol string) (*Price, error) {
	raw, err := c.call(ctx, toolPrice, map[string]any{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	var p Price
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, decodeErr(toolPrice, err)
	}
	if p.Symbol == "" {
		p.Symbol = symbol
	}
	return &p, nil
}

// Quote fetches the full daily quote of a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	raw, err := c.call(ctx, toolQuote, map[string]any{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, decodeErr(toolQuote, err)
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return &q, nil
}

// TimeSeries fetches historical OHLCV candles. interval defaults to 1day and
// outputSize to 30 when unset.
func (c *Client) TimeSeries(ctx context.Context, symbol, interval string, outputSize int) (*Series, error) {
	if interval == "" {
		interval = defaultInterval
	}
	if outputSize <= 0 {
		outputSize = defaultOutputSize
	}
	raw, err := c.call(ctx, toolTimeSeries, map[string]any{
		"symbol":     symbol,
		"interval":   interval,
		"outputsize": outputSize,
	})
	if err != nil {
		return nil, err
	}
	var s Series
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, decodeErr(toolTimeSeries, err)
	}
	if s.Symbol == "" {
		s.Symbol = symbol
	}
	if s.Interval == "" {
		s.Interval = interval
	}
	return &s, nil
}

// IndicatorRequest names a technical indicator computation.
type IndicatorRequest struct {
	Symbol     string
	Indicator  string // sma, ema, rsi, macd, ...
	Interval   string // defaults to 1day
	TimePeriod int    // defaults to 14
	OutputSize int    // defaults to 30
}

// Indicator computes a technical indicator series.
func (c *Client) Indicator(ctx context.Context, req IndicatorRequest) (*IndicatorSeries, error) {
	if req.Interval == "" {
		req.Interval = defaultInterval
	}
	if req.TimePeriod <= 0 {
		req.TimePeriod = defaultTimePeriod
	}
	if req.OutputSize <= 0 {
		req.OutputSize = defaultOutputSize
	}
	raw, err := c.call(ctx, toolIndicator, map[string]any{
		"symbol":      req.Symbol,
		"indicator":   req.Indicator,
		"interval":    req.Interval,
		"time_period": req.TimePeriod,
		"outputsize":  req.OutputSize,
	})
	if err != nil {
		return nil, err
	}
	var s IndicatorSeries
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, decodeErr(toolIndicator, err)
	}
	if s.Symbol == "" {
		s.Symbol = req.Symbol
	}
	s.Indicator = strings.ToUpper(req.Indicator)
	return &s, nil
}

// ExchangeRate fetches the current rate for a currency pair such as EUR/USD.
func (c *Client) ExchangeRate(ctx context.Context, pair string) (*Rate, error) {
	raw, err := c.call(ctx, toolExchangeRate, map[string]any{"symbol": pair})
	if err != nil {
		return nil, err
	}
	var r Rate
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, decodeErr(toolExchangeRate, err)
	}
	if r.Symbol == "" {
		r.Symbol = pair
	}
	return &r, nil
}

// Convert converts an amount between two currencies. When upstream omits the
// converted value it is derived from the rate.
func (c *Client) Convert(ctx context.Context, from, to string, amount float64) (*Conversion, error) {
	raw, err := c.call(ctx, toolConvert, map[string]any{
		"from":   from,
		"to":     to,
		"amount": amount,
	})
	if err != nil {
		return nil, err
	}
	var conv Conversion
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, decodeErr(toolConvert, err)
	}
	conv.From = from
	conv.To = to
	conv.Amount = amount
	if conv.Rate == 0 {
		conv.Rate = 1.0
	}
	if conv.Result == 0 {
		conv.Result = amount * conv.Rate
	}
	return &conv, nil
}

// Commodities fetches the catalog of tradable commodities.
func (c *Client) Commodities(ctx context.Context) ([]Commodity, error) {
	raw, err := c.call(ctx, toolCommodities, nil)
	if err != nil {
		return nil, err
	}
	list, err := decodeCommodities(raw)
	if err != nil {
		return nil, decodeErr(toolCommodities, err)
	}
	return list, nil
}

// Health probes the gateway's plain HTTP health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{Code: resp.StatusCode, Message: "health probe returned " + resp.Status}
	}
	return nil
}

// Close tears down the MCP session if one is established.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// call runs one MCP tool call with the per-call timeout and correlation id.
// Every argument set carries response_format=json so the gateway returns
// machine-readable payloads instead of prose.
func (c *Client) call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = make(map[string]any, 1)
	}
	args["response_format"] = "json"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	callID := uuid.NewString()
	start := time.Now()

	session, err := c.ensureSession(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "market dial failed",
			"tool", tool, "call_id", callID, "error", err)
		return nil, err
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		// A failed exchange may mean the gateway restarted under us, so the
		// session is dropped either way and the next call re-dials.
		c.dropSession(session)
		if transportFailure(err) {
			err = fmt.Errorf("%w: %v", ErrUnreachable, err)
		} else {
			err = &UpstreamError{Message: err.Error()}
		}
		c.logger.ErrorContext(ctx, "market call failed",
			"tool", tool, "call_id", callID, "elapsed", time.Since(start), "error", err)
		return nil, err
	}

	if res.IsError {
		toolErr := classifyToolError(resultText(res))
		c.logger.WarnContext(ctx, "market tool error",
			"tool", tool, "call_id", callID, "error", toolErr)
		return nil, toolErr
	}

	payload, err := decodeResult(res)
	if err != nil {
		c.logger.WarnContext(ctx, "market payload unusable",
			"tool", tool, "call_id", callID, "error", err)
		return nil, err
	}

	c.logger.DebugContext(ctx, "market call completed",
		"tool", tool, "call_id", callID, "elapsed", time.Since(start))
	return payload, nil
}

// ensureSession returns the live session, dialing one if needed.
func (c *Client) ensureSession(ctx context.Context) (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)
	transport := &mcp.StreamableClientTransport{
		Endpoint:   c.baseURL + "/mcp",
		HTTPClient: c.httpc,
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	c.session = session
	return session, nil
}

// dropSession discards the session unless a concurrent re-dial already
// replaced it.
func (c *Client) dropSession(session *mcp.ClientSession) {
	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	c.mu.Unlock()
	_ = session.Close()
}

// transportFailure reports whether err looks like a network-level problem
// rather than a protocol rejection.
func transportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// resultText returns the first text content of a tool result, "" when none.
func resultText(res *mcp.CallToolResult) string {
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// classifyToolError turns an IsError result into a typed error. The gateway
// forwards TwelveData errors as JSON ({"code": 404, "message": ...}) inside
// the error text; anything else is kept verbatim.
func classifyToolError(text string) error {
	msg := strings.TrimSpace(text)
	code := 0

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(text), &body) == nil && body.Message != "" {
		msg = body.Message
		code = body.Code
	}
	if msg == "" {
		msg = "tool returned an error with no message"
	}

	lower := strings.ToLower(msg)
	if strings.Contains(lower, "symbol") &&
		(strings.Contains(lower, "not found") ||
			strings.Contains(lower, "invalid") ||
			strings.Contains(lower, "unknown") ||
			strings.Contains(lower, "missing")) {
		return fmt.Errorf("%w: %s", ErrInvalidSymbol, msg)
	}
	return &UpstreamError{Code: code, Message: msg}
}

// decodeResult extracts the JSON payload from a successful tool result:
// structured content when present, otherwise the first text content parsed
// as JSON, otherwise the text wrapped as {"text": ...}.
func decodeResult(res *mcp.CallToolResult) (json.RawMessage, error) {
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, &UpstreamError{Message: fmt.Sprintf("unusable structured content: %v", err)}
		}
		return raw, nil
	}

	text := resultText(res)
	if text == "" {
		return nil, &UpstreamError{Message: "tool returned no content"}
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	raw, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, &UpstreamError{Message: fmt.Sprintf("unusable text content: %v", err)}
	}
	return raw, nil
}

func decodeErr(tool string, err error) error {
	return &UpstreamError{Message: fmt.Sprintf("malformed %s payload: %v", tool, err)}
}

package market

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TwelveData serializes most numbers as JSON strings ("189.95") and leaves
// gaps as empty strings or nulls, so every numeric payload field decodes
// through flexFloat/flexInt. Fields that arrive under more than one name
// (change_percent vs percent_change, values vs candles) are merged in the
// custom UnmarshalJSON of each payload type; a zero value counts as absent
// for optional fields, matching how the upstream omits them.

// flexFloat decodes from a JSON number, a numeric string, null, or "".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("numeric field %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// flexInt decodes integers the same way, truncating fractional input.
type flexInt int64

func (i *flexInt) UnmarshalJSON(data []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = flexInt(f)
	return nil
}

// firstNonZero returns the first present, non-zero value in the chain.
func firstNonZero(vals ...*flexFloat) float64 {
	for _, v := range vals {
		if v != nil && *v != 0 {
			return float64(*v)
		}
	}
	return 0
}

// optionalFloat returns a pointer to the first present, non-zero value, or
// nil when every candidate is absent or zero.
func optionalFloat(vals ...*flexFloat) *float64 {
	for _, v := range vals {
		if v != nil && *v != 0 {
			out := float64(*v)
			return &out
		}
	}
	return nil
}

func optionalInt(v *flexInt) *int64 {
	if v == nil || *v == 0 {
		return nil
	}
	out := int64(*v)
	return &out
}

func floatOrZero(v *flexFloat) float64 {
	if v == nil {
		return 0
	}
	return float64(*v)
}

// Price is the spot price of a symbol.
type Price struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbol        string     `json:"symbol"`
		Price         *flexFloat `json:"price"`
		Close         *flexFloat `json:"close"`
		Last          *flexFloat `json:"last"`
		ChangePercent *flexFloat `json:"change_percent"`
		PercentChange *flexFloat `json:"percent_change"`
		Change        *flexFloat `json:"change"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Symbol = raw.Symbol
	p.Price = firstNonZero(raw.Price, raw.Close, raw.Last)
	p.ChangePercent = optionalFloat(raw.ChangePercent, raw.PercentChange, raw.Change)
	return nil
}

// Quote is a full daily quote for a symbol.
type Quote struct {
	Symbol           string   `json:"symbol"`
	Open             float64  `json:"open"`
	High             float64  `json:"high"`
	Low              float64  `json:"low"`
	Close            float64  `json:"close"`
	Volume           *int64   `json:"volume,omitempty"`
	ChangePercent    *float64 `json:"change_percent,omitempty"`
	FiftyTwoWeekHigh *float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow  *float64 `json:"fifty_two_week_low,omitempty"`
}

func (q *Quote) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbol        string     `json:"symbol"`
		Open          *flexFloat `json:"open"`
		High          *flexFloat `json:"high"`
		Low           *flexFloat `json:"low"`
		Close         *flexFloat `json:"close"`
		Volume        *flexInt   `json:"volume"`
		ChangePercent *flexFloat `json:"change_percent"`
		PercentChange *flexFloat `json:"percent_change"`
		High52Flat    *flexFloat `json:"fifty_two_week_high"`
		High52Alias   *flexFloat `json:"52_week_high"`
		Low52Flat     *flexFloat `json:"fifty_two_week_low"`
		Low52Alias    *flexFloat `json:"52_week_low"`
		FiftyTwoWeek  *struct {
			High *flexFloat `json:"high"`
			Low  *flexFloat `json:"low"`
		} `json:"fifty_two_week"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Symbol = raw.Symbol
	q.Open = floatOrZero(raw.Open)
	q.High = floatOrZero(raw.High)
	q.Low = floatOrZero(raw.Low)
	q.Close = floatOrZero(raw.Close)
	q.Volume = optionalInt(raw.Volume)
	q.ChangePercent = optionalFloat(raw.ChangePercent, raw.PercentChange)
	high52 := []*flexFloat{raw.High52Flat, raw.High52Alias}
	low52 := []*flexFloat{raw.Low52Flat, raw.Low52Alias}
	if raw.FiftyTwoWeek != nil {
		high52 = append(high52, raw.FiftyTwoWeek.High)
		low52 = append(low52, raw.FiftyTwoWeek.Low)
	}
	q.FiftyTwoWeekHigh = optionalFloat(high52...)
	q.FiftyTwoWeekLow = optionalFloat(low52...)
	return nil
}

// Candle is one OHLCV bar in a time series.
type Candle struct {
	Datetime string  `json:"datetime"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   *int64  `json:"volume,omitempty"`
}

func (c *Candle) UnmarshalJSON(data []byte) error {
	var raw struct {
		Datetime string     `json:"datetime"`
		Open     *flexFloat `json:"open"`
		High     *flexFloat `json:"high"`
		Low      *flexFloat `json:"low"`
		Close    *flexFloat `json:"close"`
		Volume   *flexInt   `json:"volume"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Datetime = raw.Datetime
	c.Open = floatOrZero(raw.Open)
	c.High = floatOrZero(raw.High)
	c.Low = floatOrZero(raw.Low)
	c.Close = floatOrZero(raw.Close)
	c.Volume = optionalInt(raw.Volume)
	return nil
}

// Series is a historical time series for a symbol.
type Series struct {
	Symbol   string   `json:"symbol"`
	Interval string   `json:"interval"`
	Values   []Candle `json:"values"`
}

func (s *Series) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbol string `json:"symbol"`
		Meta   *struct {
			Symbol   string `json:"symbol"`
			Interval string `json:"interval"`
		} `json:"meta"`
		Interval string   `json:"interval"`
		Values   []Candle `json:"values"`
		Candles  []Candle `json:"candles"`
		Data     []Candle `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Symbol = raw.Symbol
	s.Interval = raw.Interval
	if raw.Meta != nil {
		if s.Symbol == "" {
			s.Symbol = raw.Meta.Symbol
		}
		if s.Interval == "" {
			s.Interval = raw.Meta.Interval
		}
	}
	switch {
	case len(raw.Values) > 0:
		s.Values = raw.Values
	case len(raw.Candles) > 0:
		s.Values = raw.Candles
	default:
		s.Values = raw.Data
	}
	return nil
}

// IndicatorSeries is the computed output of a technical indicator. Values
// stay as raw maps: each indicator reports its own columns (sma, macd_signal,
// upper_band and so on).
type IndicatorSeries struct {
	Symbol    string           `json:"symbol"`
	Indicator string           `json:"indicator"`
	Values    []map[string]any `json:"values"`
}

func (s *IndicatorSeries) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbol string `json:"symbol"`
		Meta   *struct {
			Symbol string `json:"symbol"`
		} `json:"meta"`
		Values []map[string]any `json:"values"`
		Data   []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Symbol = raw.Symbol
	if s.Symbol == "" && raw.Meta != nil {
		s.Symbol = raw.Meta.Symbol
	}
	s.Values = raw.Values
	if len(s.Values) == 0 {
		s.Values = raw.Data
	}
	return nil
}

// Rate is the exchange rate for a currency pair.
type Rate struct {
	Symbol    string  `json:"symbol"`
	Rate      float64 `json:"rate"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Symbol       string     `json:"symbol"`
		Rate         *flexFloat `json:"rate"`
		ExchangeRate *flexFloat `json:"exchange_rate"`
		Timestamp    *flexInt   `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Symbol = raw.Symbol
	r.Rate = firstNonZero(raw.Rate, raw.ExchangeRate)
	if raw.Timestamp != nil {
		r.Timestamp = int64(*raw.Timestamp)
	}
	return nil
}

// Conversion is the result of converting an amount between two currencies.
// From, To and Amount echo the request; Result and Rate come from upstream.
type Conversion struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
	Result float64 `json:"result"`
	Rate   float64 `json:"rate"`
}

func (c *Conversion) UnmarshalJSON(data []byte) error {
	var raw struct {
		Rate         *flexFloat `json:"rate"`
		ExchangeRate *flexFloat `json:"exchange_rate"`
		Result       *flexFloat `json:"result"`
		Amount       *flexFloat `json:"amount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Rate = firstNonZero(raw.Rate, raw.ExchangeRate)
	// Upstream reports the converted value as "amount"; the request amount is
	// filled in by the caller.
	c.Result = firstNonZero(raw.Result, raw.Amount)
	return nil
}

// Commodity is one entry in the tradable commodities catalog.
type Commodity struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// decodeCommodities accepts the catalog either as a bare array or wrapped in
// a "data" or "commodities" object key.
func decodeCommodities(raw json.RawMessage) ([]Commodity, error) {
	var list []Commodity
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Data        []Commodity `json:"data"`
		Commodities []Commodity `json:"commodities"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Data) > 0 {
		return wrapped.Data, nil
	}
	return wrapped.Commodities, nil
}

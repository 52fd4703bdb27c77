package influx

import "encoding/json"

// Series is a single result series. Values holds rows of [timestamp, value, ...]
// ordered by time ascending; it is never nil.
type Series struct {
	Name    string            `json:"name,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
	Columns []string          `json:"columns,omitempty"`
	Values  [][]any           `json:"values"`
}

// EmptySeries returns a series with an empty, non-nil value matrix.
func EmptySeries() Series {
	return Series{Values: [][]any{}}
}

// IsEmpty reports whether the series has no rows.
func (s Series) IsEmpty() bool {
	return len(s.Values) == 0
}

// FirstValue returns the value column of the first row, or false when there is none.
func (s Series) FirstValue() (float64, bool) {
	if len(s.Values) == 0 || len(s.Values[0]) < 2 {
		return 0, false
	}
	return Number(s.Values[0][1])
}

// response is the /query envelope. Every level is optional.
type response struct {
	Results []result `json:"results"`
	Error   *string  `json:"error"`
}

type result struct {
	StatementID int      `json:"statement_id"`
	Series      []Series `json:"series"`
	Error       *string  `json:"error"`
}

// decodeResponse extracts the first series of the first result. A non-nil message
// means the backend reported an error. Missing or undecodable data yields an empty series.
func decodeResponse(body []byte) (Series, *string) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return EmptySeries(), nil
	}
	if resp.Error != nil {
		return EmptySeries(), resp.Error
	}
	if len(resp.Results) == 0 {
		return EmptySeries(), nil
	}
	first := resp.Results[0]
	if first.Error != nil {
		return EmptySeries(), first.Error
	}
	if len(first.Series) == 0 {
		return EmptySeries(), nil
	}
	s := first.Series[0]
	if s.Values == nil {
		s.Values = [][]any{}
	}
	return s, nil
}

// Number converts a decoded JSON or SDK value to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

package influx

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/jonboulle/clockwork"

	"github.com/48ix/stats/pkg/statserr"
)

// DefaultGranularity is the GROUP BY time bucket used unless Granularity overrides it.
const DefaultGranularity = 10 * time.Second

type fillKind int

const (
	fillUnset fillKind = iota
	fillNone
	fillPrevious
	fillNull
	fillValue
)

// FillPolicy controls how InfluxDB substitutes values for empty time buckets.
type FillPolicy struct {
	kind  fillKind
	value float64
}

var (
	FillNone     = FillPolicy{kind: fillNone}
	FillPrevious = FillPolicy{kind: fillPrevious}
	FillNull     = FillPolicy{kind: fillNull}
)

// FillValue fills empty buckets with a literal number.
func FillValue(v float64) FillPolicy {
	return FillPolicy{kind: fillValue, value: v}
}

func (p FillPolicy) String() string {
	switch p.kind {
	case fillNone:
		return "none"
	case fillPrevious:
		return "previous"
	case fillNull:
		return "null"
	case fillValue:
		return strconv.FormatFloat(p.value, 'f', -1, 64)
	default:
		return ""
	}
}

// Query is an InfluxQL SELECT statement under construction. Every setter returns
// a modified copy, so a partially built Query can be shared as a template.
type Query struct {
	selections  []string
	measurement string
	sub         *Query
	periodHours int
	start       time.Time
	end         time.Time
	tags        map[string]string
	groupTags   []string
	groupTime   bool
	grouped     bool
	granularity time.Duration
	fill        FillPolicy
	clock       clockwork.Clock
	err         error
}

// NewQuery returns an empty query selecting "*".
func NewQuery() Query {
	return Query{granularity: DefaultGranularity}
}

// Select sets the output expressions. With no arguments the query selects "*".
func (q Query) Select(exprs ...string) Query {
	if len(exprs) == 0 {
		exprs = []string{"*"}
	}
	q.selections = slices.Clone(exprs)
	return q
}

// From sets the measurement to read from.
func (q Query) From(measurement string) Query {
	q.measurement = measurement
	q.sub = nil
	return q
}

// FromQuery reads from the result of another query, for nested aggregates.
func (q Query) FromQuery(sub Query) Query {
	q.sub = &sub
	q.measurement = ""
	return q
}

// Last restricts the query to the last n hours and clears any absolute range.
func (q Query) Last(hours int) Query {
	q.periodHours = hours
	q.start = time.Time{}
	q.end = time.Time{}
	return q
}

// Between restricts the query to [start, end]. Both timestamps accept loose formats
// and are normalized to UTC. An empty end means now. Parse errors surface from Build.
func (q Query) Between(start, end string) Query {
	q.periodHours = 0
	s, err := ParseTimestamp(start)
	if err != nil {
		q.err = err
		return q
	}
	e := q.now()
	if end != "" {
		e, err = ParseTimestamp(end)
		if err != nil {
			q.err = err
			return q
		}
	}
	q.start = s
	q.end = e
	return q
}

// Where merges exact-match tag filters. Later values win per key.
func (q Query) Where(tags map[string]string) Query {
	merged := make(map[string]string, len(q.tags)+len(tags))
	maps.Copy(merged, q.tags)
	maps.Copy(merged, tags)
	q.tags = merged
	return q
}

// GroupBy groups by the given tags followed by a time bucket.
func (q Query) GroupBy(tags ...string) Query {
	q.groupTags = slices.Clone(tags)
	q.groupTime = true
	q.grouped = true
	return q
}

// GroupByTags groups by the given tags without a time bucket.
func (q Query) GroupByTags(tags ...string) Query {
	q.groupTags = slices.Clone(tags)
	q.groupTime = false
	q.grouped = len(tags) > 0
	return q
}

// Granularity overrides the GROUP BY time bucket width.
func (q Query) Granularity(d time.Duration) Query {
	q.granularity = d
	return q
}

// Fill sets the gap-fill policy.
func (q Query) Fill(p FillPolicy) Query {
	q.fill = p
	return q
}

// WithClock sets the clock used to resolve an open-ended range.
func (q Query) WithClock(clock clockwork.Clock) Query {
	q.clock = clock
	return q
}

func (q Query) now() time.Time {
	if q.clock == nil {
		return time.Now().UTC()
	}
	return q.clock.Now().UTC()
}

// Build renders the query as an InfluxQL string.
func (q Query) Build() (string, error) {
	if q.err != nil {
		return "", q.err
	}

	selections := q.selections
	if len(selections) == 0 {
		selections = []string{"*"}
	}
	parts := []string{"SELECT", strings.Join(selections, ",")}

	switch {
	case q.sub != nil:
		inner, err := q.sub.Build()
		if err != nil {
			return "", err
		}
		parts = append(parts, "FROM", "("+inner+")")
	case q.measurement != "":
		parts = append(parts, "FROM", q.measurement)
	default:
		return "", statserr.InvalidInput("query has no measurement")
	}

	if where := q.whereClause(); len(where) > 0 {
		parts = append(parts, "WHERE", strings.Join(where, " AND "))
	}

	if q.grouped {
		group := slices.Clone(q.groupTags)
		if q.groupTime {
			group = append(group, fmt.Sprintf("time(%s)", formatDuration(q.granularity)))
		}
		parts = append(parts, "GROUP BY", strings.Join(group, ", "))
	}

	if q.fill.kind != fillUnset {
		parts = append(parts, fmt.Sprintf("FILL(%s)", q.fill))
	}

	return strings.Join(parts, " "), nil
}

func (q Query) whereClause() []string {
	var where []string
	for _, k := range slices.Sorted(maps.Keys(q.tags)) {
		where = append(where, fmt.Sprintf("%s='%s'", k, q.tags[k]))
	}
	if q.periodHours > 0 {
		where = append(where, fmt.Sprintf("time > now() - %dh", q.periodHours))
	} else if !q.start.IsZero() {
		where = append(where, fmt.Sprintf("time >= '%s'", q.start.UTC().Format(time.RFC3339)))
		if !q.end.IsZero() {
			where = append(where, fmt.Sprintf("time <= '%s'", q.end.UTC().Format(time.RFC3339)))
		}
	}
	return where
}

// formatDuration renders a duration as an InfluxQL literal, e.g. 10s, 1m, 1h.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d >= time.Second && d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}

// ParseTimestamp parses a loosely formatted timestamp. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := dateparse.ParseIn(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, statserr.InvalidInput("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

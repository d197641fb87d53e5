package telemetry

import (
	"context"
	"strings"
	"time"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
	"planter-backend/internal/parse"
)

// Granularity is the bucket width of an aggregation.
type Granularity string

const (
	Hour Granularity = "hour"
	Day  Granularity = "day"
	Week Granularity = "week"
)

// DefaultMaxAggregateCount bounds count when Options leaves it unset.
const DefaultMaxAggregateCount = 1000

// ParseGranularity accepts hour, day or week in any case.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Hour, Day, Week:
		return g, nil
	default:
		return "", apperr.InvalidInput("invalid granularity %q", s)
	}
}

// Width returns the bucket width.
func (g Granularity) Width() time.Duration {
	switch g {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	}
	return 0
}

// AggregateResult holds one series per channel, grouped by category, oldest bucket first.
type AggregateResult struct {
	Granularity Granularity `json:"granularity"`
	Count       int         `json:"count"`
	// Buckets are the upper bounds of each bucket, oldest first.
	Buckets []time.Time                                `json:"buckets"`
	Series  map[parse.Category]map[string][]float64 `json:"series"`
}

// Values returns the series of channel c.
func (r AggregateResult) Values(c parse.Channel) []float64 {
	return r.Series[c.Category()][c.String()]
}

// Aggregate buckets the plot's history into count windows of the given granularity walking
// back from now. Each bucket takes the most recent reading strictly inside it, or zeros
// when there is none.
func (s *Service) Aggregate(ctx context.Context, plotID int64, granularity string, count int) (AggregateResult, error) {
	g, err := ParseGranularity(granularity)
	if err != nil {
		return AggregateResult{}, err
	}
	if count < 0 {
		return AggregateResult{}, apperr.InvalidInput("count must not be negative, got %d", count)
	}
	if count > s.opts.MaxAggregateCount {
		return AggregateResult{}, apperr.InvalidInput("count must be at most %d, got %d", s.opts.MaxAggregateCount, count)
	}
	if _, err := s.store.FindPlotByID(ctx, plotID); err != nil {
		return AggregateResult{}, err
	}

	now := s.opts.Now()
	width := g.Width()

	var history []model.SensorReading
	if count > 0 {
		history, err = s.store.ListReadings(ctx, plotID, now.Add(-time.Duration(count)*width))
		if err != nil {
			return AggregateResult{}, err
		}
	}

	s.metrics.Aggregated(string(g))
	return bucketize(history, g, count, now), nil
}

// bucketize expects history newest first.
func bucketize(history []model.SensorReading, g Granularity, count int, now time.Time) AggregateResult {
	width := g.Width()
	var columns [parse.NumChannels][]float64
	for c := range columns {
		columns[c] = make([]float64, count)
	}
	buckets := make([]time.Time, count)

	upper := now
	for i := 0; i < count; i++ {
		slot := count - 1 - i
		lower := upper.Add(-width)
		buckets[slot] = upper

		if r := firstInside(history, lower, upper); r != nil {
			values := r.Values()
			for _, c := range parse.Channels() {
				columns[c][slot] = scale(c, values.Get(c))
			}
		}
		upper = lower
	}

	series := make(map[parse.Category]map[string][]float64)
	for _, c := range parse.Channels() {
		cat := c.Category()
		if series[cat] == nil {
			series[cat] = make(map[string][]float64)
		}
		series[cat][c.String()] = columns[c]
	}
	return AggregateResult{Granularity: g, Count: count, Buckets: buckets, Series: series}
}

func firstInside(history []model.SensorReading, lower, upper time.Time) *model.SensorReading {
	for i := range history {
		ts := history[i].Timestamp
		if ts.After(lower) && ts.Before(upper) {
			return &history[i]
		}
	}
	return nil
}

// scale converts light cells to their charted unit, truncated to two decimals.
func scale(c parse.Channel, v int) float64 {
	if c.Category() != parse.CategoryLight {
		return float64(v)
	}
	// v * 0.1875 * 0.001 in hundredths, truncated toward zero
	return float64(v*1875/100000) / 100
}

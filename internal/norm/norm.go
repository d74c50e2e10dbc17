// Package norm maps raw benchmark metric values onto [0,1] goodness scores.
// Higher is always better in the normalized space, regardless of the raw
// metric's direction.
package norm

import "math"

// Normalizer converts one metric kind's raw value to a score in [0,1].
type Normalizer interface {
	// Normalize returns the goodness score for a raw metric value.
	Normalize(value float64) float64
}

// clamp bounds v to [0,1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MinMax scales linearly between a metric-specific floor and ceiling. Values
// outside the range clamp to the endpoints.
type MinMax struct {
	Min float64
	Max float64
}

// NewEloNormalizer covers the practical arena rating range.
func NewEloNormalizer() MinMax { return MinMax{Min: 800, Max: 1400} }

// NewBenchmarkNormalizer covers leaderboard scores reported on 0..100.
func NewBenchmarkNormalizer() MinMax { return MinMax{Min: 0, Max: 100} }

func (m MinMax) Normalize(value float64) float64 {
	if m.Max == m.Min {
		return 0.5
	}
	return clamp((value - m.Min) / (m.Max - m.Min))
}

// Latency maps millisecond latencies onto [0,1] with a logarithmic curve:
// anything at or under Excellent scores 1.0, anything at or over Poor scores
// 0.0. Non-positive input is treated as excellent (unknown carries no
// penalty).
type Latency struct {
	Excellent float64 // ms
	Poor      float64 // ms
}

// NewLatencyNormalizer uses 100ms..5000ms as the useful range.
func NewLatencyNormalizer() Latency { return Latency{Excellent: 100, Poor: 5000} }

func (l Latency) Normalize(value float64) float64 {
	switch {
	case value <= 0:
		return 1.0
	case value <= l.Excellent:
		return 1.0
	case value >= l.Poor:
		return 0.0
	}
	score := 1.0 - (math.Log(value)-math.Log(l.Excellent))/(math.Log(l.Poor)-math.Log(l.Excellent))
	return clamp(score)
}

// Cost maps dollars-per-million-tokens onto [0,1]. Free models score 1.0;
// prices up to Cheap scale linearly from 1.0 down to 0.8; between Cheap and
// Expensive a log curve takes the score from 0.8 to 0.0.
type Cost struct {
	Cheap     float64 // $/M tokens
	Expensive float64 // $/M tokens
}

// NewCostNormalizer uses $0.50/M..$50/M as the useful range.
func NewCostNormalizer() Cost { return Cost{Cheap: 0.5, Expensive: 50} }

func (c Cost) Normalize(value float64) float64 {
	switch {
	case value <= 0:
		return 1.0
	case value <= c.Cheap:
		return clamp(1.0 - (value/c.Cheap)*0.2)
	case value >= c.Expensive:
		return 0.0
	}
	frac := (math.Log(value) - math.Log(c.Cheap)) / (math.Log(c.Expensive) - math.Log(c.Cheap))
	return clamp(0.8 * (1.0 - frac))
}

// Context maps context-window sizes in tokens onto [0.1,1.0] with a log
// curve. Missing or tiny windows still score 0.1 rather than 0 so that a
// known-small window beats an unknown one only through the other axes.
type Context struct {
	Min float64 // tokens
	Max float64 // tokens
}

// NewContextNormalizer uses 4k..1M tokens as the useful range.
func NewContextNormalizer() Context { return Context{Min: 4096, Max: 1_000_000} }

func (c Context) Normalize(value float64) float64 {
	switch {
	case value <= 0:
		return 0.0
	case value <= c.Min:
		return 0.1
	case value >= c.Max:
		return 1.0
	}
	frac := (math.Log(value) - math.Log(c.Min)) / (math.Log(c.Max) - math.Log(c.Min))
	return clamp(0.1 + 0.9*frac)
}

package norm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinMax(t *testing.T) {
	elo := NewEloNormalizer()

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"midpoint", 1100, 0.5},
		{"floor", 800, 0.0},
		{"ceiling", 1400, 1.0},
		{"below floor clamps", 500, 0.0},
		{"above ceiling clamps", 1600, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, elo.Normalize(tt.value), 1e-9)
		})
	}
}

func TestMinMax_ZeroRange(t *testing.T) {
	m := MinMax{Min: 50, Max: 50}
	assert.Equal(t, 0.5, m.Normalize(50))
	assert.Equal(t, 0.5, m.Normalize(999))
}

func TestLatency(t *testing.T) {
	l := NewLatencyNormalizer()

	assert.Equal(t, 1.0, l.Normalize(0), "zero latency is excellent")
	assert.Equal(t, 1.0, l.Normalize(-5), "unknown latency carries no penalty")
	assert.Equal(t, 1.0, l.Normalize(100))
	assert.Equal(t, 0.0, l.Normalize(5000))
	assert.Equal(t, 0.0, l.Normalize(20000))

	// Monotonically decreasing in between.
	mid := l.Normalize(1000)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)
	assert.Greater(t, l.Normalize(500), l.Normalize(2000))
}

func TestCost(t *testing.T) {
	c := NewCostNormalizer()

	assert.Equal(t, 1.0, c.Normalize(0), "free models score 1.0")
	assert.Equal(t, 1.0, c.Normalize(-1))
	assert.InDelta(t, 0.8, c.Normalize(0.5), 1e-9, "cheap threshold scores 0.8")
	assert.InDelta(t, 0.9, c.Normalize(0.25), 1e-9, "linear below cheap")
	assert.Equal(t, 0.0, c.Normalize(50))
	assert.Equal(t, 0.0, c.Normalize(200))

	mid := c.Normalize(5)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 0.8)
	assert.Greater(t, c.Normalize(1), c.Normalize(10))
}

func TestContext(t *testing.T) {
	c := NewContextNormalizer()

	assert.Equal(t, 0.0, c.Normalize(0), "missing context scores 0")
	assert.Equal(t, 0.1, c.Normalize(2048), "tiny windows floor at 0.1")
	assert.Equal(t, 0.1, c.Normalize(4096))
	assert.Equal(t, 1.0, c.Normalize(1_000_000))
	assert.Equal(t, 1.0, c.Normalize(2_000_000))

	mid := c.Normalize(128_000)
	assert.Greater(t, mid, 0.1)
	assert.Less(t, mid, 1.0)
	assert.Greater(t, c.Normalize(200_000), c.Normalize(32_000))
}

func TestAllResultsInUnitInterval(t *testing.T) {
	normalizers := []Normalizer{
		NewEloNormalizer(),
		NewBenchmarkNormalizer(),
		NewLatencyNormalizer(),
		NewCostNormalizer(),
		NewContextNormalizer(),
	}
	values := []float64{-1e9, -1, 0, 0.001, 0.5, 1, 50, 100, 1000, 4096, 1e5, 1e6, 1e12}

	for _, n := range normalizers {
		for _, v := range values {
			got := n.Normalize(v)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		}
	}
}

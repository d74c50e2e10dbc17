// Package scoring combines a model's normalized metrics into a composite
// score under a weighted routing profile, and ranks candidates for the
// router.
package scoring

import (
	"errors"
	"fmt"
	"sync"
)

// Constraints are hard limits evaluated against raw (not normalized) metric
// values. A zero value disables the corresponding constraint.
type Constraints struct {
	MinQuality        float64 `json:"min_quality,omitempty"`
	MaxLatencyMS      float64 `json:"max_latency_ms,omitempty"`
	MaxCostPerMillion float64 `json:"max_cost_per_million,omitempty"`
	MinContextLength  float64 `json:"min_context_length,omitempty"`
}

// Profile is an immutable named weight vector with optional hard constraints.
// Weights are normalized to sum to 1 at construction.
type Profile struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Quality     float64     `json:"quality_weight"`
	Latency     float64     `json:"latency_weight"`
	Cost        float64     `json:"cost_weight"`
	Context     float64     `json:"context_weight"`
	Constraints Constraints `json:"constraints"`
}

// ErrZeroWeights is returned when every weight of a profile is zero.
var ErrZeroWeights = errors.New("scoring: profile weights sum to zero")

// NewProfile builds a profile, normalizing the weights to sum to 1. Negative
// or all-zero weights are rejected.
func NewProfile(name, description string, quality, latency, cost, context float64, c Constraints) (Profile, error) {
	if quality < 0 || latency < 0 || cost < 0 || context < 0 {
		return Profile{}, fmt.Errorf("scoring: profile %q has a negative weight", name)
	}
	sum := quality + latency + cost + context
	if sum == 0 {
		return Profile{}, ErrZeroWeights
	}
	return Profile{
		Name:        name,
		Description: description,
		Quality:     quality / sum,
		Latency:     latency / sum,
		Cost:        cost / sum,
		Context:     context / sum,
		Constraints: c,
	}, nil
}

func mustProfile(name, description string, q, l, c, x float64, cons Constraints) Profile {
	p, err := NewProfile(name, description, q, l, c, x, cons)
	if err != nil {
		panic(err)
	}
	return p
}

// BuiltinProfiles returns the standard routing profiles.
func BuiltinProfiles() []Profile {
	return []Profile{
		mustProfile("quality", "Best answer quality regardless of price",
			0.70, 0.15, 0.15, 0, Constraints{MinQuality: 0.6}),
		mustProfile("balanced", "Reasonable trade-off across all axes",
			0.40, 0.30, 0.30, 0, Constraints{}),
		mustProfile("speed", "Lowest latency for interactive use",
			0.20, 0.60, 0.20, 0, Constraints{MaxLatencyMS: 1000}),
		mustProfile("budget", "Cheapest acceptable output",
			0.25, 0.15, 0.60, 0, Constraints{MaxCostPerMillion: 1.0}),
		mustProfile("long_context", "Large-document workloads",
			0.30, 0.20, 0.20, 0.30, Constraints{MinContextLength: 100_000}),
	}
}

// ErrUnknownProfile is returned when a profile name is not registered.
var ErrUnknownProfile = errors.New("scoring: unknown profile")

// Registry holds the current set of routing profiles. Profiles are immutable
// values; an update swaps the stored entry.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string
}

// NewRegistry creates a registry seeded with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	for _, p := range BuiltinProfiles() {
		r.put(p)
	}
	return r
}

func (r *Registry) put(p Profile) {
	if _, ok := r.profiles[p.Name]; !ok {
		r.order = append(r.order, p.Name)
	}
	r.profiles[p.Name] = p
}

// Get returns the profile registered under name.
func (r *Registry) Get(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Set registers or replaces a profile.
func (r *Registry) Set(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(p)
}

// List returns all profiles in registration order.
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.profiles[n])
	}
	return out
}

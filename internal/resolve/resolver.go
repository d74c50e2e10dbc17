package resolve

import "sort"

// Confidence classifies how certain a resolution is.
type Confidence string

const (
	// Exact means the normalized names are identical.
	Exact Confidence = "exact"
	// High means the similarity cleared the auto-link threshold.
	High Confidence = "high"
	// Medium means the similarity cleared the review threshold; the alias is
	// linked but flagged for human review.
	Medium Confidence = "medium"
	// Low means no candidate was close enough; the source name is treated as
	// a new canonical model.
	Low Confidence = "low"
)

const (
	defaultAutoLinkThreshold = 0.95
	defaultReviewThreshold   = 0.80
)

// Decision is the resolver's verdict for one source name.
type Decision struct {
	SourceName    string
	Normalized    string
	CanonicalID   int64
	CanonicalName string
	Score         float64
	Confidence    Confidence
	AutoLink      bool
	NeedsReview   bool
}

// Resolver matches source model names to canonical catalog entries.
type Resolver struct {
	autoLinkThreshold float64
	reviewThreshold   float64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithAutoLinkThreshold overrides the score above which a match is linked
// without review. The default is 0.95.
func WithAutoLinkThreshold(v float64) ResolverOption {
	return func(r *Resolver) {
		if v > 0 && v <= 1 {
			r.autoLinkThreshold = v
		}
	}
}

// WithReviewThreshold overrides the score above which a match is linked but
// flagged for review. The default is 0.80.
func WithReviewThreshold(v float64) ResolverOption {
	return func(r *Resolver) {
		if v > 0 && v <= 1 {
			r.reviewThreshold = v
		}
	}
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		autoLinkThreshold: defaultAutoLinkThreshold,
		reviewThreshold:   defaultReviewThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve decides how sourceName maps onto the catalog (canonical id ->
// canonical name). The result is deterministic for a fixed catalog: ties are
// broken by the smallest canonical id.
func (r *Resolver) Resolve(sourceName string, catalog map[int64]string) Decision {
	normalized := NormalizeName(sourceName)
	d := Decision{
		SourceName: sourceName,
		Normalized: normalized,
		Confidence: Low,
	}

	// Stable iteration order so equal scores always pick the same canonical.
	ids := make([]int64, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		name := catalog[id]
		candidate := NormalizeName(name)
		if candidate == normalized {
			d.CanonicalID = id
			d.CanonicalName = name
			d.Score = 1.0
			d.Confidence = Exact
			d.AutoLink = true
			d.NeedsReview = false
			return d
		}
		score := Similarity(normalized, candidate)
		if score > d.Score {
			d.Score = score
			d.CanonicalID = id
			d.CanonicalName = name
		}
	}

	switch {
	case d.Score >= r.autoLinkThreshold:
		d.Confidence = High
		d.AutoLink = true
	case d.Score >= r.reviewThreshold:
		d.Confidence = Medium
		d.AutoLink = true
		d.NeedsReview = true
	default:
		d.Confidence = Low
		d.CanonicalID = 0
		d.CanonicalName = ""
	}
	return d
}

package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "GPT-4", "gpt-4"},
		{"vendor prefix", "openai/gpt-4-turbo", "gpt-4-turbo"},
		{"instruct tail", "mistral-7b-instruct", "mistral"},
		{"chat tail", "llama-2-70b-chat", "llama-2"},
		{"size variants collapse", "llama-2-7b", "llama-2"},
		{"quantization tail", "mixtral-8x7b-gguf", "mixtral-8x7b"},
		{"version suffix", "claude-2-v1.3", "claude-2"},
		{"underscore version", "model_v2", "model"},
		{"date suffix", "gpt-4-20240409", "gpt-4"},
		{"layered suffixes", "llama-3-70b-instruct-v2", "llama-3"},
		{"collapse dashes", "foo--bar", "foo-bar"},
		{"trim edges", "-foo-", "foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestNormalizeName_Idempotent(t *testing.T) {
	names := []string{
		"openai/gpt-4-turbo-20240409",
		"Mistral-7B-Instruct-v0.2",
		"llama-2-70b-chat-hf",
		"plain-name",
	}
	for _, n := range names {
		once := NormalizeName(n)
		assert.Equal(t, once, NormalizeName(once), "normalize must be idempotent for %q", n)
	}
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("gpt-4", "gpt-4"))
	assert.Equal(t, 0.0, Similarity("", "gpt-4"))
	assert.Equal(t, 0.0, Similarity("gpt-4", ""))

	// One edit over five characters.
	assert.InDelta(t, 0.8, Similarity("gpt-4", "gpt-5"), 1e-9)

	// Symmetric.
	assert.Equal(t, Similarity("claude", "claudius"), Similarity("claudius", "claude"))
}

func TestResolve_Exact(t *testing.T) {
	r := NewResolver()
	catalog := map[int64]string{1: "gpt-4", 2: "claude-3-opus"}

	d := r.Resolve("openai/GPT-4", catalog)
	assert.Equal(t, Exact, d.Confidence)
	assert.Equal(t, int64(1), d.CanonicalID)
	assert.Equal(t, 1.0, d.Score)
	assert.True(t, d.AutoLink)
	assert.False(t, d.NeedsReview)
}

func TestResolve_HighConfidence(t *testing.T) {
	r := NewResolver()
	catalog := map[int64]string{1: "hermes-3-llama-3.1-405"}

	// One substitution across a long name clears the auto-link threshold.
	d := r.Resolve("hermes-3-llama-3.1-4o5", catalog)
	require.GreaterOrEqual(t, d.Score, 0.9)
	assert.Equal(t, High, d.Confidence)
	assert.Equal(t, int64(1), d.CanonicalID)
	assert.True(t, d.AutoLink)
	assert.False(t, d.NeedsReview)
}

func TestResolve_MediumFlagsReview(t *testing.T) {
	r := NewResolver(WithAutoLinkThreshold(0.95), WithReviewThreshold(0.80))
	catalog := map[int64]string{7: "mistral-medium"}

	d := r.Resolve("mistral-mediun-x", catalog)
	require.GreaterOrEqual(t, d.Score, 0.80)
	require.Less(t, d.Score, 0.95)
	assert.Equal(t, Medium, d.Confidence)
	assert.Equal(t, int64(7), d.CanonicalID)
	assert.True(t, d.AutoLink)
	assert.True(t, d.NeedsReview)
}

func TestResolve_LowIsCandidateNew(t *testing.T) {
	r := NewResolver()
	catalog := map[int64]string{1: "gpt-4", 2: "claude-3-opus"}

	d := r.Resolve("totally-unrelated-model", catalog)
	assert.Equal(t, Low, d.Confidence)
	assert.Zero(t, d.CanonicalID)
	assert.Empty(t, d.CanonicalName)
	assert.False(t, d.AutoLink)
}

func TestResolve_TieBreaksOnSmallestID(t *testing.T) {
	r := NewResolver()
	// Two canonicals normalize identically; the smaller id must win.
	catalog := map[int64]string{9: "gpt-4-chat", 3: "gpt-4-instruct"}

	d := r.Resolve("gpt-4", catalog)
	assert.Equal(t, Exact, d.Confidence)
	assert.Equal(t, int64(3), d.CanonicalID)
}

func TestResolve_Deterministic(t *testing.T) {
	r := NewResolver()
	catalog := map[int64]string{1: "gpt-4", 2: "gpt-4o", 3: "gpt-4-turbo", 4: "claude-3"}

	first := r.Resolve("gpt4", catalog)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, r.Resolve("gpt4", catalog))
	}
}

func TestResolve_EmptyCatalog(t *testing.T) {
	r := NewResolver()
	d := r.Resolve("gpt-4", map[int64]string{})
	assert.Equal(t, Low, d.Confidence)
	assert.False(t, d.AutoLink)
}

// Package resolve reconciles source-specific model names against the
// canonical catalog: a name normalizer strips vendor and variant noise, a
// Levenshtein matcher scores candidates, and the resolver turns the best
// match into a link/review/new-model decision.
package resolve

import (
	"regexp"
	"strings"
)

// variantTails are suffixes that distinguish packaging, not identity.
var variantTails = []string{
	"-chat", "-instruct", "-base", "-hf",
	"-gguf", "-gptq", "-awq",
	"-fp16", "-bf16", "-int8", "-int4",
}

var (
	versionSuffix = regexp.MustCompile(`-v\d+(\.\d+)*$`)
	underVersion  = regexp.MustCompile(`_v\d+$`)
	dateSuffix    = regexp.MustCompile(`-\d{8}$`)
	sizeSuffix    = regexp.MustCompile(`-\d+[bB]$`)
	multiDash     = regexp.MustCompile(`-{2,}`)
)

// NormalizeName reduces a model name to a comparable form: lowercase, vendor
// prefix removed, variant/version/date/size suffixes stripped, dashes
// collapsed. The operation is idempotent.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))

	// Vendor prefix, e.g. "openai/gpt-4" -> "gpt-4".
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}

	// Strip suffixes repeatedly: a name like "llama-3-70b-instruct-v2" sheds
	// one layer per pass.
	for {
		prev := s
		for _, tail := range variantTails {
			s = strings.TrimSuffix(s, tail)
		}
		s = versionSuffix.ReplaceAllString(s, "")
		s = underVersion.ReplaceAllString(s, "")
		s = dateSuffix.ReplaceAllString(s, "")
		// Parameter-count suffixes are packaging, not identity: "llama-2-7b"
		// and "llama-2-70b" both collapse to "llama-2".
		s = sizeSuffix.ReplaceAllString(s, "")
		if s == prev {
			break
		}
	}

	s = multiDash.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}

package session

import (
	"path"
	"strings"

	"github.com/agext/levenshtein"
)

// maxSuggestionDistance is the edit-distance ceiling for a "Did you
// mean" candidate; anything farther is noise, not a typo.
const maxSuggestionDistance = 2

// suggestSpecifier fuzzy-matches a missing relative import against the
// URIs of the other open models and returns a plausible replacement
// specifier, if one exists.
func suggestSpecifier(specifier string, selfURI string, uris []string) (string, bool) {
	want := moduleName(specifier)
	if want == "" {
		return "", false
	}

	best := ""
	bestDistance := maxSuggestionDistance + 1
	for _, uri := range uris {
		if uri == selfURI || !strings.HasPrefix(uri, "file://") {
			continue
		}
		candidate := moduleName(uri)
		if candidate == "" || candidate == want {
			continue
		}
		if d := levenshtein.Distance(want, candidate, nil); d < bestDistance {
			bestDistance = d
			best = candidate
		}
	}

	if best == "" || bestDistance > maxSuggestionDistance || bestDistance >= len(want) {
		return "", false
	}
	return "./" + best, true
}

// moduleName reduces a specifier or model URI to its bare module name:
// "./helper", "file:///helper.ts" and "/helper.tsx" all map to "helper".
func moduleName(s string) string {
	s = strings.TrimPrefix(s, "file://")
	base := path.Base(s)
	return strings.TrimSuffix(base, path.Ext(base))
}

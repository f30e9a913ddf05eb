package voice

import (
	"sort"

	"github.com/antzucaro/matchr"
)

// suggestionThreshold is the minimum Jaro-Winkler similarity for a name to be
// offered as a "did you mean" candidate.
const suggestionThreshold = 0.8

// maxSuggestions bounds the candidates attached to a not-found error.
const maxSuggestions = 3

// suggest returns up to maxSuggestions names from candidates that are close
// to name, best match first.
func suggest(name string, candidates []string) []string {
	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	for _, c := range candidates {
		if c == name || c == NoProfiles {
			continue
		}
		if s := matchr.JaroWinkler(name, c, false); s >= suggestionThreshold {
			hits = append(hits, scored{c, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxSuggestions {
		hits = hits[:maxSuggestions]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

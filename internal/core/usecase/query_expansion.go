package usecase

import "strings"

const maxExpansions = 3

// buildSearchQueries keeps the first distinct non-blank expansions, appends the
// original query when missing and drops duplicates by normalized form.
func buildSearchQueries(original string, expansions []string) []string {
	out := make([]string, 0, maxExpansions+1)
	seen := make(map[string]struct{}, maxExpansions+1)
	add := func(q string) bool {
		key := NormalizeQuery(q)
		if key == "" {
			return false
		}
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(q))
		return true
	}

	kept := 0
	for _, q := range expansions {
		if kept == maxExpansions {
			break
		}
		if add(q) {
			kept++
		}
	}
	if _, ok := seen[NormalizeQuery(original)]; !ok {
		out = append(out, original)
	}
	return out
}

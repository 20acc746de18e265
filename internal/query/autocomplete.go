package query

import (
	"strings"

	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
)

const DefaultAutocompleteLimit = 10

// Autocomplete returns up to limit distinct names starting with prefix,
// ignoring case, in record order. The prefix is matched as given; only a
// blank prefix short-circuits.
func Autocomplete(records []model.BreweryRecord, prefix string, limit int) []string {
	out := []string{}
	if strings.TrimSpace(prefix) == "" {
		return out
	}
	if limit <= 0 {
		limit = DefaultAutocompleteLimit
	}

	lp := strings.ToLower(prefix)
	seen := make(map[string]struct{}, limit)
	for _, r := range records {
		if len(out) == limit {
			break
		}
		if strings.TrimSpace(r.Name) == "" || !strings.HasPrefix(strings.ToLower(r.Name), lp) {
			continue
		}
		if _, dup := seen[r.Name]; dup {
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r.Name)
	}
	return out
}

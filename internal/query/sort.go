package query

import (
	"cmp"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
)

// sortRecords is stable: ties keep their input order in both directions.
// Records without a distance sort last whichever way the rest is ordered.
func sortRecords(out []model.BreweryRecord, key model.SortKey, dir model.Direction) {
	desc := dir == model.Desc

	var compare func(a, b model.BreweryRecord) int
	switch key {
	case model.SortByDistance:
		compare = func(a, b model.BreweryRecord) int {
			return compareDistance(a.DistanceKm, b.DistanceKm, desc)
		}
	default:
		// collators keep internal buffers, one per call
		col := collate.New(language.Und)
		field := func(r model.BreweryRecord) string { return r.Name }
		if key == model.SortByCity {
			field = func(r model.BreweryRecord) string { return r.City }
		}
		compare = func(a, b model.BreweryRecord) int {
			c := col.CompareString(field(a), field(b))
			if desc {
				return -c
			}
			return c
		}
	}
	slices.SortStableFunc(out, compare)
}

func compareDistance(a, b *float64, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c := cmp.Compare(*a, *b)
	if desc {
		return -c
	}
	return c
}

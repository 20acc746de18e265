// Package query derives request views from the cached brewery set: distance
// annotation, search, sorting, pagination and name autocomplete. Nothing here
// mutates its input.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ErrInvalid is wrapped by every parameter validation failure.
var ErrInvalid = errors.New("invalid query parameter")

type Params struct {
	Search   string
	Sort     model.SortKey
	Dir      model.Direction
	Lat      *float64 `validate:"required_if=Sort distance"`
	Lon      *float64 `validate:"required_if=Sort distance"`
	Page     int      `validate:"gte=1"`
	PageSize int      `validate:"gte=1,lte=500"`
}

// Origin returns the reference point when both coordinates are supplied.
func (p Params) Origin() (model.Point, bool) {
	if p.Lat == nil || p.Lon == nil {
		return model.Point{}, false
	}
	return model.Point{Lat: *p.Lat, Lon: *p.Lon}, true
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first violated rule as a readable message wrapping
// ErrInvalid.
func (p Params) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	// report in declaration order so page problems win over distance ones
	msgs := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := msgs[fe.Field()]; !seen {
			msgs[fe.Field()] = message(fe)
		}
	}
	for _, f := range []string{"Page", "PageSize", "Lat", "Lon"} {
		if m, ok := msgs[f]; ok {
			return fmt.Errorf("%w: %s", ErrInvalid, m)
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalid, message(verrs[0]))
}

func message(fe validator.FieldError) string {
	switch fe.Field() {
	case "Page":
		return "page must be >= 1"
	case "PageSize":
		return fmt.Sprintf("pageSize must be between 1 and %d", MaxPageSize)
	case "Lat", "Lon":
		return "lat and lon must be provided when sorting by distance"
	default:
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
}

// ParseSort matches the key case-insensitively; unknown or empty means name.
func ParseSort(s string) model.SortKey {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "city":
		return model.SortByCity
	case "distance":
		return model.SortByDistance
	default:
		return model.SortByName
	}
}

// ParseDirection treats empty or "asc" (any case) as ascending and anything
// else as descending.
func ParseDirection(s string) model.Direction {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, string(model.Asc)) {
		return model.Asc
	}
	return model.Desc
}

// Run validates p and returns one page of annotated, filtered and sorted
// copies of records.
func Run(records []model.BreweryRecord, p Params) ([]model.BreweryRecord, error) {
	if p.Sort == "" {
		p.Sort = model.SortByName
	}
	if p.Dir == "" {
		p.Dir = model.Asc
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	out := filter(records, p.Search)
	if origin, ok := p.Origin(); ok {
		annotate(out, origin)
	}
	sortRecords(out, p.Sort, p.Dir)
	return paginate(out, p.Page, p.PageSize), nil
}

// filter copies the records whose name or city contains the trimmed,
// lowercased search text. A blank search keeps everything.
func filter(records []model.BreweryRecord, search string) []model.BreweryRecord {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]model.BreweryRecord, 0, len(records))
	for _, r := range records {
		r.DistanceKm = nil
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Name), needle) &&
			!strings.Contains(strings.ToLower(r.City), needle) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// annotate works on copies only; the cached slice never carries distances
func annotate(out []model.BreweryRecord, origin model.Point) {
	for i := range out {
		if !out[i].HasCoordinates() {
			continue
		}
		d := Haversine(origin.Lat, origin.Lon, *out[i].Latitude, *out[i].Longitude)
		out[i].DistanceKm = &d
	}
}

func paginate(out []model.BreweryRecord, page, size int) []model.BreweryRecord {
	if page-1 > len(out)/size {
		return []model.BreweryRecord{}
	}
	offset := (page - 1) * size
	if offset >= len(out) {
		return []model.BreweryRecord{}
	}
	end := min(offset+size, len(out))
	return out[offset:end]
}

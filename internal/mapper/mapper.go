// Package mapper converts raw upstream breweries into the internal record shape.
package mapper

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/brewery-cache/internal/core/model"
	h3mapper "github.com/mohammed-shakir/brewery-cache/internal/mapper/h3"
)

type Interface interface {
	Map(src model.UpstreamRecord) model.BreweryRecord
}

type Option func(*Mapper)

// WithIDFunc replaces the generator used for records without an upstream id.
func WithIDFunc(f func() string) Option {
	return func(m *Mapper) { m.newID = f }
}

// WithH3Res sets the resolution of the h3Cell annotation; negative disables it.
func WithH3Res(res int) Option {
	return func(m *Mapper) { m.h3Res = res }
}

type Mapper struct {
	newID func() string
	h3Res int
}

var _ Interface = (*Mapper)(nil)

func New(opts ...Option) *Mapper {
	m := &Mapper{newID: uuid.NewString, h3Res: 8}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Map never fails: malformed fields degrade to absent values.
func (m *Mapper) Map(src model.UpstreamRecord) model.BreweryRecord {
	id := deref(src.ID)
	if id == "" {
		id = m.newID()
	}

	out := model.BreweryRecord{
		ID:        id,
		Name:      deref(src.Name),
		City:      deref(src.City),
		Phone:     src.Phone,
		Latitude:  parseCoord(src.Latitude),
		Longitude: parseCoord(src.Longitude),
	}

	if m.h3Res >= 0 && out.HasCoordinates() {
		if cell, err := h3mapper.CellForPoint(*out.Latitude, *out.Longitude, m.h3Res); err == nil {
			out.H3Cell = cell
		}
	}
	return out
}

// MapAll maps a whole upstream page, preserving order.
func MapAll(m Interface, src []model.UpstreamRecord) []model.BreweryRecord {
	out := make([]model.BreweryRecord, len(src))
	for i := range src {
		out[i] = m.Map(src[i])
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseCoord(t *model.CoordText) *float64 {
	if t == nil {
		return nil
	}
	v, ok := ParseCoordinate(string(*t))
	if !ok {
		return nil
	}
	return &v
}

// ParseCoordinate parses decimal-point text, then retries with commas read as
// decimal points. Blank and non-finite input is rejected.
func ParseCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, isFinite(v)
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		return v, isFinite(v)
	}
	return 0, false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

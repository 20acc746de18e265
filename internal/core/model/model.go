// Package model defines core domain types shared across the service.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// raw brewery as served by the upstream directory; nothing here is trusted
type UpstreamRecord struct {
	ID          *string    `json:"id"`
	Name        *string    `json:"name"`
	BreweryType *string    `json:"brewery_type"`
	Street      *string    `json:"street"`
	City        *string    `json:"city"`
	State       *string    `json:"state"`
	PostalCode  *string    `json:"postal_code"`
	Country     *string    `json:"country"`
	Phone       *string    `json:"phone"`
	WebsiteURL  *string    `json:"website_url"`
	Latitude    *CoordText `json:"latitude"`
	Longitude   *CoordText `json:"longitude"`
}

// CoordText keeps the raw text of a coordinate. The upstream has served
// coordinates both as JSON strings and as JSON numbers; any other literal is
// kept verbatim and later fails numeric parsing.
type CoordText string

func (c *CoordText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		*c = CoordText(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("coordinate string: %w", err)
	}
	*c = CoordText(s)
	return nil
}

// internal brewery shape served to clients
type BreweryRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	City       string   `json:"city"`
	Phone      *string  `json:"phone"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	H3Cell     string   `json:"h3Cell,omitempty"`
	DistanceKm *float64 `json:"distanceKm"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (b BreweryRecord) HasCoordinates() bool {
	return b.Latitude != nil && b.Longitude != nil
}

type SortKey string

const (
	SortByName     SortKey = "name"
	SortByCity     SortKey = "city"
	SortByDistance SortKey = "distance"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Point is a WGS84 reference location in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Package h3mapper places brewery coordinates on the H3 grid.
package h3mapper

import (
	"errors"
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"
)

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("h3 resolution %d out of range [0,15]", res)
	}
	return nil
}

// CellForPoint returns the H3 cell containing (lat, lon) at res.
func CellForPoint(lat, lon float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return "", errors.New("coordinates must be finite")
	}
	if lat < -90 || lat > 90 {
		return "", fmt.Errorf("latitude %v out of range [-90,90]", lat)
	}
	if lon < -180 || lon > 180 {
		return "", fmt.Errorf("longitude %v out of range [-180,180]", lon)
	}

	// v4 wants degrees and returns (Cell, error)
	c, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell for %v,%v", lat, lon)
	}
	return c.String(), nil
}

package domain

import (
	"math"
	"regexp"
	"strconv"
)

// Immutable geographic coordinates (longitude, latitude).
type Coordinates struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Return coordinates as [lon, lat] for external API compatibility.
func (c Coordinates) CoordsToList() []float64 { return []float64{c.Lon, c.Lat} }

// Key is the stable "lat,lon" form used for cache keys.
func (c Coordinates) Key() string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lon, 'f', 6, 64)
}

// Locations are stored as "lat,lon-free text"; the free text is optional.
// The leading sign of a negative latitude is part of the number, so the
// pair is matched rather than split on '-'.
var locationPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*(?:-|$)`)

// ParseLocation extracts coordinates from an encoded location string.
// ok is false for anything malformed or out of range.
func ParseLocation(location string) (Coordinates, bool) {
	m := locationPattern.FindStringSubmatch(location)
	if m == nil {
		return Coordinates{}, false
	}

	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Coordinates{}, false
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Coordinates{}, false
	}

	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return Coordinates{}, false
	}

	return Coordinates{Lat: lat, Lon: lon}, true
}

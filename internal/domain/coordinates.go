package domain

import (
	"encoding/json"
	"errors"
	"math"
)

// Point is a WGS-84 latitude/longitude pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is a latitude/longitude rectangle.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// Contains reports whether p lies strictly inside the rectangle.
func (b Bounds) Contains(p Point) bool {
	return b.MinLat < p.Lat && p.Lat < b.MaxLat && b.MinLng < p.Lng && p.Lng < b.MaxLng
}

// Coordinates holds exactly one location shape: a point, a polyline, or the
// explicit absence of a location (both point fields nil, no polyline).
type Coordinates struct {
	Lat      *float64     `json:"lat"`
	Lng      *float64     `json:"lng"`
	Polyline [][2]float64 `json:"polyline,omitempty"`
}

var (
	errPartialPoint = errors.New("coordinates: partial point")
	errBothShapes   = errors.New("coordinates: both point and polyline set")
)

// PointAt returns point coordinates.
func PointAt(lat, lng float64) Coordinates {
	return Coordinates{Lat: &lat, Lng: &lng}
}

// Line returns polyline coordinates through the given vertices.
func Line(path []Point) Coordinates {
	line := make([][2]float64, len(path))
	for i, p := range path {
		line[i] = [2]float64{p.Lat, p.Lng}
	}
	return Coordinates{Polyline: line}
}

// NoLocation returns the null point used for location-less incidents.
func NoLocation() Coordinates {
	return Coordinates{}
}

// IsLine reports whether the coordinates are a polyline.
func (c Coordinates) IsLine() bool {
	return len(c.Polyline) > 0
}

// Located reports whether the coordinates can be drawn on a map.
func (c Coordinates) Located() bool {
	return c.IsLine() || (c.Lat != nil && c.Lng != nil)
}

// Center returns the point a map should focus on: the point itself, or the
// middle vertex of a polyline.
func (c Coordinates) Center() (Point, bool) {
	if c.IsLine() {
		v := c.Polyline[len(c.Polyline)/2]
		return Point{Lat: v[0], Lng: v[1]}, true
	}
	if c.Lat != nil && c.Lng != nil {
		return Point{Lat: *c.Lat, Lng: *c.Lng}, true
	}
	return Point{}, false
}

// Validate rejects partial points and mixed shapes.
func (c Coordinates) Validate() error {
	if (c.Lat == nil) != (c.Lng == nil) {
		return errPartialPoint
	}
	if c.IsLine() && c.Lat != nil {
		return errBothShapes
	}
	return nil
}

// MarshalJSON writes {"polyline": [...]} for lines and {"lat", "lng"}
// (possibly null) otherwise, so a polyline never carries point keys.
func (c Coordinates) MarshalJSON() ([]byte, error) {
	if c.IsLine() {
		return json.Marshal(struct {
			Polyline [][2]float64 `json:"polyline"`
		}{c.Polyline})
	}
	return json.Marshal(struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}{c.Lat, c.Lng})
}

func validLatLng(lat, lng float64) bool {
	return !math.IsNaN(lat) && !math.IsInf(lat, 0) && !math.IsNaN(lng) && !math.IsInf(lng, 0)
}

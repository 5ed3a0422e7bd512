package geo

import "fmt"

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Valid reports whether the point lies within [-90, 90] x [-180, 180]
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Latitude, p.Longitude)
}

// Path is the ordered polyline of a driving route. Consecutive points define
// the segments a drive traverses, in order.
type Path []Point

// Segments returns the number of segments in the path
func (p Path) Segments() int {
	if len(p) < 2 {
		return 0
	}
	return len(p) - 1
}

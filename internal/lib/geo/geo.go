package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula
const EarthRadiusMeters = 6371000

// DistanceMeters calculates great-circle distance between two points using Haversine formula.
// Coincident points return exactly 0.
func DistanceMeters(a, b Point) float64 {
	if a == b {
		return 0
	}

	// Convert degrees to radians
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dlat := (b.Latitude - a.Latitude) * math.Pi / 180
	dlon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	// Rounding can push h a hair outside [0, 1] for antipodal points
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Interpolate returns the point at ratio along the straight lat/lng line from a to b.
// Linear interpolation is adequate at road-segment scale. Ratios outside [0, 1] are
// clamped; 0 returns a and 1 returns b exactly.
func Interpolate(a, b Point, ratio float64) Point {
	switch {
	case math.IsNaN(ratio) || ratio <= 0:
		return a
	case ratio >= 1:
		return b
	}

	return Point{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*ratio,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*ratio,
	}
}

// PathLength sums the haversine length of every segment in the path
func PathLength(path Path) float64 {
	total := 0.0
	for i := 0; i < len(path)-1; i++ {
		total += DistanceMeters(path[i], path[i+1])
	}
	return total
}

// EncodePolyline encodes a path using the Google polyline algorithm (precision 5)
func EncodePolyline(path Path) string {
	coords := make([][]float64, len(path))
	for i, p := range path {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline decodes Google polyline string to point sequence
func DecodePolyline(encoded string) (Path, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	path := make(Path, len(coords))
	for i, coord := range coords {
		path[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !path[i].Valid() {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return path, nil
}

// ParseLngLat parses the "lng,lat" form used by directions APIs
func ParseLngLat(input string) (Point, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("invalid coordinate %q: want \"lng,lat\"", input)
	}

	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude in %q: %w", input, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude in %q: %w", input, err)
	}

	point := Point{Latitude: lat, Longitude: lng}
	if !point.Valid() {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

// FormatLngLat renders a point in the "lng,lat" form
func FormatLngLat(p Point) string {
	return strconv.FormatFloat(p.Longitude, 'f', -1, 64) + "," + strconv.FormatFloat(p.Latitude, 'f', -1, 64)
}

package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

const routeStyleID = "route"

// routeColor is the line color used by the map UI
var routeColor = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}

// RouteInfo describes the route being exported
type RouteInfo struct {
	Name            string
	Summary         string
	DistanceMeters  float64
	DurationSeconds float64
}

// WriteRouteKML writes path as a KML document with the route line and
// start/end placemarks.
func WriteRouteKML(w io.Writer, info RouteInfo, path geo.Path) error {
	if len(path) < 2 {
		return fmt.Errorf("route has %d points", len(path))
	}

	coords := make([]kml.Coordinate, len(path))
	for i, p := range path {
		coords[i] = kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
	}

	name := info.Name
	if name == "" {
		name = info.Summary
	}

	doc := kml.KML(
		kml.Document(
			kml.Name(name),
			kml.SharedStyle(routeStyleID,
				kml.LineStyle(
					kml.Color(routeColor),
					kml.Width(5),
				),
			),
			kml.Placemark(
				kml.Name(info.Summary),
				kml.Description(fmt.Sprintf("%.1f km, %d min", info.DistanceMeters/1000, int(info.DurationSeconds/60))),
				kml.StyleURL("#"+routeStyleID),
				kml.LineString(
					kml.Tessellate(true),
					kml.Coordinates(coords...),
				),
			),
			endpoint("출발", path[0]),
			endpoint("도착", path[len(path)-1]),
		),
	)
	return doc.WriteIndent(w, "", "  ")
}

func endpoint(name string, p geo.Point) kml.Element {
	return kml.Placemark(
		kml.Name(name),
		kml.Point(
			kml.Coordinates(kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}),
		),
	)
}

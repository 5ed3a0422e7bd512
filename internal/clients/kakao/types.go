package kakao

import (
	"strconv"

	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

// DirectionsResponse is the Kakao Mobility directions payload
type DirectionsResponse struct {
	TransID string  `json:"trans_id"`
	Routes  []Route `json:"routes"`
}

// Route is one candidate route. ResultCode 0 means a route was found.
type Route struct {
	ResultCode int       `json:"result_code"`
	ResultMsg  string    `json:"result_msg"`
	Summary    Summary   `json:"summary"`
	Sections   []Section `json:"sections"`
}

// Summary totals, in meters and seconds
type Summary struct {
	Distance int `json:"distance"`
	Duration int `json:"duration"`
}

// Section is the route between two consecutive waypoints
type Section struct {
	Distance int    `json:"distance"`
	Duration int    `json:"duration"`
	Roads    []Road `json:"roads"`
}

// Road carries its geometry as a flat [lng, lat, lng, lat, ...] list
type Road struct {
	Name     string    `json:"name"`
	Distance int       `json:"distance"`
	Duration int       `json:"duration"`
	Vertexes []float64 `json:"vertexes"`
}

// OK reports whether the route is usable
func (r *Route) OK() bool {
	return r.ResultCode == 0 && len(r.Sections) > 0
}

// Path flattens the vertexes of every section, in order
func (r *Route) Path() geo.Path {
	var path geo.Path
	for _, section := range r.Sections {
		for _, road := range section.Roads {
			for i := 0; i+1 < len(road.Vertexes); i += 2 {
				path = append(path, geo.Point{
					Longitude: road.Vertexes[i],
					Latitude:  road.Vertexes[i+1],
				})
			}
		}
	}
	return path
}

// PlaceDocument is a keyword search hit. Coordinates arrive as strings.
type PlaceDocument struct {
	ID              string `json:"id"`
	PlaceName       string `json:"place_name"`
	CategoryName    string `json:"category_name"`
	AddressName     string `json:"address_name"`
	RoadAddressName string `json:"road_address_name"`
	Phone           string `json:"phone"`
	X               string `json:"x"`
	Y               string `json:"y"`
}

// Point parses the document coordinates
func (d *PlaceDocument) Point() (geo.Point, error) {
	lng, err := strconv.ParseFloat(d.X, 64)
	if err != nil {
		return geo.Point{}, err
	}
	lat, err := strconv.ParseFloat(d.Y, 64)
	if err != nil {
		return geo.Point{}, err
	}
	return geo.Point{Latitude: lat, Longitude: lng}, nil
}

// Address prefers the road address
func (d *PlaceDocument) Address() string {
	if d.RoadAddressName != "" {
		return d.RoadAddressName
	}
	return d.AddressName
}

type keywordResponse struct {
	Documents []PlaceDocument `json:"documents"`
}

type addressResponse struct {
	Documents []struct {
		Address *struct {
			AddressName string `json:"address_name"`
		} `json:"address"`
		RoadAddress *struct {
			AddressName string `json:"address_name"`
		} `json:"road_address"`
	} `json:"documents"`
}

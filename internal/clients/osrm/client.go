package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/clients"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

// DefaultBaseURL is the public OSRM demo server
const DefaultBaseURL = "https://router.project-osrm.org"

const provider = "OSRM"

// Client provides access to the OSRM route service
type Client struct {
	baseURL    string
	profile    string
	httpClient clients.HTTPDoer
	logger     *zap.Logger
}

// NewClient creates an OSRM client for the driving profile
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := NewClientWithHTTPDoer(baseURL, clients.NewHTTPClient())
	if logger != nil {
		c.logger = logger
	}
	return c
}

// NewClientWithHTTPDoer creates an OSRM client with a custom transport
func NewClientWithHTTPDoer(baseURL string, doer clients.HTTPDoer) *Client {
	return &Client{
		baseURL:    baseURL,
		profile:    "driving",
		httpClient: doer,
		logger:     zap.NewNop(),
	}
}

// RouteData is the first route OSRM returned
type RouteData struct {
	DistanceMeters  float64
	DurationSeconds float64
	Path            geo.Path
}

// Route computes a driving route with full GeoJSON geometry. It returns
// (nil, nil) when OSRM answers without routes.
func (c *Client) Route(ctx context.Context, origin, destination geo.Point) (*RouteData, error) {
	coords := geo.FormatLngLat(origin) + ";" + geo.FormatLngLat(destination)

	params := url.Values{}
	params.Set("overview", "full")
	params.Set("geometries", "geojson")
	requestURL := fmt.Sprintf("%s/route/v1/%s/%s?%s", c.baseURL, c.profile, coords, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := clients.CheckResponse(provider, resp); err != nil {
		return nil, err
	}

	var response RouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Code != "" && response.Code != "Ok" {
		return nil, fmt.Errorf("osrm: %s: %s", response.Code, response.Message)
	}
	if len(response.Routes) == 0 {
		return nil, nil
	}

	route := response.Routes[0]
	path, err := pathFromGeometry(route.Geometry)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("osrm route",
		zap.Float64("distance_m", route.Distance),
		zap.Int("points", len(path)),
	)
	return &RouteData{
		DistanceMeters:  route.Distance,
		DurationSeconds: route.Duration,
		Path:            path,
	}, nil
}

func pathFromGeometry(g *geojson.Geometry) (geo.Path, error) {
	if g == nil {
		return nil, fmt.Errorf("osrm: route without geometry")
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("osrm: unexpected geometry %s", g.Type)
	}

	path := make(geo.Path, len(ls))
	for i, p := range ls {
		path[i] = geo.Point{Latitude: p.Lat(), Longitude: p.Lon()}
	}
	return path, nil
}

// RouteResponse is the OSRM /route payload
type RouteResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message,omitempty"`
	Routes  []Route `json:"routes"`
}

// Route is one OSRM route with GeoJSON geometry
type Route struct {
	Distance float64           `json:"distance"`
	Duration float64           `json:"duration"`
	Geometry *geojson.Geometry `json:"geometry"`
}

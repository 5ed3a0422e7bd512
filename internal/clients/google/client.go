package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/clients"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/lib/panorama"
)

// DefaultBaseURL hosts the Street View Static API
const DefaultBaseURL = "https://maps.googleapis.com"

const provider = "Street View"

// Client looks up street-level panoramas through the Street View metadata
// endpoint. Metadata requests are not billed, which makes it suitable for the
// frequent lookups of a running drive.
type Client struct {
	apiKey     string
	httpClient clients.HTTPDoer
	baseURL    string
	logger     *zap.Logger
}

// NewClient creates a new Street View client
func NewClient(apiKey string, logger *zap.Logger) *Client {
	c := NewClientWithHTTPDoer(apiKey, DefaultBaseURL, clients.NewHTTPClient())
	if logger != nil {
		c.logger = logger
	}
	return c
}

// NewClientWithHTTPDoer creates a Street View client with a custom transport
func NewClientWithHTTPDoer(apiKey, baseURL string, doer clients.HTTPDoer) *Client {
	return &Client{
		apiKey:     apiKey,
		httpClient: doer,
		baseURL:    baseURL,
		logger:     zap.NewNop(),
	}
}

// WithLogger sets the logger used for upstream failures
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Nearest implements panorama.Finder. It returns panorama.ErrNotFound when
// no panorama lies within radiusMeters of point.
func (c *Client) Nearest(ctx context.Context, point geo.Point, radiusMeters int) (panorama.Result, error) {
	if c.apiKey == "" {
		return panorama.Result{}, clients.ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("location", fmt.Sprintf("%.6f,%.6f", point.Latitude, point.Longitude))
	params.Set("radius", fmt.Sprintf("%d", radiusMeters))
	params.Set("source", "outdoor")
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/maps/api/streetview/metadata?"+params.Encode(), nil)
	if err != nil {
		return panorama.Result{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return panorama.Result{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := clients.CheckResponse(provider, resp); err != nil {
		return panorama.Result{}, err
	}

	var response MetadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return panorama.Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	switch response.Status {
	case "OK":
		return panorama.Result{
			Found:      true,
			PanoramaID: response.PanoID,
			Point: geo.Point{
				Latitude:  response.Location.Lat,
				Longitude: response.Location.Lng,
			},
		}, nil
	case "ZERO_RESULTS", "NOT_FOUND":
		return panorama.Result{}, panorama.ErrNotFound
	default:
		c.logger.Warn("street view metadata error",
			zap.String("status", response.Status),
			zap.String("message", response.ErrorMessage),
		)
		return panorama.Result{}, fmt.Errorf("street view: %s: %s", response.Status, response.ErrorMessage)
	}
}

// MetadataResponse is the Street View metadata payload
type MetadataResponse struct {
	Status       string `json:"status"`
	PanoID       string `json:"pano_id"`
	Date         string `json:"date,omitempty"`
	Copyright    string `json:"copyright,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Location     struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
}

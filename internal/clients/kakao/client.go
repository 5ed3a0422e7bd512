package kakao

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/clients"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

const (
	// DefaultMobilityURL hosts the directions API
	DefaultMobilityURL = "https://apis-navi.kakaomobility.com"

	// DefaultLocalURL hosts the geocoding and keyword search APIs
	DefaultLocalURL = "https://dapi.kakao.com"

	provider = "Kakao"
)

// Client provides access to Kakao Mobility directions and Kakao Local
type Client struct {
	apiKey      string
	mobilityURL string
	localURL    string
	httpClient  clients.HTTPDoer
	logger      *zap.Logger
}

// NewClient creates a Kakao client using the public endpoints
func NewClient(apiKey string, logger *zap.Logger) *Client {
	c := NewClientWithHTTPDoer(apiKey, DefaultMobilityURL, DefaultLocalURL, clients.NewHTTPClient())
	if logger != nil {
		c.logger = logger
	}
	return c
}

// NewClientWithHTTPDoer creates a Kakao client with custom endpoints and transport
func NewClientWithHTTPDoer(apiKey, mobilityURL, localURL string, doer clients.HTTPDoer) *Client {
	return &Client{
		apiKey:      apiKey,
		mobilityURL: mobilityURL,
		localURL:    localURL,
		httpClient:  doer,
		logger:      zap.NewNop(),
	}
}

// WithLogger sets the logger used for upstream failures
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// HasAPIKey reports whether credentials are configured
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// DirectionsRaw requests a car route and returns the upstream JSON untouched.
// origin and destination are "lng,lat" strings. A non-2xx response is returned
// as *clients.APIError carrying the upstream status and body.
func (c *Client) DirectionsRaw(ctx context.Context, origin, destination string) ([]byte, error) {
	if !c.HasAPIKey() {
		return nil, clients.ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("origin", origin)
	params.Set("destination", destination)
	params.Set("priority", "RECOMMEND")

	resp, err := c.get(ctx, c.mobilityURL+"/v1/directions?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := clients.CheckResponse(provider, resp); err != nil {
		c.logger.Warn("kakao directions failed", zap.Error(err))
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read directions response: %w", err)
	}
	return body, nil
}

// Directions requests a car route between two points and decodes it
func (c *Client) Directions(ctx context.Context, origin, destination geo.Point) (*DirectionsResponse, error) {
	body, err := c.DirectionsRaw(ctx, geo.FormatLngLat(origin), geo.FormatLngLat(destination))
	if err != nil {
		return nil, err
	}
	return ParseDirections(body)
}

// ParseDirections decodes a directions payload
func ParseDirections(body []byte) (*DirectionsResponse, error) {
	var response DirectionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode directions response: %w", err)
	}
	return &response, nil
}

// CoordToAddress returns the land-lot address of a point
func (c *Client) CoordToAddress(ctx context.Context, p geo.Point) (string, error) {
	if !c.HasAPIKey() {
		return "", clients.ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("x", strconv.FormatFloat(p.Longitude, 'f', -1, 64))
	params.Set("y", strconv.FormatFloat(p.Latitude, 'f', -1, 64))

	var response addressResponse
	if err := c.getJSON(ctx, c.localURL+"/v2/local/geo/coord2address.json?"+params.Encode(), &response); err != nil {
		return "", err
	}
	if len(response.Documents) == 0 || response.Documents[0].Address == nil {
		return "", fmt.Errorf("no address for %s", p)
	}
	return response.Documents[0].Address.AddressName, nil
}

// SearchKeyword runs a place keyword search
func (c *Client) SearchKeyword(ctx context.Context, query string) ([]PlaceDocument, error) {
	if !c.HasAPIKey() {
		return nil, clients.ErrMissingAPIKey
	}

	params := url.Values{}
	params.Set("query", query)

	var response keywordResponse
	if err := c.getJSON(ctx, c.localURL+"/v2/local/search/keyword.json?"+params.Encode(), &response); err != nil {
		return nil, err
	}
	return response.Documents, nil
}

func (c *Client) get(ctx context.Context, requestURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "KakaoAK "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, requestURL string, out any) error {
	resp, err := c.get(ctx, requestURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := clients.CheckResponse(provider, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

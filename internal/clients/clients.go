// Package clients holds the pieces shared by the upstream API adapters.
package clients

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout applies to every upstream request
const DefaultTimeout = 30 * time.Second

// maxErrorBody limits how much of a failed response is kept
const maxErrorBody = 64 << 10

// ErrMissingAPIKey is returned when a client that needs credentials has none
var ErrMissingAPIKey = errors.New("API key missing")

// HTTPDoer is satisfied by *http.Client. Tests substitute a mock.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns the default upstream HTTP client
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// APIError is a non-2xx response from an upstream provider
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// CheckResponse returns an *APIError for non-2xx responses. The body of a
// failed response is consumed.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

// StatusCode extracts the upstream status from err, or 0 if err is not an *APIError
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

package google

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/drive.ersn.net/server/internal/clients"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/lib/panorama"
)

// MockHTTPDoer is a mock implementation of HTTPDoer
type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

// Helper function to load test fixture data
func loadTestFixture(t *testing.T, filename string) string {
	data, err := os.ReadFile("testdata/" + filename)
	require.NoError(t, err, "Failed to load test fixture %s", filename)
	return string(data)
}

// Helper function to create mock HTTP response
func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

var gangnam = geo.Point{Latitude: 37.4979, Longitude: 127.0276}

func TestNearest_Success(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		q := req.URL.Query()
		return req.URL.Path == "/maps/api/streetview/metadata" &&
			q.Get("location") == "37.497900,127.027600" &&
			q.Get("radius") == "30" &&
			q.Get("key") == "test-api-key"
	})).Return(createMockResponse(200, loadTestFixture(t, "metadata_ok.json")), nil)

	client := NewClientWithHTTPDoer("test-api-key", "https://maps.test", mockHTTP)
	res, err := client.Nearest(context.Background(), gangnam, panorama.DriveRadiusMeters)

	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "CAoSLEFGMVFpcE1fS2FuZ25hbS1zdGF0aW9uLWV4aXQtMTE", res.PanoramaID)
	assert.InDelta(t, 37.49791203, res.Point.Latitude, 1e-9)
	mockHTTP.AssertExpectations(t)
}

func TestNearest_ZeroResults(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, loadTestFixture(t, "metadata_zero_results.json")), nil)

	client := NewClientWithHTTPDoer("test-api-key", "https://maps.test", mockHTTP)
	res, err := client.Nearest(context.Background(), geo.Point{Latitude: 36.0, Longitude: 130.0}, panorama.PickRadiusMeters)

	assert.ErrorIs(t, err, panorama.ErrNotFound)
	assert.False(t, res.Found)
}

func TestNearest_RequestDenied(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, loadTestFixture(t, "metadata_denied.json")), nil)

	client := NewClientWithHTTPDoer("bad-key", "https://maps.test", mockHTTP)
	_, err := client.Nearest(context.Background(), gangnam, panorama.DriveRadiusMeters)

	require.Error(t, err)
	assert.NotErrorIs(t, err, panorama.ErrNotFound)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
}

func TestNearest_HTTPError(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(500, "Internal error"), nil)

	client := NewClientWithHTTPDoer("test-api-key", "https://maps.test", mockHTTP)
	_, err := client.Nearest(context.Background(), gangnam, panorama.DriveRadiusMeters)

	assert.Equal(t, 500, clients.StatusCode(err))
}

func TestNearest_MissingKey(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	client := NewClientWithHTTPDoer("", "https://maps.test", mockHTTP)

	_, err := client.Nearest(context.Background(), gangnam, panorama.DriveRadiusMeters)
	assert.ErrorIs(t, err, clients.ErrMissingAPIKey)
	mockHTTP.AssertNotCalled(t, "Do", mock.Anything)
}

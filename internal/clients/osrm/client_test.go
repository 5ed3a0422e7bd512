package osrm

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
)

type MockHTTPDoer struct {
	mock.Mock
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

var (
	gangnam = geo.Point{Latitude: 37.4979, Longitude: 127.0276}
	yeoksam = geo.Point{Latitude: 37.5006, Longitude: 127.0364}
)

func TestRoute_Success(t *testing.T) {
	fixture, err := os.ReadFile("testdata/route_gangnam.json")
	require.NoError(t, err)

	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		q := req.URL.Query()
		return req.URL.Path == "/route/v1/driving/127.0276,37.4979;127.0364,37.5006" &&
			q.Get("overview") == "full" && q.Get("geometries") == "geojson"
	})).Return(createMockResponse(200, string(fixture)), nil)

	client := NewClientWithHTTPDoer("https://osrm.test", mockHTTP)
	route, err := client.Route(context.Background(), gangnam, yeoksam)
	require.NoError(t, err)
	require.NotNil(t, route)

	assert.InDelta(t, 1203.4, route.DistanceMeters, 1e-9)
	assert.InDelta(t, 301.2, route.DurationSeconds, 1e-9)
	require.Len(t, route.Path, 4)
	assert.Equal(t, gangnam, route.Path[0])
	assert.Equal(t, yeoksam, route.Path[3])
	mockHTTP.AssertExpectations(t)
}

func TestRoute_NoRoutes(t *testing.T) {
	mockHTTP := &MockHTTPDoer{}
	mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(
		createMockResponse(200, `{"code":"Ok","routes":[]}`), nil)

	client := NewClientWithHTTPDoer("https://osrm.test", mockHTTP)
	route, err := client.Route(context.Background(), gangnam, yeoksam)
	require.NoError(t, err)
	assert.Nil(t, route)
}

func TestRoute_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"upstream failure", 502, "Bad Gateway"},
		{"no segment", 400, `{"code":"NoSegment","message":"Could not find a matching segment for coordinate 0"}`},
		{"error code in 200", 200, `{"code":"NoRoute","message":"Impossible route between points"}`},
		{"malformed", 200, `{"code":"Ok","routes":[{"geometry":`},
		{"point geometry", 200, `{"code":"Ok","routes":[{"distance":1,"duration":1,"geometry":{"type":"Point","coordinates":[127,37]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockHTTP := &MockHTTPDoer{}
			mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(createMockResponse(tt.status, tt.body), nil)

			client := NewClientWithHTTPDoer("https://osrm.test", mockHTTP)
			route, err := client.Route(context.Background(), gangnam, yeoksam)
			assert.Error(t, err)
			assert.Nil(t, route)
		})
	}

	t.Run("status is preserved", func(t *testing.T) {
		mockHTTP := &MockHTTPDoer{}
		mockHTTP.On("Do", mock.AnythingOfType("*http.Request")).Return(createMockResponse(429, "Too Many Requests"), nil)

		_, err := NewClientWithHTTPDoer("https://osrm.test", mockHTTP).Route(context.Background(), gangnam, yeoksam)
		assert.Equal(t, 429, clients.StatusCode(err))
	})
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dpup/drive.ersn.net/server/internal/cache"
	"github.com/dpup/drive.ersn.net/server/internal/clients"
	"github.com/dpup/drive.ersn.net/server/internal/clients/kakao"
	"github.com/dpup/drive.ersn.net/server/internal/clients/osrm"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

type MockDirections struct {
	mock.Mock
}

func (m *MockDirections) Directions(ctx context.Context, origin, destination geo.Point) (*kakao.DirectionsResponse, error) {
	args := m.Called(ctx, origin, destination)
	resp, _ := args.Get(0).(*kakao.DirectionsResponse)
	return resp, args.Error(1)
}

type MockFallback struct {
	mock.Mock
}

func (m *MockFallback) Route(ctx context.Context, origin, destination geo.Point) (*osrm.RouteData, error) {
	args := m.Called(ctx, origin, destination)
	data, _ := args.Get(0).(*osrm.RouteData)
	return data, args.Error(1)
}

var (
	gangnam = geo.Point{Latitude: 37.4979, Longitude: 127.0276}
	yeoksam = geo.Point{Latitude: 37.5006, Longitude: 127.0364}
)

func kakaoResponse() *kakao.DirectionsResponse {
	return &kakao.DirectionsResponse{
		Routes: []kakao.Route{{
			ResultCode: 0,
			Summary:    kakao.Summary{Distance: 1187, Duration: 312},
			Sections: []kakao.Section{{
				Roads: []kakao.Road{
					{Vertexes: []float64{127.0276, 37.4979, 127.0301, 37.4987}},
					{Vertexes: []float64{127.0301, 37.4987, 127.0364, 37.5006}},
				},
			}},
		}},
	}
}

func osrmRoute() *osrm.RouteData {
	return &osrm.RouteData{
		DistanceMeters:  1203.4,
		DurationSeconds: 301.2,
		Path:            geo.Path{gangnam, {Latitude: 37.4990, Longitude: 127.0320}, yeoksam},
	}
}

func TestGetRoute_Primary(t *testing.T) {
	primary := &MockDirections{}
	primary.On("Directions", mock.Anything, gangnam, yeoksam).Return(kakaoResponse(), nil)
	fallback := &MockFallback{}

	svc := NewRouteService(primary, fallback, nil, 0, zaptest.NewLogger(t))
	route, err := svc.GetRoute(context.Background(), gangnam, yeoksam)
	require.NoError(t, err)

	assert.Equal(t, SummaryKakao, route.Summary)
	assert.Equal(t, 1187.0, route.DistanceMeters)
	assert.Equal(t, 312.0, route.DurationSeconds)
	assert.Len(t, route.Path, 4)
	assert.NotEmpty(t, route.EncodedPolyline)

	decoded, err := geo.DecodePolyline(route.EncodedPolyline)
	require.NoError(t, err)
	assert.Len(t, decoded, len(route.Path))
	fallback.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetRoute_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		resp    *kakao.DirectionsResponse
		respErr error
	}{
		{"upstream error", nil, &clients.APIError{Provider: "Kakao", StatusCode: 401, Body: "unauthorized"}},
		{"network error", nil, errors.New("connection refused")},
		{"empty routes", &kakao.DirectionsResponse{}, nil},
		{"result code", &kakao.DirectionsResponse{Routes: []kakao.Route{{ResultCode: 104, ResultMsg: "too close"}}}, nil},
		{"single point", &kakao.DirectionsResponse{Routes: []kakao.Route{{
			Sections: []kakao.Section{{Roads: []kakao.Road{{Vertexes: []float64{127.0276, 37.4979}}}}},
		}}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &MockDirections{}
			primary.On("Directions", mock.Anything, gangnam, yeoksam).Return(tt.resp, tt.respErr)
			fallback := &MockFallback{}
			fallback.On("Route", mock.Anything, gangnam, yeoksam).Return(osrmRoute(), nil)

			svc := NewRouteService(primary, fallback, nil, 0, zaptest.NewLogger(t))
			route, err := svc.GetRoute(context.Background(), gangnam, yeoksam)
			require.NoError(t, err)

			assert.Equal(t, SummaryOSRM, route.Summary)
			assert.Equal(t, "osrm", route.Provider)
			assert.Len(t, route.Path, 3)
			fallback.AssertExpectations(t)
		})
	}
}

func TestGetRoute_BothFail(t *testing.T) {
	primary := &MockDirections{}
	primary.On("Directions", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	t.Run("fallback error", func(t *testing.T) {
		fallback := &MockFallback{}
		fallback.On("Route", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("502"))

		_, err := NewRouteService(primary, fallback, nil, 0, nil).GetRoute(context.Background(), gangnam, yeoksam)
		assert.ErrorIs(t, err, ErrNoRoute)
	})

	t.Run("fallback empty", func(t *testing.T) {
		fallback := &MockFallback{}
		fallback.On("Route", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

		_, err := NewRouteService(primary, fallback, nil, 0, nil).GetRoute(context.Background(), gangnam, yeoksam)
		assert.ErrorIs(t, err, ErrNoRoute)
	})
}

func TestGetRoute_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	primary := &MockDirections{}
	primary.On("Directions", mock.Anything, gangnam, yeoksam).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)
	fallback := &MockFallback{}

	_, err := NewRouteService(primary, fallback, nil, 0, zaptest.NewLogger(t)).GetRoute(ctx, gangnam, yeoksam)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoRoute)
	fallback.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetRoute_CanceledDuringFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	primary := &MockDirections{}
	primary.On("Directions", mock.Anything, gangnam, yeoksam).Return(nil, errors.New("502"))
	fallback := &MockFallback{}
	fallback.On("Route", mock.Anything, gangnam, yeoksam).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	_, err := NewRouteService(primary, fallback, nil, 0, nil).GetRoute(ctx, gangnam, yeoksam)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetRoute_InvalidPoint(t *testing.T) {
	svc := NewRouteService(&MockDirections{}, &MockFallback{}, nil, 0, nil)
	_, err := svc.GetRoute(context.Background(), geo.Point{Latitude: 91, Longitude: 0}, yeoksam)
	assert.Error(t, err)
}

func TestGetRoute_Cached(t *testing.T) {
	primary := &MockDirections{}
	primary.On("Directions", mock.Anything, gangnam, yeoksam).Return(kakaoResponse(), nil).Once()

	svc := NewRouteService(primary, &MockFallback{}, cache.NewCache(), time.Hour, nil)
	first, err := svc.GetRoute(context.Background(), gangnam, yeoksam)
	require.NoError(t, err)
	second, err := svc.GetRoute(context.Background(), gangnam, yeoksam)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	primary.AssertNumberOfCalls(t, "Directions", 1)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/cache"
	"github.com/dpup/drive.ersn.net/server/internal/clients/kakao"
	"github.com/dpup/drive.ersn.net/server/internal/clients/osrm"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

// Summary labels shown with a route
const (
	SummaryKakao = "카카오맵 경로"
	SummaryOSRM  = "OSRM 경로"
)

// ErrNoRoute is returned when neither provider produced a usable route
var ErrNoRoute = errors.New("no route found")

// DirectionsClient is the primary route provider
type DirectionsClient interface {
	Directions(ctx context.Context, origin, destination geo.Point) (*kakao.DirectionsResponse, error)
}

// FallbackRouter is the secondary route provider
type FallbackRouter interface {
	Route(ctx context.Context, origin, destination geo.Point) (*osrm.RouteData, error)
}

// Route is a driving route normalized across providers
type Route struct {
	DistanceMeters  float64  `json:"distance_meters"`
	DurationSeconds float64  `json:"duration_seconds"`
	Summary         string   `json:"summary"`
	Provider        string   `json:"provider"`
	Path            geo.Path `json:"path"`
	EncodedPolyline string   `json:"encoded_polyline"`
}

// RouteService resolves routes from Kakao Mobility, falling back to OSRM
type RouteService struct {
	primary  DirectionsClient
	fallback FallbackRouter
	cache    *cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewRouteService creates a new RouteService. cache may be nil.
func NewRouteService(primary DirectionsClient, fallback FallbackRouter, cache *cache.Cache, ttl time.Duration, logger *zap.Logger) *RouteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteService{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
	}
}

// GetRoute returns a route between origin and destination. Any failure of the
// primary provider (HTTP error, malformed payload, empty route set) falls back
// to the secondary; ErrNoRoute is returned only when both fail. If ctx ends
// first its error is returned instead.
func (s *RouteService) GetRoute(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	if !origin.Valid() || !destination.Valid() {
		return nil, fmt.Errorf("invalid coordinates %s -> %s", origin, destination)
	}

	cacheKey := cache.RouteKey(origin, destination)
	if s.cache != nil {
		var cached Route
		found, err := s.cache.Get(cacheKey, &cached)
		if err != nil {
			s.logger.Warn("route cache error", zap.Error(err))
		}
		if found {
			s.logger.Debug("returning cached route", zap.String("key", cacheKey))
			return &cached, nil
		}
	}

	route, err := s.fromPrimary(ctx, origin, destination)
	if err != nil {
		// The caller gave up, so neither provider is at fault
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("primary route provider failed, switching to OSRM", zap.Error(err))
		route, err = s.fromFallback(ctx, origin, destination)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Error("fallback route provider failed", zap.Error(err))
			return nil, ErrNoRoute
		}
	}

	route.EncodedPolyline = geo.EncodePolyline(route.Path)
	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(cacheKey, route, s.ttl, route.Provider); err != nil {
			s.logger.Warn("failed to cache route", zap.Error(err))
		}
	}
	return route, nil
}

func (s *RouteService) fromPrimary(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	if s.primary == nil {
		return nil, errors.New("no primary provider")
	}
	resp, err := s.primary.Directions(ctx, origin, destination)
	if err != nil {
		return nil, err
	}
	if len(resp.Routes) == 0 {
		return nil, errors.New("empty route set")
	}

	r := resp.Routes[0]
	if !r.OK() {
		return nil, fmt.Errorf("result code %d: %s", r.ResultCode, r.ResultMsg)
	}
	path := r.Path()
	if len(path) < 2 {
		return nil, fmt.Errorf("route has %d points", len(path))
	}

	return &Route{
		DistanceMeters:  float64(r.Summary.Distance),
		DurationSeconds: float64(r.Summary.Duration),
		Summary:         SummaryKakao,
		Provider:        "kakao",
		Path:            path,
	}, nil
}

func (s *RouteService) fromFallback(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	if s.fallback == nil {
		return nil, errors.New("no fallback provider")
	}
	data, err := s.fallback.Route(ctx, origin, destination)
	if err != nil {
		return nil, err
	}
	if data == nil || len(data.Path) < 2 {
		return nil, errors.New("empty route set")
	}

	return &Route{
		DistanceMeters:  data.DistanceMeters,
		DurationSeconds: data.DurationSeconds,
		Summary:         SummaryOSRM,
		Provider:        "osrm",
		Path:            data.Path,
	}, nil
}

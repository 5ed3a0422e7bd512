package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/cache"
	"github.com/dpup/drive.ersn.net/server/internal/clients/kakao"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

// AddressResolver is the reverse geocoding backend
type AddressResolver interface {
	CoordToAddress(ctx context.Context, p geo.Point) (string, error)
}

// PlaceSearcher is the keyword search backend
type PlaceSearcher interface {
	SearchKeyword(ctx context.Context, query string) ([]kakao.PlaceDocument, error)
}

// FallbackAddress formats a point for display when no address is known
func FallbackAddress(p geo.Point) string {
	return fmt.Sprintf("위도: %.4f, 경도: %.4f", p.Latitude, p.Longitude)
}

// GeocodeService turns points into display addresses
type GeocodeService struct {
	resolver AddressResolver
	cache    *cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewGeocodeService creates a new GeocodeService. cache may be nil.
func NewGeocodeService(resolver AddressResolver, cache *cache.Cache, ttl time.Duration, logger *zap.Logger) *GeocodeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeocodeService{
		resolver: resolver,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
	}
}

// AddressForPoint never fails: any lookup error yields FallbackAddress
func (s *GeocodeService) AddressForPoint(ctx context.Context, p geo.Point) string {
	key := cache.GeocodeKey(p)
	if s.cache != nil {
		var address string
		if found, _ := s.cache.Get(key, &address); found {
			return address
		}
	}

	address, err := s.resolver.CoordToAddress(ctx, p)
	if err != nil || strings.TrimSpace(address) == "" {
		s.logger.Debug("reverse geocoding failed, using coordinates", zap.Stringer("point", p), zap.Error(err))
		return FallbackAddress(p)
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(key, address, s.ttl, "geocode"); err != nil {
			s.logger.Warn("failed to cache address", zap.Error(err))
		}
	}
	return address
}

// Place is a keyword search hit
type Place struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Coordinates geo.Point `json:"coordinates"`
}

// PlaceService searches places by keyword
type PlaceService struct {
	searcher PlaceSearcher
	logger   *zap.Logger
}

// NewPlaceService creates a new PlaceService
func NewPlaceService(searcher PlaceSearcher, logger *zap.Logger) *PlaceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaceService{searcher: searcher, logger: logger}
}

// Search returns places matching query. A blank query returns no places
// without calling the backend.
func (s *PlaceService) Search(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Place{}, nil
	}

	docs, err := s.searcher.SearchKeyword(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("place search failed: %w", err)
	}

	places := make([]Place, 0, len(docs))
	for _, doc := range docs {
		p, err := doc.Point()
		if err != nil || !p.Valid() {
			s.logger.Debug("skipping place with bad coordinates", zap.String("place", doc.PlaceName))
			continue
		}
		places = append(places, Place{
			Name:        doc.PlaceName,
			Address:     doc.Address(),
			Coordinates: p,
		})
	}
	return places, nil
}

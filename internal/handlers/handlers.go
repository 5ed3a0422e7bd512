// Package handlers exposes the drive host and route services over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/events"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/lib/view"
	"github.com/dpup/drive.ersn.net/server/internal/services"
)

// DirectionsProxy forwards directions requests upstream untouched
type DirectionsProxy interface {
	HasAPIKey() bool
	DirectionsRaw(ctx context.Context, origin, destination string) ([]byte, error)
}

// RouteFinder resolves routes between two points
type RouteFinder interface {
	GetRoute(ctx context.Context, origin, destination geo.Point) (*services.Route, error)
}

// AddressLookup reverse geocodes points
type AddressLookup interface {
	AddressForPoint(ctx context.Context, p geo.Point) string
}

// PlaceFinder searches places by keyword
type PlaceFinder interface {
	Search(ctx context.Context, query string) ([]services.Place, error)
}

// DriveHost is the simulation host served under /api/v1/drive
type DriveHost interface {
	Start(ctx context.Context, path geo.Path, speedKmH float64) (*services.Session, error)
	StartRoute(ctx context.Context, origin, destination geo.Point, speedKmH float64) (*services.Session, *services.Route, error)
	Stop(ctx context.Context) (bool, error)
	SetSpeed(kmh float64) float64
	Snapshot(ctx context.Context) (*services.DriveSnapshot, error)
	ToggleRoadview(ctx context.Context) (view.Status, error)
	CloseRoadview(ctx context.Context) (view.Status, error)
	MapClick(ctx context.Context, p geo.Point) (bool, error)
	Subscribe() (<-chan events.Event, func())
}

// Handler serves the HTTP API
type Handler struct {
	proxy          DirectionsProxy
	routes         RouteFinder
	geocoder       AddressLookup
	places         PlaceFinder
	drive          DriveHost
	logger         *zap.Logger
	heartbeat      time.Duration
	allowedOrigins []string
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the request logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHeartbeat sets the keep-alive interval of event streams
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) { h.heartbeat = d }
}

// WithAllowedOrigins sets the CORS origins. "*" allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) { h.allowedOrigins = origins }
}

// NewHandler creates a new Handler
func NewHandler(proxy DirectionsProxy, routes RouteFinder, geocoder AddressLookup, places PlaceFinder, drive DriveHost, opts ...Option) *Handler {
	h := &Handler{
		proxy:     proxy,
		routes:    routes,
		geocoder:  geocoder,
		places:    places,
		drive:     drive,
		logger:    zap.NewNop(),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a gin engine with middleware and every route registered
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(h.recovery(), h.requestLogger(), h.cors())
	h.RegisterRoutes(&router.RouterGroup)
	return router
}

// RegisterRoutes registers all API routes on r
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/api/directions", h.Directions)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/route", h.GetRoute)
		v1.GET("/route.kml", h.GetRouteKML)
		v1.GET("/geocode", h.Geocode)
		v1.GET("/places", h.SearchPlaces)

		v1.POST("/drive", h.StartDrive)
		v1.GET("/drive", h.GetDrive)
		v1.DELETE("/drive", h.StopDrive)
		v1.PUT("/drive/speed", h.SetSpeed)
		v1.GET("/drive/events", h.DriveEvents)

		v1.POST("/roadview/toggle", h.ToggleRoadview)
		v1.POST("/roadview/close", h.CloseRoadview)
		v1.POST("/map/click", h.MapClick)
	}
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *Handler) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.logger.Error("panic serving request", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		respondError(c, http.StatusInternalServerError, "Internal Server Error")
	})
}

func (h *Handler) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && h.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) originAllowed(origin string) bool {
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dpup/prefab"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/cache"
	"github.com/dpup/drive.ersn.net/server/internal/clients"
	"github.com/dpup/drive.ersn.net/server/internal/clients/google"
	"github.com/dpup/drive.ersn.net/server/internal/clients/kakao"
	"github.com/dpup/drive.ersn.net/server/internal/clients/osrm"
	"github.com/dpup/drive.ersn.net/server/internal/config"
	"github.com/dpup/drive.ersn.net/server/internal/events"
	"github.com/dpup/drive.ersn.net/server/internal/handlers"
	"github.com/dpup/drive.ersn.net/server/internal/lib/drive"
	"github.com/dpup/drive.ersn.net/server/internal/services"
)

func main() {
	// Load configuration using Prefab's config system
	appConfig, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(appConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize cache
	cacheInstance := cache.NewCache(cache.WithLogger(logger.Named("cache")))
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Cache.CleanupInterval)

	// Initialize external API clients
	kakaoClient := kakao.NewClientWithHTTPDoer(
		appConfig.Kakao.APIKey,
		appConfig.Kakao.MobilityURL,
		appConfig.Kakao.LocalURL,
		clients.NewHTTPClient(),
	).WithLogger(logger.Named("kakao"))
	osrmClient := osrm.NewClient(appConfig.OSRM.BaseURL, logger.Named("osrm"))
	streetView := google.NewClientWithHTTPDoer(
		appConfig.StreetView.APIKey,
		appConfig.StreetView.BaseURL,
		clients.NewHTTPClient(),
	).WithLogger(logger.Named("streetview"))

	if !kakaoClient.HasAPIKey() {
		logger.Warn("kakao API key missing, directions proxy will fail and routes fall back to OSRM")
	}

	// Initialize services
	routeService := services.NewRouteService(kakaoClient, osrmClient, cacheInstance, appConfig.Cache.RouteTTL, logger.Named("routes"))
	geocodeService := services.NewGeocodeService(kakaoClient, cacheInstance, appConfig.Cache.GeocodeTTL, logger.Named("geocode"))
	placeService := services.NewPlaceService(kakaoClient, logger.Named("places"))

	telemetry := startTelemetry(ctx, appConfig, logger)
	defer func() {
		if closer, ok := telemetry.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("failed to close telemetry", zap.Error(err))
			}
		}
	}()

	// Drive host: one loop owns the simulator and view state
	loop := drive.NewLoop(appConfig.Simulation.LoopBuffer, logger.Named("loop"))
	hub := events.NewHub(64)
	driveService := services.NewDriveService(
		loop,
		drive.NewFrameScheduler(loop, appConfig.Simulation.TicksPerSecond),
		streetView,
		geocodeService,
		routeService,
		hub,
		telemetry,
		services.DriveOptions{
			DefaultSpeedKmH:     appConfig.Simulation.DefaultSpeedKmH,
			MaxFrameGap:         appConfig.Simulation.MaxFrameGap,
			SyncThresholdMeters: appConfig.Simulation.SyncThresholdMeters,
			DriveRadiusMeters:   appConfig.Simulation.DriveRadiusMeters,
			LookupTimeout:       appConfig.StreetView.Timeout,
		},
		logger.Named("drive"),
	)
	go driveService.Run(ctx)

	// Setup Gin router
	if !appConfig.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := handlers.NewHandler(kakaoClient, routeService, geocodeService, placeService, driveService,
		handlers.WithLogger(logger.Named("http")),
		handlers.WithAllowedOrigins(appConfig.Server.CorsOrigins),
	)
	router := handler.Router()
	router.GET("/", gin.WrapF(homepageHandler(logger.Named("http"))))

	// Event streams stay open, so there is no write timeout
	srv := &http.Server{
		Addr:              appConfig.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("drive server starting",
			zap.String("addr", srv.Addr),
			zap.Int("ticks_per_second", appConfig.Simulation.TicksPerSecond),
			zap.Bool("telemetry", appConfig.Telemetry.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down drive server")

	// Ends event streams so Shutdown does not wait on them
	driveService.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced shutdown", zap.Error(err))
	}

	logger.Info("drive server stopped")
}

// loadConfig loads configuration using Prefab's config system
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix
func loadConfig() (*config.Config, error) {
	appConfig := config.DefaultConfig()

	if env := prefab.Config.String("app_env"); env != "" {
		appConfig.AppEnv = env
	}

	// Unmarshal specific sections over the defaults using exact key paths
	sections := map[string]any{
		"server":     &appConfig.Server,
		"kakao":      &appConfig.Kakao,
		"osrm":       &appConfig.OSRM,
		"streetview": &appConfig.StreetView,
		"simulation": &appConfig.Simulation,
		"telemetry":  &appConfig.Telemetry,
		"cache":      &appConfig.Cache,
	}
	for key, section := range sections {
		if err := prefab.Config.Unmarshal(key, section); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s section: %w", key, err)
		}
	}

	appConfig.ApplyEnv()
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}
	return appConfig, nil
}

func newLogger(appConfig *config.Config) (*zap.Logger, error) {
	if appConfig.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// startTelemetry starts the Kafka position feed when brokers are configured
func startTelemetry(ctx context.Context, appConfig *config.Config, logger *zap.Logger) events.PositionPublisher {
	if !appConfig.Telemetry.Enabled() {
		logger.Info("position telemetry disabled")
		return events.NopPublisher{}
	}

	writer := events.NewKafkaWriter(appConfig.Telemetry.Brokers, appConfig.Telemetry.Topic, appConfig.Telemetry.BatchTimeout)
	publisher := events.NewKafkaPublisher(writer, appConfig.Telemetry.BufferSize, logger.Named("telemetry"))
	publisher.Start(ctx)

	logger.Info("position telemetry enabled",
		zap.Strings("brokers", appConfig.Telemetry.Brokers),
		zap.String("topic", appConfig.Telemetry.Topic),
	)
	return publisher
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := fmt.Fprint(w, homepageHTML); err != nil {
			logger.Error("failed to write homepage HTML", zap.Error(err))
		}
	}
}

const homepageHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>drive.ersn.net</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">drive.ersn.net</span>

Drive simulation server for the route planner. Plays a route back as a
moving vehicle and keeps a street-level panorama in step with it.

<span class="header">Directions Proxy:</span>
  GET /api/directions?origin=lng,lat&amp;destination=lng,lat   - Kakao Mobility directions, verbatim

<span class="header">Routes and Places:</span>
  GET  /api/v1/route?origin=lng,lat&amp;destination=lng,lat     - Route with Kakao/OSRM fallback
  GET  /api/v1/route.kml?origin=lng,lat&amp;destination=lng,lat - Route as KML
  GET  /api/v1/geocode?lat=..&amp;lng=..                        - Address for a point
  GET  /api/v1/places?q=..                                 - Keyword place search

<span class="header">Drive:</span>
  POST   /api/v1/drive              - Start a drive (path or origin/destination)
  GET    /api/v1/drive              - Drive and view state
  DELETE /api/v1/drive              - Stop the drive
  PUT    /api/v1/drive/speed        - Set speed, 10-100 km/h
  GET    <a href="/api/v1/drive/events">/api/v1/drive/events</a>       - Server-sent event stream

<span class="header">Roadview:</span>
  POST /api/v1/roadview/toggle      - Toggle panorama pick mode
  POST /api/v1/roadview/close       - Close the panorama pane
  POST /api/v1/map/click            - Click the map at {"lat":..,"lng":..}

<span class="header">Data Sources:</span>
  • Kakao Mobility / Local  - Directions, addresses and places
  • OSRM                    - Fallback routing
  • Street View metadata    - Nearest panoramas
</pre>
</body>
</html>`

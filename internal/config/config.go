package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config represents the complete server configuration. Sections are loaded
// individually from prefab.yaml and PF__ environment variables.
type Config struct {
	AppEnv     string           `koanf:"app_env" yaml:"app_env"`
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Kakao      KakaoConfig      `koanf:"kakao" yaml:"kakao"`
	OSRM       OSRMConfig       `koanf:"osrm" yaml:"osrm"`
	StreetView StreetViewConfig `koanf:"streetview" yaml:"streetview"`
	Simulation SimulationConfig `koanf:"simulation" yaml:"simulation"`
	Telemetry  TelemetryConfig  `koanf:"telemetry" yaml:"telemetry"`
	Cache      CacheConfig      `koanf:"cache" yaml:"cache"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `koanf:"host" yaml:"host"`
	Port            int           `koanf:"port" yaml:"port"`
	CorsOrigins     []string      `koanf:"cors_origins" yaml:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// KakaoConfig holds Kakao Mobility and Kakao Local settings
type KakaoConfig struct {
	APIKey      string `koanf:"api_key" yaml:"api_key"`
	MobilityURL string `koanf:"mobility_url" yaml:"mobility_url"`
	LocalURL    string `koanf:"local_url" yaml:"local_url"`
}

// OSRMConfig holds the fallback route provider settings
type OSRMConfig struct {
	BaseURL string `koanf:"base_url" yaml:"base_url"`
}

// StreetViewConfig holds panorama lookup settings
type StreetViewConfig struct {
	APIKey  string        `koanf:"api_key" yaml:"api_key"`
	BaseURL string        `koanf:"base_url" yaml:"base_url"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// SimulationConfig holds drive simulation settings
type SimulationConfig struct {
	TicksPerSecond      int           `koanf:"ticks_per_second" yaml:"ticks_per_second"`
	DefaultSpeedKmH     float64       `koanf:"default_speed_kmh" yaml:"default_speed_kmh"`
	MaxFrameGap         time.Duration `koanf:"max_frame_gap" yaml:"max_frame_gap"`
	SyncThresholdMeters float64       `koanf:"sync_threshold_meters" yaml:"sync_threshold_meters"`
	DriveRadiusMeters   int           `koanf:"drive_radius_meters" yaml:"drive_radius_meters"`
	LoopBuffer          int           `koanf:"loop_buffer" yaml:"loop_buffer"`
}

// TelemetryConfig holds the Kafka position feed settings. Telemetry is
// disabled when no brokers are configured.
type TelemetryConfig struct {
	Brokers      []string      `koanf:"brokers" yaml:"brokers"`
	Topic        string        `koanf:"topic" yaml:"topic"`
	BufferSize   int           `koanf:"buffer_size" yaml:"buffer_size"`
	BatchTimeout time.Duration `koanf:"batch_timeout" yaml:"batch_timeout"`
}

// Enabled reports whether positions should be published
func (t TelemetryConfig) Enabled() bool {
	return len(t.Brokers) > 0 && t.Topic != ""
}

// CacheConfig holds result caching settings
type CacheConfig struct {
	RouteTTL        time.Duration `koanf:"route_ttl" yaml:"route_ttl"`
	GeocodeTTL      time.Duration `koanf:"geocode_ttl" yaml:"geocode_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		AppEnv: "production",
		Server: ServerConfig{
			Port:            8080,
			CorsOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Kakao: KakaoConfig{
			MobilityURL: "https://apis-navi.kakaomobility.com",
			LocalURL:    "https://dapi.kakao.com",
		},
		OSRM: OSRMConfig{
			BaseURL: "https://router.project-osrm.org",
		},
		StreetView: StreetViewConfig{
			BaseURL: "https://maps.googleapis.com",
			Timeout: 5 * time.Second,
		},
		Simulation: SimulationConfig{
			TicksPerSecond:      60,
			DefaultSpeedKmH:     50,
			MaxFrameGap:         250 * time.Millisecond,
			SyncThresholdMeters: 8,
			DriveRadiusMeters:   30,
			LoopBuffer:          256,
		},
		Telemetry: TelemetryConfig{
			Topic:        "drive.positions",
			BufferSize:   1024,
			BatchTimeout: time.Second,
		},
		Cache: CacheConfig{
			RouteTTL:        30 * time.Minute,
			GeocodeTTL:      24 * time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
	}
}

// ApplyEnv fills credentials from the environment variables the web client
// deployment uses, when the config files leave them empty.
func (c *Config) ApplyEnv() {
	if c.Kakao.APIKey == "" {
		c.Kakao.APIKey = os.Getenv("KAKAO_REST_API_KEY")
	}
	if c.StreetView.APIKey == "" {
		c.StreetView.APIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	}
}

// IsDevelopment reports whether the server runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

// Validate checks ranges. Missing API keys are not an error: requests that
// need them fail individually.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Simulation.TicksPerSecond <= 0 || c.Simulation.TicksPerSecond > 240 {
		errs = append(errs, fmt.Errorf("simulation.ticks_per_second must be in (0, 240]: %d", c.Simulation.TicksPerSecond))
	}
	if c.Simulation.DefaultSpeedKmH < 10 || c.Simulation.DefaultSpeedKmH > 100 {
		errs = append(errs, fmt.Errorf("simulation.default_speed_kmh must be in [10, 100]: %v", c.Simulation.DefaultSpeedKmH))
	}
	if c.Simulation.MaxFrameGap <= 0 {
		errs = append(errs, errors.New("simulation.max_frame_gap must be positive"))
	}
	if c.Simulation.SyncThresholdMeters < 0 {
		errs = append(errs, errors.New("simulation.sync_threshold_meters must not be negative"))
	}
	if c.Simulation.DriveRadiusMeters <= 0 {
		errs = append(errs, errors.New("simulation.drive_radius_meters must be positive"))
	}
	if c.Telemetry.Enabled() && c.Telemetry.BufferSize <= 0 {
		errs = append(errs, errors.New("telemetry.buffer_size must be positive"))
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Search    SearchConfig    `mapstructure:"search"`
	Debounce  DebounceConfig  `mapstructure:"debounce"`
	MapView   MapViewConfig   `mapstructure:"mapview"`
	Heatmap   HeatmapConfig   `mapstructure:"heatmap"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GeocoderConfig configures the Google Geocoding client. An empty APIKey is
// allowed: geocoding then fails with a configuration error.
type GeocoderConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Region    string        `mapstructure:"region"`
	Language  string        `mapstructure:"language"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

type SearchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type DebounceConfig struct {
	AddressInterval  time.Duration `mapstructure:"address_interval"`
	AddressMinLength int           `mapstructure:"address_min_length"`
	FilterInterval   time.Duration `mapstructure:"filter_interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type MapViewConfig struct {
	CenterLat   float64 `mapstructure:"center_lat"`
	CenterLng   float64 `mapstructure:"center_lng"`
	Zoom        int     `mapstructure:"zoom"`
	FitPadding  int     `mapstructure:"fit_padding"`
	FitMaxZoom  int     `mapstructure:"fit_max_zoom"`
	MaxSessions int     `mapstructure:"max_sessions"`
}

// HeatmapPreset is a filter the warmer keeps hot.
type HeatmapPreset struct {
	City      string `mapstructure:"city"`
	Class     string `mapstructure:"class"`
	Days      int    `mapstructure:"days"`
	Normalize bool   `mapstructure:"normalize"`
}

type HeatmapConfig struct {
	H3Resolution int             `mapstructure:"h3_resolution"`
	Presets      []HeatmapPreset `mapstructure:"presets"`
}

type TemporalConfig struct {
	HostPort     string        `mapstructure:"host_port"`
	Namespace    string        `mapstructure:"namespace"`
	TaskQueue    string        `mapstructure:"task_queue"`
	WarmInterval time.Duration `mapstructure:"warm_interval"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	return load(v)
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "screenfinder")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "screenfinder")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.db", 0)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("geocoder.api_key", "")
	v.SetDefault("geocoder.base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("geocoder.region", "br")
	v.SetDefault("geocoder.language", "pt-BR")
	v.SetDefault("geocoder.timeout", 5*time.Second)
	v.SetDefault("geocoder.rate_limit", 10.0)
	v.SetDefault("geocoder.burst", 5)
	v.SetDefault("search.timeout", 10*time.Second)
	v.SetDefault("debounce.address_interval", 800*time.Millisecond)
	v.SetDefault("debounce.address_min_length", 5)
	v.SetDefault("debounce.filter_interval", 300*time.Millisecond)
	v.SetDefault("debounce.timeout", 15*time.Second)
	v.SetDefault("mapview.center_lat", -23.5505)
	v.SetDefault("mapview.center_lng", -46.6333)
	v.SetDefault("mapview.zoom", 12)
	v.SetDefault("mapview.fit_padding", 20)
	v.SetDefault("mapview.fit_max_zoom", 15)
	v.SetDefault("mapview.max_sessions", 1000)
	v.SetDefault("heatmap.h3_resolution", 8)
	v.SetDefault("heatmap.presets", []map[string]any{
		{"days": 30, "normalize": true},
		{"days": 90, "normalize": true},
		{"days": 0, "normalize": false},
	})
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "screenfinder-heatmap")
	v.SetDefault("temporal.warm_interval", 4*time.Minute)

	// Environment variables: SCREENFINDER_DATABASE_HOST → database.host
	v.SetEnvPrefix("SCREENFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Geocoder.Timeout <= 0 {
		errs = append(errs, "geocoder.timeout must be positive")
	}
	if c.Geocoder.RateLimit < 0 {
		errs = append(errs, "geocoder.rate_limit must not be negative")
	}
	if c.Search.Timeout <= 0 {
		errs = append(errs, "search.timeout must be positive")
	}
	if c.Debounce.AddressInterval <= 0 || c.Debounce.FilterInterval <= 0 {
		errs = append(errs, "debounce intervals must be positive")
	}
	if c.Debounce.AddressMinLength < 1 {
		errs = append(errs, "debounce.address_min_length must be at least 1")
	}
	if c.MapView.CenterLat < -90 || c.MapView.CenterLat > 90 || c.MapView.CenterLng < -180 || c.MapView.CenterLng > 180 {
		errs = append(errs, "mapview center is not a valid coordinate")
	}
	if c.MapView.Zoom < 0 || c.MapView.Zoom > 22 || c.MapView.FitMaxZoom < 0 || c.MapView.FitMaxZoom > 22 {
		errs = append(errs, "mapview zoom levels must be 0-22")
	}
	if c.Heatmap.H3Resolution < 0 || c.Heatmap.H3Resolution > 15 {
		errs = append(errs, fmt.Sprintf("heatmap.h3_resolution must be 0-15, got %d", c.Heatmap.H3Resolution))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Warnings lists settings that are allowed but degrade the service.
func (c *Config) Warnings() []string {
	var w []string
	if strings.TrimSpace(c.Geocoder.APIKey) == "" {
		w = append(w, "geocoder.api_key is empty: address search will fail with a configuration error")
	}
	if !c.Telemetry.Enabled {
		w = append(w, "telemetry disabled: no traces exported")
	}
	return w
}

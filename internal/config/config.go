package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"fleet-trajectory-analytics/internal/analytics"
)

// Config holds the service settings read from the environment
type Config struct {
	// Storage
	DBPath string

	// HTTP
	HTTPPort string

	// Analytics
	SpeedLimitKph float64
	Thresholds    analytics.Thresholds
	IncidentTypes string

	// Fan-out
	FanOutWorkers int
	MaxPoints     int

	// Reporting
	Timezone string

	// Geocoding
	GeocoderURL       string
	GeocoderTimeoutMS int
	GeocoderCacheSize int
}

// Load reads an optional .env file and then the environment
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables only
func FromEnv() *Config {
	th := analytics.DefaultThresholds()
	th.GapThreshold = getEnvMinutes("TRIP_GAP_MINUTES", th.GapThreshold)
	th.StationaryThreshold = getEnvMinutes("STATIONARY_MINUTES", th.StationaryThreshold)
	th.StopSpeedKph = getEnvFloat("STOP_SPEED_KPH", th.StopSpeedKph)
	th.MinTripDuration = getEnvMinutes("MIN_TRIP_MINUTES", th.MinTripDuration)
	th.MinTripDistanceKm = getEnvFloat("MIN_TRIP_KM", th.MinTripDistanceKm)
	th.MinStopDuration = getEnvMinutes("MIN_STOP_MINUTES", th.MinStopDuration)
	th.OutageTolerance = getEnvFloat("OUTAGE_TOLERANCE", th.OutageTolerance)
	th.SevereExcessKph = getEnvFloat("SEVERE_EXCESS_KPH", th.SevereExcessKph)

	return &Config{
		DBPath:            getEnv("FLEET_DB_PATH", "fleet.db"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		SpeedLimitKph:     getEnvFloat("SPEED_LIMIT_KPH", analytics.DefaultSpeedLimitKph),
		Thresholds:        th,
		IncidentTypes:     getEnv("INCIDENT_TYPES", "all"),
		FanOutWorkers:     getEnvInt("FANOUT_WORKERS", 8),
		MaxPoints:         getEnvInt("MAX_HISTORY_POINTS", 0),
		Timezone:          getEnv("REPORT_TIMEZONE", "UTC"),
		GeocoderURL:       getEnv("GEOCODER_URL", ""),
		GeocoderTimeoutMS: getEnvInt("GEOCODER_TIMEOUT_MS", 3000),
		GeocoderCacheSize: getEnvInt("GEOCODER_CACHE_SIZE", 1000),
	}
}

// Analytics returns the engine configuration described by c
func (c *Config) Analytics() (analytics.Config, error) {
	types, err := analytics.ParseIncidentTypes(c.IncidentTypes)
	if err != nil {
		return analytics.Config{}, err
	}
	cfg := analytics.Config{
		Thresholds:    c.Thresholds,
		SpeedLimitKph: c.SpeedLimitKph,
		IncidentTypes: types,
	}
	if err := cfg.Validate(); err != nil {
		return analytics.Config{}, err
	}
	return cfg, nil
}

// Location resolves the reporting timezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GeocoderTimeout returns the per-lookup timeout
func (c *Config) GeocoderTimeout() time.Duration {
	return time.Duration(c.GeocoderTimeoutMS) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvMinutes(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(f * float64(time.Minute))
}

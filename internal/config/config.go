// Package config loads service settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/TomasB/geolocate/internal/geoip"
)

// Config is the complete service configuration.
type Config struct {
	Port     string      `toml:"port"`
	GRPCPort string      `toml:"grpc_port"` // gRPC is disabled when empty
	LogLevel string      `toml:"log_level"`
	GeoIP    GeoIPConfig `toml:"geoip"`
}

// GeoIPConfig locates the database files.
type GeoIPConfig struct {
	Path     string `toml:"path"`
	Country  string `toml:"country"`
	City     string `toml:"city"`
	Cache    string `toml:"cache"`
	Language string `toml:"language"`
}

// Load returns the defaults, overlaid with filename (if non-empty) and then
// with the environment.
func Load(filename string) (*Config, error) {
	c := &Config{
		Port:     "8080",
		LogLevel: "info",
		GeoIP: GeoIPConfig{
			Country:  geoip.DefaultCountryFile,
			City:     geoip.DefaultCityFile,
			Cache:    "standard",
			Language: geoip.DefaultLanguage,
		},
	}

	if filename != "" {
		if _, err := toml.DecodeFile(filename, c); err != nil {
			return nil, fmt.Errorf("could not load config file from %q: %w", filename, err)
		}
	}

	overrides := []struct {
		env string
		dst *string
	}{
		{"PORT", &c.Port},
		{"GRPC_PORT", &c.GRPCPort},
		{"LOG_LEVEL", &c.LogLevel},
		{geoip.PathEnv, &c.GeoIP.Path},
		{"GEOIP_COUNTRY", &c.GeoIP.Country},
		{"GEOIP_CITY", &c.GeoIP.City},
		{"GEOIP_CACHE", &c.GeoIP.Cache},
		{"GEOIP_LANGUAGE", &c.GeoIP.Language},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			*o.dst = v
		}
	}

	if c.GeoIP.Path == "" {
		return nil, fmt.Errorf("%s (or geoip.path in the config file) is required", geoip.PathEnv)
	}
	return c, nil
}

// GeoIPOptions converts the GeoIP section into options for geoip.New.
func (c *Config) GeoIPOptions(logger *slog.Logger) (geoip.Options, error) {
	cache, err := geoip.ParseCacheMode(c.GeoIP.Cache)
	if err != nil {
		return geoip.Options{}, err
	}
	return geoip.Options{
		Path:     c.GeoIP.Path,
		Cache:    cache,
		Country:  c.GeoIP.Country,
		City:     c.GeoIP.City,
		Language: c.GeoIP.Language,
		Logger:   logger,
	}, nil
}

// SlogLevel converts the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

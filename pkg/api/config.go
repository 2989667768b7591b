// Package api serves online features, on-demand functions and pipeline runs over HTTP.
package api

import "errors"

var (
	// ErrAPIAddrRequired is returned when API is enabled but no address is configured
	ErrAPIAddrRequired = errors.New("api address is required when API is enabled")
	// ErrAllowOriginsRequired is returned when CORS is configured with no origins
	ErrAllowOriginsRequired = errors.New("at least one allowed origin is required")
)

// Config represents API service configuration
type Config struct {
	Enabled      bool     `yaml:"enabled" default:"false"`
	Addr         string   `yaml:"addr" default:":8080" validate:"omitempty,hostname_port"`
	AllowOrigins []string `yaml:"allowOrigins" default:"[\"*\"]"`
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Addr == "" {
		return ErrAPIAddrRequired
	}

	if len(c.AllowOrigins) == 0 {
		return ErrAllowOriginsRequired
	}

	return nil
}

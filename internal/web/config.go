package web

import (
	"time"

	"github.com/bdgd-cnpj/internal/config"
)

// Config represents the web server configuration
type Config struct {
	Host         string
	Port         int
	MaxLookup    int
	MaxRefine    int
	StatsTTL     time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return FromSettings(config.DefaultSettings().Web)
}

// FromSettings builds the server configuration from the shared settings
func FromSettings(s config.WebSettings) *Config {
	c := &Config{
		Host:      s.Host,
		Port:      s.Port,
		MaxLookup: s.MaxLookup,
		MaxRefine: s.MaxRefine,
		StatsTTL:  s.StatsTTL,
		// refine waits on the Nominatim rate limit
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	if c.MaxLookup <= 0 {
		c.MaxLookup = 1000
	}
	if c.MaxRefine <= 0 {
		c.MaxRefine = 100
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	return c
}

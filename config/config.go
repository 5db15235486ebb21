package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/aluiziolira/go-scrape-phones/models"
)

// Config holds scraper configuration.
type Config struct {
	InputFile    string
	OutputFile   string
	OutputFormat string // csv, json, or dual
	Fields       []string

	ProxyAddr       string
	ControlAddr     string
	ControlPassword string
	ControlCookie   string // path to Tor's control_auth_cookie; takes precedence over the password
	SettleDelay     time.Duration
	EmbeddedTor     bool

	MaxAttempts     int
	Timeout         time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	UserAgent       string

	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns defaults for a local Tor daemon on its standard ports
// and the GSMArena file names.
func DefaultConfig() *Config {
	fields := make([]string, len(models.DefaultFields))
	copy(fields, models.DefaultFields)

	return &Config{
		InputFile:       "phones_urls.csv",
		OutputFile:      "gsmarena_filled.csv",
		OutputFormat:    "csv",
		Fields:          fields,
		ProxyAddr:       "127.0.0.1:9050",
		ControlAddr:     "127.0.0.1:9051",
		ControlPassword: "",
		SettleDelay:     8 * time.Second,
		MaxAttempts:     5,
		Timeout:         15 * time.Second,
		RetryBackoff:    0,
		RetryBackoffMax: 0,
		UserAgent:       "Mozilla/5.0",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("field list cannot be empty")
	}
	seen := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		if f == "" {
			return fmt.Errorf("field list contains an empty name")
		}
		if _, ok := seen[f]; ok {
			return fmt.Errorf("field list contains duplicate %q", f)
		}
		seen[f] = struct{}{}
	}

	// The embedded daemon picks its own ports.
	if !c.EmbeddedTor {
		if err := validateHostPort(c.ProxyAddr); err != nil {
			return fmt.Errorf("invalid proxy address: %w", err)
		}
		if err := validateHostPort(c.ControlAddr); err != nil {
			return fmt.Errorf("invalid control address: %w", err)
		}
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}

	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

func validateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("missing host in %q", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port in %q", addr)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none are
// given) into the process environment. Variables already set are not
// overridden. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set to a
// non-blank value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// ApplyEnv overrides cfg with any of the supported environment variables.
func ApplyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"SCRAPER_INPUT", &cfg.InputFile},
		{"SCRAPER_OUTPUT", &cfg.OutputFile},
		{"SCRAPER_FORMAT", &cfg.OutputFormat},
		{"SCRAPER_USER_AGENT", &cfg.UserAgent},
		{"SCRAPER_METRICS_ADDR", &cfg.MetricsAddr},
		{"TOR_PROXY_ADDR", &cfg.ProxyAddr},
		{"TOR_CONTROL_ADDR", &cfg.ControlAddr},
		{"TOR_CONTROL_PASSWORD", &cfg.ControlPassword},
		{"TOR_CONTROL_COOKIE", &cfg.ControlCookie},
	}
	for _, s := range strs {
		if value, ok := EnvString(s.key); ok {
			*s.dst = value
		}
	}
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	if n, ok, err := EnvInt("SCRAPER_ATTEMPTS"); err != nil {
		return err
	} else if ok {
		cfg.MaxAttempts = n
	}
	if d, ok, err := EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = d
	}
	if d, ok, err := EnvDuration("TOR_SETTLE_DELAY"); err != nil {
		return err
	} else if ok {
		cfg.SettleDelay = d
	}
	if b, ok, err := EnvBool("TOR_EMBEDDED"); err != nil {
		return err
	} else if ok {
		cfg.EmbeddedTor = b
	}
	return nil
}

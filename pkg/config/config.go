// Package config reads engine configuration from LINEBASIS_* environment
// variables with inline defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds engine configuration.
type Config struct {
	DatabasePath  string
	DatabaseURL   string
	ComponentsDir string
	LogLevel      string
	Debounce      time.Duration
	Minify        bool
	OTLPEndpoint  string
	Telemetry     bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	dbPath := os.Getenv("LINEBASIS_DB")
	if dbPath == "" {
		dbPath = "linebasis.db"
	}

	logLevel := os.Getenv("LINEBASIS_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	debounce := 750 * time.Millisecond
	if raw := os.Getenv("LINEBASIS_SAVE_DEBOUNCE_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			debounce = time.Duration(ms) * time.Millisecond
		}
	}

	otlp := os.Getenv("LINEBASIS_OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		DatabasePath:  dbPath,
		DatabaseURL:   os.Getenv("LINEBASIS_DATABASE_URL"),
		ComponentsDir: os.Getenv("LINEBASIS_COMPONENTS_DIR"),
		LogLevel:      logLevel,
		Debounce:      debounce,
		Minify:        os.Getenv("LINEBASIS_MINIFY") == "true",
		OTLPEndpoint:  otlp,
		Telemetry:     os.Getenv("LINEBASIS_TELEMETRY") == "true",
	}
}

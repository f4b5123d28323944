// Package config provides configuration management for the reconciliation ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Key lookup failure policies.
const (
	LookupFail       = "fail"
	LookupAssumeNone = "assume-none"
)

// Config represents the application configuration.
type Config struct {
	Database DatabaseConfig
	Paths    PathsConfig
	Ingest   IngestConfig
	HTTPAddr string
	Timezone string
	Debug    bool
}

// DatabaseConfig selects the storage engine.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "pgx".
	Driver string
	// DSN is a PostgreSQL connection string, or a SQLite file path.
	DSN    string
	Schema string
}

// PathsConfig represents on-disk locations.
type PathsConfig struct {
	DataDir   string
	ExportDir string
}

// IngestConfig tunes the upload pipeline.
type IngestConfig struct {
	// ColumnAliases is an optional YAML file mapping source headers to canonical columns.
	ColumnAliases string
	// KeyLookupFailure is LookupFail or LookupAssumeNone.
	KeyLookupFailure string
}

// Load loads configuration from environment variables.
// It automatically loads .env file from the current directory if available.
// You can optionally specify a custom .env file path.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	dsn := os.Getenv("RECON_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}

	config := &Config{
		Database: DatabaseConfig{
			Driver: strings.ToLower(getEnvOrDefault("RECON_DB_DRIVER", "sqlite3")),
			DSN:    dsn,
			Schema: strings.TrimSpace(getEnvOrDefault("RECON_DB_SCHEMA", "public")),
		},
		Paths: PathsConfig{
			DataDir:   getEnvOrDefault("RECON_DATA_DIR", "./data"),
			ExportDir: os.Getenv("RECON_EXPORT_DIR"),
		},
		Ingest: IngestConfig{
			ColumnAliases:    os.Getenv("RECON_COLUMN_ALIASES"),
			KeyLookupFailure: strings.ToLower(getEnvOrDefault("RECON_KEY_LOOKUP_FAILURE", LookupFail)),
		},
		HTTPAddr: getEnvOrDefault("RECON_HTTP_ADDR", ":8080"),
		Timezone: getEnvOrDefault("RECON_TIMEZONE", "UTC"),
		Debug:    os.Getenv("DEBUG") == "true",
	}

	if config.Database.Schema == "" {
		config.Database.Schema = "public"
	}

	switch config.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return nil, fmt.Errorf("invalid RECON_DB_DRIVER %q: expected sqlite3 or pgx", config.Database.Driver)
	}

	switch config.Ingest.KeyLookupFailure {
	case LookupFail, LookupAssumeNone:
	default:
		return nil, fmt.Errorf("invalid RECON_KEY_LOOKUP_FAILURE %q: expected %s or %s",
			config.Ingest.KeyLookupFailure, LookupFail, LookupAssumeNone)
	}

	if _, err := time.LoadLocation(config.Timezone); err != nil {
		return nil, fmt.Errorf("invalid RECON_TIMEZONE %q: %w", config.Timezone, err)
	}

	return config, nil
}

// Location returns the configured reporting time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration.
// It checks if all required fields are set.
func (c *Config) Validate(required ...[]string) error {
	var missing []string

	for _, path := range required {
		if len(path) < 2 {
			continue
		}

		var value string
		switch path[0] {
		case "database":
			switch path[1] {
			case "driver":
				value = c.Database.Driver
			case "dsn":
				value = c.Database.DSN
			case "schema":
				value = c.Database.Schema
			}
		case "paths":
			switch path[1] {
			case "dataDir":
				value = c.Paths.DataDir
			case "exportDir":
				value = c.Paths.ExportDir
			}
		case "ingest":
			switch path[1] {
			case "columnAliases":
				value = c.Ingest.ColumnAliases
			}
		case "http":
			if path[1] == "addr" {
				value = c.HTTPAddr
			}
		}

		if value == "" {
			missing = append(missing, strings.Join(path, "."))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v\nPlease check your .env file or environment variables", missing)
	}

	return nil
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

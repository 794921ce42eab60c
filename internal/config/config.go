package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database DatabaseConfig
	Embedder EmbedderConfig
	Matching MatchingConfig
	Auth     AuthConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbedderConfig struct {
	URL string // Face embedding service URL (defaults to http://localhost:8000)
	Dim int    // Embedding dimensionality (defaults to 128)
}

// MatchingConfig carries the knobs the decision engine needs. The earlier
// prototypes disagreed on both values (0.6 vs 0.7 threshold, naive UTC vs
// local-offset day windows); they are explicit configuration here, never
// process-wide defaults baked into the matching code.
type MatchingConfig struct {
	Threshold float64 // Maximum accepted L2 distance
	Timezone  string  // IANA zone name for day-boundary computation
	Status    string  // Status written on recognition (present/absent/late)
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// fileDefaults mirrors the embedded defaults.yaml file.
type fileDefaults struct {
	Matching struct {
		Threshold float64 `yaml:"threshold"`
		Timezone  string  `yaml:"timezone"`
		Status    string  `yaml:"status"`
	} `yaml:"matching"`
	Embedding struct {
		Dim int `yaml:"dim"`
	} `yaml:"embedding"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envString reads an environment variable, falling back to a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults fileDefaults
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedder: EmbedderConfig{
			URL: envString("EMBEDDER_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", defaults.Embedding.Dim),
		},
		Matching: MatchingConfig{
			Threshold: envFloat("MATCH_THRESHOLD", defaults.Matching.Threshold),
			Timezone:  envString("ATTENDANCE_TIMEZONE", defaults.Matching.Timezone),
			Status:    envString("ATTENDANCE_STATUS", defaults.Matching.Status),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  time.Duration(envInt("JWT_TTL_MINUTES", 30)) * time.Minute,
		},
	}
}

// Location resolves the configured timezone. Every day-boundary computation
// must go through the same zone; loading it once at startup keeps the ledger
// and the engine in agreement.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Matching.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Matching.Timezone, err)
	}
	return loc, nil
}

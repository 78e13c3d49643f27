package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cueprep/cueprep/internal/constants"
	"github.com/cueprep/cueprep/internal/domain"
)

// Config holds all application configuration. Values resolve in order:
// defaults, then an optional YAML file, then environment variables.
type Config struct {
	Port         string
	DBPath       string
	LibraryDirs  []string
	Workers      int
	QueueDepth   int
	TaskTimeout  time.Duration
	BatchPolicy  string
	WatchLibrary bool
	LogLevel     string
	LogFormat    string
	LogFile      string
	Enrichment   Enrichment
}

// Enrichment configures the optional MusicBrainz metadata lookup.
type Enrichment struct {
	Enabled  bool
	BaseURL  string
	CacheTTL time.Duration
}

// fileConfig mirrors Config for YAML decoding. Pointer and string fields
// distinguish "absent" from zero values so the file only overrides what it
// sets.
type fileConfig struct {
	Port         string   `yaml:"port"`
	DBPath       string   `yaml:"db_path"`
	LibraryDirs  []string `yaml:"library_dirs"`
	Workers      *int     `yaml:"workers"`
	QueueDepth   *int     `yaml:"queue_depth"`
	TaskTimeout  string   `yaml:"task_timeout"`
	BatchPolicy  string   `yaml:"batch_policy"`
	WatchLibrary *bool    `yaml:"watch_library"`
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"`
	LogFile      string   `yaml:"log_file"`
	Enrichment   struct {
		Enabled  *bool  `yaml:"enabled"`
		BaseURL  string `yaml:"base_url"`
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"enrichment"`
}

// Load builds the configuration. path may be empty; when set, the YAML file
// must exist and parse.
func Load(path string) (*Config, error) {
	// A .env alongside the binary is a convenience for desktop installs.
	_ = godotenv.Load()

	cfg := &Config{
		Port:        constants.DefaultPort,
		DBPath:      constants.DefaultDBPath,
		Workers:     constants.DefaultWorkers,
		QueueDepth:  constants.DefaultQueueDepth,
		TaskTimeout: constants.DefaultTaskTimeout,
		BatchPolicy: constants.DefaultBatchPolicy,
		LogLevel:    "info",
		LogFormat:   "text",
		Enrichment: Enrichment{
			BaseURL:  "https://musicbrainz.org/ws/2",
			CacheTTL: constants.DefaultCacheTTL,
		},
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if len(fc.LibraryDirs) > 0 {
		c.LibraryDirs = fc.LibraryDirs
	}
	if fc.Workers != nil {
		c.Workers = *fc.Workers
	}
	if fc.QueueDepth != nil {
		c.QueueDepth = *fc.QueueDepth
	}
	if fc.TaskTimeout != "" {
		d, err := time.ParseDuration(fc.TaskTimeout)
		if err != nil {
			return fmt.Errorf("task_timeout: %w", err)
		}
		c.TaskTimeout = d
	}
	if fc.BatchPolicy != "" {
		c.BatchPolicy = fc.BatchPolicy
	}
	if fc.WatchLibrary != nil {
		c.WatchLibrary = *fc.WatchLibrary
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.LogFormat = fc.LogFormat
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.Enrichment.Enabled != nil {
		c.Enrichment.Enabled = *fc.Enrichment.Enabled
	}
	if fc.Enrichment.BaseURL != "" {
		c.Enrichment.BaseURL = fc.Enrichment.BaseURL
	}
	if fc.Enrichment.CacheTTL != "" {
		d, err := time.ParseDuration(fc.Enrichment.CacheTTL)
		if err != nil {
			return fmt.Errorf("enrichment.cache_ttl: %w", err)
		}
		c.Enrichment.CacheTTL = d
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	if dirs := os.Getenv("LIBRARY_DIRS"); dirs != "" {
		c.LibraryDirs = splitDirs(dirs)
	}
	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.QueueDepth = getEnvInt("QUEUE_DEPTH", c.QueueDepth)
	c.TaskTimeout = getEnvDuration("TASK_TIMEOUT", c.TaskTimeout)
	c.BatchPolicy = getEnv("BATCH_POLICY", c.BatchPolicy)
	c.WatchLibrary = getEnvBool("WATCH_LIBRARY", c.WatchLibrary)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.Enrichment.Enabled = getEnvBool("ENRICHMENT_ENABLED", c.Enrichment.Enabled)
	c.Enrichment.BaseURL = getEnv("MUSICBRAINZ_URL", c.Enrichment.BaseURL)
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	// Validate Port
	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	// Validate DBPath
	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}

	// Validate Workers
	if c.Workers < 1 {
		errors = append(errors, fmt.Sprintf("WORKERS must be at least 1, got: %d", c.Workers))
	}

	// Validate QueueDepth
	if c.QueueDepth < 1 {
		errors = append(errors, fmt.Sprintf("QUEUE_DEPTH must be at least 1, got: %d", c.QueueDepth))
	}

	// Validate TaskTimeout
	if c.TaskTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("TASK_TIMEOUT must be positive, got: %s", c.TaskTimeout))
	}

	// Validate BatchPolicy
	if !domain.BatchPolicy(c.BatchPolicy).IsValid() {
		errors = append(errors, fmt.Sprintf("BATCH_POLICY must be one of: partial, failfast, got: %s", c.BatchPolicy))
	}

	// Validate LogLevel
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	// Validate LogFormat
	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	// Validate Enrichment
	if c.Enrichment.Enabled && c.Enrichment.BaseURL == "" {
		errors = append(errors, "MUSICBRAINZ_URL cannot be empty when enrichment is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitDirs(s string) []string {
	var dirs []string
	for _, part := range strings.Split(s, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			dirs = append(dirs, part)
		}
	}
	return dirs
}

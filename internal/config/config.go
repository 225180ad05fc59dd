// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all server configuration
type Config struct {
	Port                   string
	DBPath                 string
	UploadDir              string   // Chunk staging area; per-upload dirs live under .partial/
	FinalDir               string   // Destination for reassembled files
	MaxFileSize            int64    // Maximum declared file size in bytes
	MaxChunkSize           int64    // Maximum size of a single chunk request body
	AllowedExtensions      []string // Extension allow-list; empty = unrestricted
	LogFile                string   // Optional append-only log sink
	ShutdownTimeoutSeconds int
	MaxChunkCount          int // Upper bound on chunks per upload
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		DBPath:                 getEnv("DB_PATH", "./shardlift.db"),
		UploadDir:              getEnv("UPLOAD_DIR", "./uploads"),
		FinalDir:               getEnv("FINAL_DIR", "./files"),
		MaxFileSize:            getEnvInt64("MAX_FILE_SIZE", 1073741824), // 1GB default
		MaxChunkSize:           getEnvInt64("MAX_CHUNK_SIZE", 33554432), // 32MB default
		AllowedExtensions:      getEnvList("ALLOWED_EXTENSIONS", ""),
		LogFile:                getEnv("LOG_FILE", ""), // Optional
		ShutdownTimeoutSeconds: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		MaxChunkCount:          getEnvInt("MAX_CHUNK_COUNT", 10000),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate ensures configuration values are sensible
func (c *Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}

	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR cannot be empty")
	}

	if c.FinalDir == "" {
		return fmt.Errorf("FINAL_DIR cannot be empty")
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}

	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}

	if c.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT_SECONDS must be positive, got %d", c.ShutdownTimeoutSeconds)
	}

	if c.MaxChunkCount <= 0 {
		return fmt.Errorf("MAX_CHUNK_COUNT must be positive, got %d", c.MaxChunkCount)
	}

	return nil
}

// IsExtensionAllowed checks a filename against the allow-list. An empty
// allow-list admits everything.
func (c *Config) IsExtensionAllowed(filename string) bool {
	if len(c.AllowedExtensions) == 0 {
		return true
	}

	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(filename[idx:])

	for _, allowed := range c.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves an int64 environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated list from environment variable
func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			// Ensure extensions start with a dot
			if !strings.HasPrefix(trimmed, ".") {
				trimmed = "." + trimmed
			}
			result = append(result, strings.ToLower(trimmed))
		}
	}

	return result
}

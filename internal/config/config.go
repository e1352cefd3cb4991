package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the procmux session server
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Session configuration (resource ceilings and admission control)
	Session SessionConfig `json:"session"`

	// Execution policy configuration
	Policy PolicyConfig `json:"policy"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Database configuration
	Database DatabaseConfig `json:"database"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Debug   bool   `json:"debug"`
}

// SessionConfig holds session resource ceilings. Values are resolved once at
// session creation and frozen per session; changing them later only affects
// new sessions.
type SessionConfig struct {
	MaxWallSec         int           `json:"max_wall_sec"`
	IdleTimeoutSec     int           `json:"idle_timeout_sec"`
	MaxOutputBytes     int64         `json:"max_output_bytes"`
	RingBufferBytes    int           `json:"ring_buffer_bytes"`
	MaxSessionsPerUser int           `json:"max_sessions_per_user"`
	TerminateGraceSec  int           `json:"terminate_grace_sec"`
	PollReadBytes      int64         `json:"poll_read_bytes"`
	IndexStrideBytes   int64         `json:"index_stride_bytes"`
	CleanupInterval    time.Duration `json:"cleanup_interval"`
}

// PolicyConfig holds execution policy configuration
type PolicyConfig struct {
	DefaultProfile  string   `json:"default_profile"`
	AllowedBinaries []string `json:"allowed_binaries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
	Output string `json:"output"` // "stderr", "stdout", or file path
}

// DatabaseConfig holds durable store configuration
type DatabaseConfig struct {
	Enable  bool   `json:"enable"`
	DataDir string `json:"data_dir"`
}

// DefaultConfig returns a configuration with safe production defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "procmux",
			Version: "1.0.0",
			Debug:   false,
		},
		Session: SessionConfig{
			MaxWallSec:         21600, // 6 hours
			IdleTimeoutSec:     1200,  // 20 minutes
			MaxOutputBytes:     5 * 1024 * 1024,
			RingBufferBytes:    64 * 1024,
			MaxSessionsPerUser: 3,
			TerminateGraceSec:  2,
			PollReadBytes:      12000,
			IndexStrideBytes:   8 * 1024,
			CleanupInterval:    30 * time.Second,
		},
		Policy: PolicyConfig{
			DefaultProfile:  "balanced",
			AllowedBinaries: []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Database: DatabaseConfig{
			Enable:  true,
			DataDir: defaultDataDir(),
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.procmux"
	}
	return ".procmux"
}

// LoadConfig loads configuration from an optional JSON file and environment overrides
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(config, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func loadFromFile(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, config)
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *Config) {
	if val := os.Getenv("PROCMUX_DEBUG"); val != "" {
		config.Server.Debug = parseBool(val)
	}

	if val := os.Getenv("PROCMUX_MAX_WALL_SEC"); val != "" {
		config.Session.MaxWallSec = parseInt(val, config.Session.MaxWallSec)
	}
	if val := os.Getenv("PROCMUX_IDLE_TIMEOUT_SEC"); val != "" {
		config.Session.IdleTimeoutSec = parseInt(val, config.Session.IdleTimeoutSec)
	}
	if val := os.Getenv("PROCMUX_MAX_OUTPUT_BYTES"); val != "" {
		config.Session.MaxOutputBytes = parseInt64(val, config.Session.MaxOutputBytes)
	}
	if val := os.Getenv("PROCMUX_RING_BUFFER_BYTES"); val != "" {
		config.Session.RingBufferBytes = parseInt(val, config.Session.RingBufferBytes)
	}
	if val := os.Getenv("PROCMUX_MAX_SESSIONS_PER_USER"); val != "" {
		config.Session.MaxSessionsPerUser = parseInt(val, config.Session.MaxSessionsPerUser)
	}
	if val := os.Getenv("PROCMUX_TERMINATE_GRACE_SEC"); val != "" {
		config.Session.TerminateGraceSec = parseInt(val, config.Session.TerminateGraceSec)
	}
	if val := os.Getenv("PROCMUX_POLL_READ_BYTES"); val != "" {
		config.Session.PollReadBytes = parseInt64(val, config.Session.PollReadBytes)
	}
	if val := os.Getenv("PROCMUX_INDEX_STRIDE_BYTES"); val != "" {
		config.Session.IndexStrideBytes = parseInt64(val, config.Session.IndexStrideBytes)
	}
	if val := os.Getenv("PROCMUX_CLEANUP_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			config.Session.CleanupInterval = duration
		}
	}

	if val := os.Getenv("PROCMUX_POLICY_PROFILE"); val != "" {
		config.Policy.DefaultProfile = val
	}
	if val := os.Getenv("PROCMUX_ALLOWED_BINARIES"); val != "" {
		config.Policy.AllowedBinaries = strings.Split(val, ",")
		for i := range config.Policy.AllowedBinaries {
			config.Policy.AllowedBinaries[i] = strings.TrimSpace(config.Policy.AllowedBinaries[i])
		}
	}

	if val := os.Getenv("PROCMUX_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("PROCMUX_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("PROCMUX_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}

	if val := os.Getenv("PROCMUX_DATABASE_ENABLE"); val != "" {
		config.Database.Enable = parseBool(val)
	}
	if val := os.Getenv("PROCMUX_DATA_DIR"); val != "" {
		config.Database.DataDir = val
	}
}

// validateConfig validates the configuration values
func validateConfig(config *Config) error {
	if config.Session.MaxWallSec <= 0 {
		return fmt.Errorf("max_wall_sec must be greater than 0")
	}

	if config.Session.IdleTimeoutSec <= 0 {
		return fmt.Errorf("idle_timeout_sec must be greater than 0")
	}

	if config.Session.MaxOutputBytes <= 0 {
		return fmt.Errorf("max_output_bytes must be greater than 0")
	}

	if config.Session.RingBufferBytes <= 0 {
		return fmt.Errorf("ring_buffer_bytes must be greater than 0")
	}

	if config.Session.MaxSessionsPerUser <= 0 {
		return fmt.Errorf("max_sessions_per_user must be greater than 0")
	}

	if config.Session.TerminateGraceSec <= 0 {
		return fmt.Errorf("terminate_grace_sec must be greater than 0")
	}

	if config.Session.PollReadBytes <= 0 {
		return fmt.Errorf("poll_read_bytes must be greater than 0")
	}

	if config.Session.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be greater than 0")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	validProfiles := map[string]bool{
		"strict": true, "balanced": true, "trusted": true,
	}
	if !validProfiles[strings.ToLower(config.Policy.DefaultProfile)] {
		return fmt.Errorf("invalid policy profile: %s", config.Policy.DefaultProfile)
	}

	return nil
}

// Helper functions for parsing environment variables
func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}

func parseInt(s string, defaultVal int) int {
	if val, err := strconv.Atoi(s); err == nil {
		return val
	}
	return defaultVal
}

func parseInt64(s string, defaultVal int64) int64 {
	if val, err := strconv.ParseInt(s, 10, 64); err == nil {
		return val
	}
	return defaultVal
}

// SaveToFile saves the current configuration to a file
func (c *Config) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o644)
}

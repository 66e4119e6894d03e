package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the crawler.
type Config struct {
	// Connection behaviour of the session context
	Connection ConnectionConfig `yaml:"connection" json:"connection"`

	// Checkpoint handling for resumable crawls
	Checkpoints CheckpointConfig `yaml:"checkpoints" json:"checkpoints"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ConnectionConfig holds HTTP and retry configuration.
type ConnectionConfig struct {
	UserAgent             string        `yaml:"user_agent" json:"user_agent"`
	AppUserAgent          string        `yaml:"app_user_agent" json:"app_user_agent"`
	RequestTimeout        time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxConnectionAttempts int           `yaml:"max_connection_attempts" json:"max_connection_attempts"`
	// Sleep enables the randomized pre-request delay that spreads bursts out.
	Sleep bool `yaml:"sleep" json:"sleep"`
	// FatalStatusCodes abort a crawl immediately, without retrying.
	FatalStatusCodes []int `yaml:"fatal_status_codes" json:"fatal_status_codes"`
}

// CheckpointConfig holds resumable-iteration configuration.
type CheckpointConfig struct {
	Directory   string `yaml:"directory" json:"directory"`
	CheckExpiry bool   `yaml:"check_expiry" json:"check_expiry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
				"(KHTML, like Gecko) Chrome/104.0.0.0 Safari/537.36",
			AppUserAgent: "Instagram 273.1.0.16.72 (iPad13,8; iOS 16_3; en_US; en-US; " +
				"scale=2.00; 2048x2732; 452417278) AppleWebKit/420+",
			RequestTimeout:        300 * time.Second,
			MaxConnectionAttempts: 3,
			Sleep:                 true,
			FatalStatusCodes:      nil,
		},
		Checkpoints: CheckpointConfig{
			Directory:   ".",
			CheckExpiry: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML file. An empty path falls
// back to the default locations and is not an error if none exist.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func findConfigFile() string {
	locations := []string{
		".igcrawl.yaml",
		".igcrawl.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "igcrawl", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "igcrawl", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// LoadFromEnv overrides configuration from environment variables.
func (c *Config) LoadFromEnv() error {
	if ua := os.Getenv("IGCRAWL_USER_AGENT"); ua != "" {
		c.Connection.UserAgent = ua
	}
	if ua := os.Getenv("IGCRAWL_APP_USER_AGENT"); ua != "" {
		c.Connection.AppUserAgent = ua
	}
	if v := os.Getenv("IGCRAWL_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid IGCRAWL_REQUEST_TIMEOUT: %w", err)
		}
		c.Connection.RequestTimeout = d
	}
	if v := os.Getenv("IGCRAWL_MAX_CONNECTION_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid IGCRAWL_MAX_CONNECTION_ATTEMPTS: %q", v)
		}
		c.Connection.MaxConnectionAttempts = n
	}
	if v := os.Getenv("IGCRAWL_SLEEP"); v != "" {
		c.Connection.Sleep = strings.ToLower(v) == "true"
	}
	if dir := os.Getenv("IGCRAWL_CHECKPOINT_DIR"); dir != "" {
		c.Checkpoints.Directory = dir
	}
	if level := os.Getenv("IGCRAWL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Connection.UserAgent == "" {
		errs = append(errs, errors.New("user agent is required"))
	}
	if c.Connection.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Connection.MaxConnectionAttempts <= 0 {
		errs = append(errs, errors.New("max connection attempts must be positive"))
	}
	for _, code := range c.Connection.FatalStatusCodes {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Errorf("invalid fatal status code: %d", code))
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources.
// Precedence order: environment variables > .env file > config file > defaults.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igcrawl.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/ndewijer/nepseutils/internal/meroshare"
	"github.com/ndewijer/nepseutils/internal/resilience"
	"github.com/ndewijer/nepseutils/internal/vault"
)

// Config holds all configuration for the application
type Config struct {
	Vault    VaultConfig
	Portal   PortalConfig
	Retry    RetryConfig
	Log      LogConfig
	Notify   NotifyConfig
	Legacy   LegacyConfig
	Password string // Vault password for non-interactive runs
}

// VaultConfig holds vault file configuration
type VaultConfig struct {
	Path string
}

// PortalConfig holds MeroShare client configuration
type PortalConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RetryConfig holds the retry policy for portal calls
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// Policy converts the configuration to a resilience.Policy.
func (r RetryConfig) Policy() resilience.Policy {
	return resilience.Policy{Attempts: r.Attempts, Delay: r.Delay}
}

// LogConfig holds logger overrides. An empty Level means the vault's
// persisted level applies.
type LogConfig struct {
	Level  string
	Pretty bool
}

// NotifyConfig holds Telegram notifier configuration
type NotifyConfig struct {
	Interval time.Duration
	APIBase  string
}

// LegacyConfig points at the pre-versioning data file
type LegacyConfig struct {
	Path string
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "~"
	}

	timeout, err := getDuration("NEPSEUTILS_PORTAL_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	delay, err := getDuration("NEPSEUTILS_RETRY_DELAY", resilience.DefaultDelay)
	if err != nil {
		return nil, err
	}
	interval, err := getDuration("NEPSEUTILS_NOTIFY_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	attempts, err := getInt("NEPSEUTILS_RETRY_ATTEMPTS", resilience.DefaultAttempts)
	if err != nil {
		return nil, err
	}
	pretty, err := getBool("NEPSEUTILS_LOG_PRETTY", true)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Vault: VaultConfig{
			Path: getEnv("NEPSEUTILS_VAULT", vault.DefaultPath()),
		},
		Portal: PortalConfig{
			BaseURL: getEnv("NEPSEUTILS_PORTAL_URL", meroshare.DefaultBaseURL),
			Timeout: timeout,
		},
		Retry: RetryConfig{
			Attempts: attempts,
			Delay:    delay,
		},
		Log: LogConfig{
			Level:  getEnv("NEPSEUTILS_LOG_LEVEL", ""),
			Pretty: pretty,
		},
		Notify: NotifyConfig{
			Interval: interval,
			APIBase:  getEnv("NEPSEUTILS_TELEGRAM_API", "https://api.telegram.org"),
		},
		Legacy: LegacyConfig{
			Path: getEnv("NEPSEUTILS_LEGACY_PATH", filepath.Join(home, ".nepseutils", "data.db")),
		},
		Password: os.Getenv("NEPSEUTILS_PASSWORD"),
	}

	if config.Retry.Attempts < 1 {
		return nil, fmt.Errorf("NEPSEUTILS_RETRY_ATTEMPTS must be at least 1, got %d", config.Retry.Attempts)
	}

	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries all runtime settings. The safety limits and timer
// periods are fixed protocol constants shared with the robot agent; only
// the fields read by LoadFromEnv vary between deployments.
type Config struct {
	Port        int
	LogLevel    string
	HistoryPath string // empty disables the audit store

	MaxLinearVelocity  float64
	MaxAngularVelocity float64
	TelemetryRateHz    int

	ControlIdleTimeout time.Duration
	RobotTimeout       time.Duration
	PingInterval       time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration

	StaleReapInterval time.Duration
	IdleReapInterval  time.Duration

	// Per-operator inbound frame limiting.
	ClientFramesPerSecond float64
	ClientFrameBurst      int

	// Outbound queue depth per socket before drop-oldest kicks in.
	SendQueueSize int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:        8080,
		LogLevel:    "info",
		HistoryPath: "./relay-history.db",

		MaxLinearVelocity:  0.5,
		MaxAngularVelocity: 1.5,
		TelemetryRateHz:    2,

		ControlIdleTimeout: 60 * time.Second,
		RobotTimeout:       60 * time.Second,
		PingInterval:       30 * time.Second,
		ReadTimeout:        75 * time.Second,
		WriteTimeout:       10 * time.Second,

		StaleReapInterval: 30 * time.Second,
		IdleReapInterval:  10 * time.Second,

		ClientFramesPerSecond: 20,
		ClientFrameBurst:      40,

		SendQueueSize: 64,
	}
}

// LoadFromEnv builds a Config from defaults overlaid with environment
// variables. A .env file in the working directory is honored if present.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if path, ok := os.LookupEnv("HISTORY_PATH"); ok {
		cfg.HistoryPath = path
	}

	return cfg
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxLinearVelocity <= 0 {
		return fmt.Errorf("max linear velocity must be positive")
	}
	if c.MaxAngularVelocity <= 0 {
		return fmt.Errorf("max angular velocity must be positive")
	}
	if c.ControlIdleTimeout <= 0 {
		return fmt.Errorf("control idle timeout must be positive")
	}
	if c.RobotTimeout <= 0 {
		return fmt.Errorf("robot timeout must be positive")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}
	if c.ReadTimeout <= c.PingInterval {
		return fmt.Errorf("read timeout must exceed ping interval")
	}
	if c.StaleReapInterval <= 0 || c.IdleReapInterval <= 0 {
		return fmt.Errorf("reaper intervals must be positive")
	}
	if c.ClientFramesPerSecond <= 0 || c.ClientFrameBurst <= 0 {
		return fmt.Errorf("client frame rate limits must be positive")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send queue size must be positive")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

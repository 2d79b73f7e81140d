// Package config loads the ensemble's runtime configuration from the
// environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// EnsembleConfig holds all configuration for an ensemble of replicas
// plus the client harness launched alongside them.
type EnsembleConfig struct {
	N         int             `json:"n"`
	F         int             `json:"f"`
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// ServerConfig holds HTTP server configuration shared by every replica
// and the client, plus the port layout used to derive per-node
// addresses.
type ServerConfig struct {
	Host         string        `json:"host"`
	BasePort     int           `json:"base_port"`
	ClientPort   int           `json:"client_port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level"`
}

// RateLimitConfig sets the per-client-IP token bucket that the
// replica and client HTTP servers apply to every inbound request.
type RateLimitConfig struct {
	RequestsPerSecond int `json:"requests_per_second"`
	Burst             int `json:"burst"`
}

// Load loads configuration from environment variables.
func Load() *EnsembleConfig {
	return &EnsembleConfig{
		N: getEnvInt("PBFT_N", 4),
		F: getEnvInt("PBFT_F", 1),
		Server: ServerConfig{
			Host:         getEnv("PBFT_HOST", "127.0.0.1"),
			BasePort:     getEnvInt("PBFT_BASE_PORT", 8000),
			ClientPort:   getEnvInt("PBFT_CLIENT_PORT", 9000),
			ReadTimeout:  time.Duration(getEnvInt("PBFT_READ_TIMEOUT_SECONDS", 5)) * time.Second,
			WriteTimeout: time.Duration(getEnvInt("PBFT_WRITE_TIMEOUT_SECONDS", 5)) * time.Second,
			IdleTimeout:  time.Duration(getEnvInt("PBFT_IDLE_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Logging: LoggingConfig{
			Level: getEnv("PBFT_LOG_LEVEL", "info"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvInt("PBFTCTL_RATE_LIMIT_RPS", 50),
			Burst:             getEnvInt("PBFTCTL_RATE_LIMIT_BURST", 10),
		},
	}
}

// ReplicaAddr returns the host:port a replica with the given id binds to.
func (c *EnsembleConfig) ReplicaAddr(id int) string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.BasePort+id)
}

// ClientAddr returns the host:port the client binds to.
func (c *EnsembleConfig) ClientAddr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.ClientPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// Package config provides configuration for the co-pilot server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Durable run store. PostgresURL takes precedence over DatabaseURL.
	DatabaseURL string
	PostgresURL string

	// Agent service
	AgentURL     string
	AgentAPIKey  string
	AgentTimeout time.Duration
	Mode         string // COPILOT_MODE; MOCK selects the canned agent

	// Source-control host
	GitHubToken         string
	GitHubRepo          string
	GitHubAPIURL        string
	GitHubWebhookSecret string

	// Pipeline
	WorkerPoolSize       int
	MaxPipelineEvents    int
	MaxPipelineRuns      int
	RehydrateLimit       int
	StepPollInterval     time.Duration
	ObserverPollInterval time.Duration
	PublishReports       bool
	ShareStepContext     bool

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8000),
		DatabaseURL:          getEnv("DATABASE_URL", "file:copilot.db?cache=shared&mode=rwc"),
		PostgresURL:          getEnv("POSTGRES_URL", ""),
		AgentURL:             getEnv("AGENT_URL", "http://localhost:5601/api/agent_builder/converse"),
		AgentAPIKey:          getEnv("AGENT_API_KEY", ""),
		AgentTimeout:         time.Duration(getEnvInt("AGENT_TIMEOUT_MS", 120000)) * time.Millisecond,
		Mode:                 getEnv("COPILOT_MODE", ""),
		GitHubToken:          getEnv("GITHUB_TOKEN", ""),
		GitHubRepo:           getEnv("GITHUB_REPO", "elastic/elasticsearch"),
		GitHubAPIURL:         getEnv("GITHUB_API_URL", "https://api.github.com"),
		GitHubWebhookSecret:  getEnv("GITHUB_WEBHOOK_SECRET", ""),
		WorkerPoolSize:       getEnvInt("WORKER_POOL_SIZE", 8),
		MaxPipelineEvents:    getEnvInt("MAX_PIPELINE_EVENTS", 5000),
		MaxPipelineRuns:      getEnvInt("MAX_PIPELINE_RUNS", 500),
		RehydrateLimit:       getEnvInt("REHYDRATE_LIMIT", 100),
		StepPollInterval:     time.Duration(getEnvInt("STEP_POLL_INTERVAL_MS", 100)) * time.Millisecond,
		ObserverPollInterval: time.Duration(getEnvInt("OBSERVER_POLL_INTERVAL_MS", 100)) * time.Millisecond,
		PublishReports:       getEnvBool("PUBLISH_REPORTS", false),
		ShareStepContext:     getEnvBool("SHARE_STEP_CONTEXT", false),
		PingInterval:         time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:         time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:          time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:       int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

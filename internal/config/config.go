// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SeedResetOnStart wipes and reseeds the database at every boot.
const SeedResetOnStart = "onStart"

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	DBPath         string
	SessionSecret  string
	SessionTTL     time.Duration
	FileRoot       string
	FlagSecret     string
	SeedReset      string
	GRPCHealthAddr string

	Model           ModelConfig
	Agent           AgentConfig
	Chat            ChatConfig
	ConversationLog ConversationLogConfig
}

// ModelConfig points at the Ollama backend.
type ModelConfig struct {
	Host        string
	Name        string
	Temperature float64
	Timeout     time.Duration
}

// AgentConfig tunes the tool-calling loop.
type AgentConfig struct {
	RemoteToolTimeout time.Duration
	SoftMaxToolCalls  int
}

// ChatConfig limits chat traffic per user.
type ChatConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "4000"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/app.db"),
		SessionSecret:  getEnv("SESSION_SECRET", "demo-session-secret"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		FileRoot:       getEnv("FILE_ROOT", "./storage"),
		FlagSecret:     getEnv("FLAG_SECRET", "FLAG"),
		SeedReset:      getEnv("SEED_RESET", SeedResetOnStart),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		Model: ModelConfig{
			Host:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
			Name:        getEnv("OLLAMA_MODEL", "llama3.1"),
			Temperature: getEnvFloat("OLLAMA_TEMPERATURE", 0.2),
			Timeout:     getEnvDuration("MODEL_TIMEOUT", 120*time.Second),
		},
		Agent: AgentConfig{
			RemoteToolTimeout: getEnvDuration("REMOTE_TOOL_TIMEOUT", 15*time.Second),
			SoftMaxToolCalls:  getEnvInt("UC_SOFT_MAX_TOOL_CALLS", 8),
		},
		Chat: ChatConfig{
			RateLimit:  getEnvInt("CHAT_RATE_LIMIT", 30),
			RateWindow: getEnvDuration("CHAT_RATE_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Model.Host == "" {
		return fmt.Errorf("OLLAMA_HOST cannot be empty")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("OLLAMA_MODEL cannot be empty")
	}
	if c.FileRoot == "" {
		return fmt.Errorf("FILE_ROOT cannot be empty")
	}
	if c.Agent.SoftMaxToolCalls <= 0 {
		return fmt.Errorf("UC_SOFT_MAX_TOOL_CALLS must be > 0")
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT and CHAT_RATE_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ResetOnStart reports whether boot should wipe the database before seeding.
func (c *Config) ResetOnStart() bool {
	return c.SeedReset == SeedResetOnStart
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

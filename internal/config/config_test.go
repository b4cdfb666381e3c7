package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "SESSION_TTL", "OLLAMA_MODEL", "SEED_RESET", "CHAT_RATE_WINDOW"} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "4000" {
		t.Errorf("Port = %q, want 4000", cfg.Port)
	}
	if cfg.DBPath != "./data/app.db" {
		t.Errorf("DBPath = %q, want ./data/app.db", cfg.DBPath)
	}
	if cfg.Model.Name != "llama3.1" {
		t.Errorf("Model.Name = %q, want llama3.1", cfg.Model.Name)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if !cfg.ResetOnStart() {
		t.Error("expected ResetOnStart with SEED_RESET=onStart")
	}
	if cfg.Chat.RateWindow != time.Minute {
		t.Errorf("RateWindow = %v, want 1m", cfg.Chat.RateWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("MODEL_TIMEOUT", "45")
	t.Setenv("REMOTE_TOOL_TIMEOUT", "3s")
	t.Setenv("OLLAMA_TEMPERATURE", "0.7")
	t.Setenv("UC_SOFT_MAX_TOOL_CALLS", "2")
	t.Setenv("SEED_RESET", "never")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.Model.Timeout != 45*time.Second {
		t.Errorf("Model.Timeout = %v, want 45s", cfg.Model.Timeout)
	}
	if cfg.Agent.RemoteToolTimeout != 3*time.Second {
		t.Errorf("RemoteToolTimeout = %v, want 3s", cfg.Agent.RemoteToolTimeout)
	}
	if cfg.Model.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", cfg.Model.Temperature)
	}
	if cfg.Agent.SoftMaxToolCalls != 2 {
		t.Errorf("SoftMaxToolCalls = %d, want 2", cfg.Agent.SoftMaxToolCalls)
	}
	if cfg.ResetOnStart() {
		t.Error("expected no reset with SEED_RESET=never")
	}
	if cfg.ConversationLog.Enabled {
		t.Error("expected conversation log disabled")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:          "4000",
			DBPath:        "app.db",
			SessionSecret: "s",
			SessionTTL:    time.Hour,
			FileRoot:      "./storage",
			Model:         ModelConfig{Host: "http://localhost:11434", Name: "llama3.1"},
			Agent:         AgentConfig{SoftMaxToolCalls: 8},
			Chat:          ChatConfig{RateLimit: 30, RateWindow: time.Minute},
			ConversationLog: ConversationLogConfig{
				Dir:        "logs",
				GlobalPath: "logs/all.ndjson",
				QueueSize:  10,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"empty secret", func(c *Config) { c.SessionSecret = "" }, "SESSION_SECRET"},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
		{"empty model", func(c *Config) { c.Model.Name = "" }, "OLLAMA_MODEL"},
		{"zero budget", func(c *Config) { c.Agent.SoftMaxToolCalls = 0 }, "UC_SOFT_MAX_TOOL_CALLS"},
		{"zero rate", func(c *Config) { c.Chat.RateLimit = 0 }, "CHAT_RATE_LIMIT"},
		{"zero queue", func(c *Config) { c.ConversationLog.QueueSize = 0 }, "CONVERSATION_LOG_QUEUE_SIZE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:4000", true},
		{"https://shop.example.com", false},
	}
	for _, tt := range tests {
		if got := (&Config{FrontendURL: tt.url}).IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

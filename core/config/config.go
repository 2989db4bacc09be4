package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process configuration in a structured way.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Trace    TraceConfig
	Agent    AgentConfig
	Worker   WorkerConfig
	Valkey   ValkeyConfig
	CORS     CORSConfig
}

type AppConfig struct {
	Port     string
	Debug    bool
	APIKey   string // master API key for admin + legacy webhook auth
	RunDir   string // holds the sockets/ directory
	Timezone string // IANA name, timestamp rendering only
}

type DatabaseConfig struct {
	URL        string // postgres DSN; empty means SQLite
	SQLitePath string
}

type TraceConfig struct {
	Enabled          bool
	RetentionDays    int
	MaxPayloadBytes  int
	IncludeSensitive bool
	SweepInterval    time.Duration
}

type AgentConfig struct {
	DefaultTimeout time.Duration // used when an instance carries no agent_timeout
}

type WorkerConfig struct {
	PoolSize  int
	QueueSize int
}

type ValkeyConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type CORSConfig struct {
	Origins     []string
	Methods     []string
	Headers     []string
	Credentials bool
}

// Global provides access to the loaded configuration (set by LoadConfig).
var Global *Config

// LoadConfig reads configuration from environment variables with defaults.
// It returns an error for settings the process cannot start without.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_port", "8882")
	v.SetDefault("app_debug", false)
	v.SetDefault("run_dir", "./run")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("sqlite_database_path", "./data/omni.db")
	v.SetDefault("trace.enabled", true)
	v.SetDefault("trace.retention_days", 30)
	v.SetDefault("trace.max_payload_bytes", 1048576)
	v.SetDefault("trace.include_sensitive", false)
	v.SetDefault("trace.sweep_interval_minutes", 60)
	v.SetDefault("agent.default_timeout_seconds", 60)
	v.SetDefault("worker.pool_size", 20)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("valkey.enabled", false)
	v.SetDefault("valkey.address", "localhost:6379")
	v.SetDefault("valkey.db", 0)
	v.SetDefault("valkey.key_prefix", "omni:")
	v.SetDefault("cors.origins", "*")
	v.SetDefault("cors.methods", "GET,POST,PUT,DELETE,OPTIONS")
	v.SetDefault("cors.headers", "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID")
	v.SetDefault("cors.credentials", false)

	cfg := &Config{
		App: AppConfig{
			Port:     v.GetString("app_port"),
			Debug:    v.GetBool("app_debug"),
			APIKey:   v.GetString("api_key"),
			RunDir:   v.GetString("run_dir"),
			Timezone: v.GetString("timezone"),
		},
		Database: DatabaseConfig{
			URL:        v.GetString("database_url"),
			SQLitePath: v.GetString("sqlite_database_path"),
		},
		Trace: TraceConfig{
			Enabled:          v.GetBool("trace.enabled"),
			RetentionDays:    v.GetInt("trace.retention_days"),
			MaxPayloadBytes:  v.GetInt("trace.max_payload_bytes"),
			IncludeSensitive: v.GetBool("trace.include_sensitive"),
			SweepInterval:    time.Duration(v.GetInt("trace.sweep_interval_minutes")) * time.Minute,
		},
		Agent: AgentConfig{
			DefaultTimeout: time.Duration(v.GetInt("agent.default_timeout_seconds")) * time.Second,
		},
		Worker: WorkerConfig{
			PoolSize:  v.GetInt("worker.pool_size"),
			QueueSize: v.GetInt("worker.queue_size"),
		},
		Valkey: ValkeyConfig{
			Enabled:   v.GetBool("valkey.enabled"),
			Address:   v.GetString("valkey.address"),
			Password:  v.GetString("valkey.password"),
			DB:        v.GetInt("valkey.db"),
			KeyPrefix: v.GetString("valkey.key_prefix"),
		},
		CORS: CORSConfig{
			Origins:     splitList(v.GetString("cors.origins")),
			Methods:     splitList(v.GetString("cors.methods")),
			Headers:     splitList(v.GetString("cors.headers")),
			Credentials: v.GetBool("cors.credentials"),
		},
	}

	if cfg.App.APIKey == "" {
		return nil, fmt.Errorf("API_KEY is required")
	}
	if _, err := time.LoadLocation(cfg.App.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.App.Timezone, err)
	}
	if cfg.Trace.MaxPayloadBytes <= 0 {
		return nil, fmt.Errorf("TRACE_MAX_PAYLOAD_BYTES must be positive")
	}
	if cfg.Trace.RetentionDays <= 0 {
		return nil, fmt.Errorf("TRACE_RETENTION_DAYS must be positive")
	}

	Global = cfg
	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

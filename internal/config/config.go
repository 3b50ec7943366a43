// Package config provides typed YAML configuration for the Chat Server,
// with environment-variable override layering in the style of the
// reference codebase this platform was ported from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultConnMaxLifetime = 30 * time.Minute
	defaultTokenExpiry     = 24 * time.Hour
	defaultHotTierTTL      = time.Hour
)

// Config is the top-level configuration for the Chat Server process.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	LLM           LLMConfig           `yaml:"llm"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads, parses, defaults, and validates the configuration file at path.
// It resolves $include directives and rejects unknown YAML fields.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyAuthDefaults(&cfg.Auth)
	applySessionDefaults(&cfg.Session)
	applyLLMDefaults(&cfg.LLM)
	applySandboxDefaults(&cfg.Sandbox)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaultConnMaxLifetime
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.TokenExpiry == 0 {
		cfg.TokenExpiry = defaultTokenExpiry
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.HotTier.MaxMessages == 0 {
		cfg.HotTier.MaxMessages = 200
	}
	if cfg.HotTier.TTL == 0 {
		cfg.HotTier.TTL = defaultHotTierTTL
	}
	if cfg.AutoCheckpointThreshold == 0 {
		cfg.AutoCheckpointThreshold = 50
	}
	applyDatabaseDefaults(&cfg.ColdTier)
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
}

func applySandboxDefaults(cfg *SandboxConfig) {
	defaults := DefaultSandboxConfig()
	if cfg.ReplicaCount == 0 {
		cfg.ReplicaCount = defaults.ReplicaCount
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = defaults.MaxSessions
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.MaxTimeout == 0 {
		cfg.MaxTimeout = defaults.MaxTimeout
	}
	if cfg.MaxCodeSize == 0 {
		cfg.MaxCodeSize = defaults.MaxCodeSize
	}
	if cfg.VsockPort == 0 {
		cfg.VsockPort = defaults.VsockPort
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaults.IdleTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("CHATSERVER_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("CHATSERVER_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("DATABASE_URL")); value != "" {
		cfg.Database.DSN = value
	}
	if value := strings.TrimSpace(os.Getenv("JWT_SECRET")); value != "" {
		cfg.Auth.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("SANDBOX_BEARER_TOKEN")); value != "" {
		cfg.Sandbox.BearerToken = value
	}
	if value := strings.TrimSpace(os.Getenv("SANDBOX_URL")); value != "" {
		cfg.Sandbox.URLs = []string{value}
	}
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Session.HotTier.MaxMessages < 0 {
		issues = append(issues, "session.hot_tier.max_messages must be >= 0")
	}
	if cfg.Session.AutoCheckpointThreshold < 0 {
		issues = append(issues, "session.auto_checkpoint_threshold must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	seenKeys := map[string]struct{}{}
	for i, entry := range cfg.Auth.APIKeys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be set", i))
			continue
		}
		if _, ok := seenKeys[key]; ok {
			issues = append(issues, fmt.Sprintf("auth.api_keys[%d].key must be unique", i))
		} else {
			seenKeys[key] = struct{}{}
		}
	}

	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" {
		if len(jwtSecret) < 32 {
			issues = append(issues, "auth.jwt_secret must be at least 32 characters for security")
		}
	}

	if cfg.Sandbox.PoolSize < 0 {
		issues = append(issues, "sandbox.pool_size must be >= 0")
	}
	if cfg.Sandbox.MaxSessions < 0 {
		issues = append(issues, "sandbox.max_sessions must be >= 0")
	}
	if cfg.Sandbox.MaxCodeSize < 0 {
		issues = append(issues, "sandbox.max_code_size must be >= 0")
	}
	if cfg.Sandbox.DefaultTimeout > 0 && cfg.Sandbox.MaxTimeout > 0 && cfg.Sandbox.DefaultTimeout > cfg.Sandbox.MaxTimeout {
		issues = append(issues, "sandbox.default_timeout must not exceed sandbox.max_timeout")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}

package config

import "time"

// AuthConfig controls JWT bearer-token validation for the Chat Server's
// optional user auth (see internal/auth). Sandbox service auth uses its own
// shared bearer token, configured separately under SandboxConfig.
type AuthConfig struct {
	Enabled     bool           `yaml:"enabled"`
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Key    string `yaml:"key"`
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
}

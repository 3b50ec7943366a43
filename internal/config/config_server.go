package config

import "time"

// ServerConfig configures the Chat Server's own HTTP listener.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

// DatabaseConfig configures the cold-tier relational store (the
// sessions/messages tables). Any driver with JSON columns and row locks
// works; see internal/sessions.CockroachStore.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

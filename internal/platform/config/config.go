package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Audit    AuditConfig    `koanf:"audit"`
	RBAC     RBACConfig     `koanf:"rbac"`
	Admin    AdminConfig    `koanf:"admin"`
	CORS     CORSConfig     `koanf:"cors"`
}

type AuthConfig struct {
	DevMode bool      `koanf:"devmode"`
	JWT     JWTConfig `koanf:"jwt"`
}

type JWTConfig struct {
	SigningKey  string `koanf:"signingkey"`
	Issuer      string `koanf:"issuer"`
	ExpiryHours int    `koanf:"expiryhours"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuditConfig tunes the async denial logger. Administration mutations
// are recorded synchronously and ignore these settings.
type AuditConfig struct {
	BufferSize      int `koanf:"buffer_size"`
	BatchSize       int `koanf:"batch_size"`
	FlushIntervalMs int `koanf:"flush_interval_ms"`
}

type RBACConfig struct {
	BatchConcurrency int `koanf:"batch_concurrency"`
}

type AdminConfig struct {
	RateLimit      int `koanf:"rate_limit"`
	RateWindowSecs int `koanf:"rate_window_secs"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":              8080,
		"server.host":              "0.0.0.0",
		"database.max_conns":       25,
		"database.migrations_path": "migrations",
		"log.level":                "info",
		"log.format":               "json",
		"auth.devmode":             false,
		"auth.jwt.issuer":          "promoterhub",
		"auth.jwt.expiryhours":     24,
		"audit.buffer_size":        4096,
		"audit.batch_size":         100,
		"audit.flush_interval_ms":  500,
		"rbac.batch_concurrency":   8,
		"admin.rate_limit":         30,
		"admin.rate_window_secs":   60,
		"cors.allowed_origins":     []string{"http://localhost:3000"},
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything
	// PROMOTERHUB_SERVER_PORT -> server.port
	// Keys with underscores (max_conns) can only be set from YAML.
	_ = k.Load(env.Provider("PROMOTERHUB_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "PROMOTERHUB_")),
			"_", ".",
		)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

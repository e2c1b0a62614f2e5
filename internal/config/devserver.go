package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultJWTSecret    = "change-me-jwt-secret"
	defaultSeedPassword = "password123"
)

// DevServerConfig configures the emulated marketplace backend.
type DevServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	DatabaseURL  string        `mapstructure:"database_url"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	JWTTTL       time.Duration `mapstructure:"jwt_ttl"`
	SeedPassword string        `mapstructure:"seed_password"`
}

// ValidateDevServer checks the devserver section.
func (c *Config) ValidateDevServer() error {
	d := c.DevServer
	if strings.TrimSpace(d.Addr) == "" {
		return fmt.Errorf("devserver.addr must not be empty")
	}
	if strings.TrimSpace(d.DatabaseURL) == "" {
		return fmt.Errorf("devserver.database_url must not be empty")
	}
	if d.JWTTTL <= 0 {
		return fmt.Errorf("devserver.jwt_ttl must be > 0")
	}

	if isProdLike(c.AppEnv) {
		if isEmptyOrDefault(d.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release devserver.jwt_secret must be set and not default")
		}
		if isEmptyOrDefault(d.SeedPassword, defaultSeedPassword) {
			return fmt.Errorf("in prod/release devserver.seed_password must be set and not default")
		}
	}

	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

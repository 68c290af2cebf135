package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                 string        `mapstructure:"ENV"`
	HTTPAddr            string        `mapstructure:"HTTP_ADDR"`
	GRPCAddr            string        `mapstructure:"GRPC_ADDR"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns      int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	LogFormat           string        `mapstructure:"LOG_FORMAT"`
	SessionSecret       string        `mapstructure:"SESSION_SECRET"`
	SessionTTL          time.Duration `mapstructure:"SESSION_TTL"`
	SessionCookieName   string        `mapstructure:"SESSION_COOKIE_NAME"`
	SessionBackend      string        `mapstructure:"SESSION_BACKEND"`
	SessionRefreshGuard bool          `mapstructure:"SESSION_REFRESH_ON_GUARD"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	IdPMode             string        `mapstructure:"IDP_MODE"`
	IdPURL              string        `mapstructure:"IDP_URL"`
	IdPAPIKey           string        `mapstructure:"IDP_API_KEY"`
	IdPJWTSecret        string        `mapstructure:"IDP_JWT_SECRET"`
	IdPCookieName       string        `mapstructure:"IDP_COOKIE_NAME"`
	AuditTimeout        time.Duration `mapstructure:"AUDIT_TIMEOUT"`
	LoginRatePerSec     float64       `mapstructure:"LOGIN_RATE_PER_SEC"`
	LoginRateBurst      int           `mapstructure:"LOGIN_RATE_BURST"`
	CORSAllowedOrigins  []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`
	TrustedProxies      []string      `mapstructure:"TRUSTED_PROXIES"`
}

var keys = []string{
	"ENV", "HTTP_ADDR", "GRPC_ADDR", "DATABASE_URL", "DB_MAX_OPEN_CONNS",
	"LOG_LEVEL", "LOG_FORMAT",
	"SESSION_SECRET", "SESSION_TTL", "SESSION_COOKIE_NAME", "SESSION_BACKEND", "SESSION_REFRESH_ON_GUARD",
	"REDIS_URL",
	"IDP_MODE", "IDP_URL", "IDP_API_KEY", "IDP_JWT_SECRET", "IDP_COOKIE_NAME",
	"AUDIT_TIMEOUT", "LOGIN_RATE_PER_SEC", "LOGIN_RATE_BURST",
	"CORS_ALLOWED_ORIGINS", "TRUSTED_PROXIES",
}

// Load reads configuration from the environment, falling back to an optional
// .env file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("SESSION_COOKIE_NAME", "role_user_session")
	v.SetDefault("SESSION_BACKEND", "token")
	v.SetDefault("SESSION_REFRESH_ON_GUARD", false)
	v.SetDefault("IDP_MODE", "remote")
	v.SetDefault("IDP_COOKIE_NAME", "sb-access-token")
	v.SetDefault("AUDIT_TIMEOUT", "2s")
	v.SetDefault("LOGIN_RATE_PER_SEC", 5)
	v.SetDefault("LOGIN_RATE_BURST", 10)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// a missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	cfg.IdPMode = strings.ToLower(strings.TrimSpace(cfg.IdPMode))
	return cfg, nil
}

// IsProduction reports whether cookies must be marked Secure.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES. Bare addresses become
// single-host prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Validate checks settings that serve cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	switch c.SessionBackend {
	case "token":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be \"token\" or \"redis\", got %q", c.SessionBackend))
	}
	switch c.IdPMode {
	case "remote":
		if c.IdPURL == "" || c.IdPAPIKey == "" {
			errs = append(errs, errors.New("IDP_URL and IDP_API_KEY are required when IDP_MODE=remote"))
		}
	case "local":
		if len(c.IdPJWTSecret) < 32 {
			errs = append(errs, errors.New("IDP_JWT_SECRET must be at least 32 bytes when IDP_MODE=local"))
		}
	default:
		errs = append(errs, fmt.Errorf("IDP_MODE must be \"remote\" or \"local\", got %q", c.IdPMode))
	}
	if c.AuditTimeout <= 0 {
		errs = append(errs, errors.New("AUDIT_TIMEOUT must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

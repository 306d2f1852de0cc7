// Package config reads the gateway settings from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the gateway configuration.
type Config struct {
	MongoURI      string
	MongoDatabase string

	JWTSecret    string
	JWTKeys      map[string]string // kid -> secret, from JWT_KEYS=kid:secret,kid2:secret2
	JWTActiveKid string
	TokenTTL     time.Duration

	Port           string
	RateLimitRPM   int
	RateLimitBurst int

	TLSCert    string
	TLSKey     string
	RequireTLS bool

	RedisURL      string
	OwnerCacheTTL time.Duration

	LogLevel       string
	LogDevelopment bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("MONGODB_DATABASE", "petmarket")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("PORT", "50051")
	v.SetDefault("RATE_LIMIT_RPM", 30)
	v.SetDefault("RATE_LIMIT_BURST", 5)
	v.SetDefault("REQUIRE_TLS", false)
	v.SetDefault("OWNER_CACHE_TTL", "10m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
}

// keys lists every setting so viper binds it to the environment.
var keys = []string{
	"MONGODB_URI", "MONGODB_DATABASE",
	"JWT_SECRET", "JWT_KEYS", "JWT_ACTIVE_KID", "TOKEN_TTL",
	"PORT", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST",
	"TLS_CERT", "TLS_KEY", "REQUIRE_TLS",
	"REDIS_URL", "OWNER_CACHE_TTL",
	"LOG_LEVEL", "LOG_DEVELOPMENT",
}

// Load reads envFiles (missing files are skipped) and then the process
// environment, which wins.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	defaults(v)
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		MongoURI:       v.GetString("MONGODB_URI"),
		MongoDatabase:  v.GetString("MONGODB_DATABASE"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		JWTActiveKid:   v.GetString("JWT_ACTIVE_KID"),
		TokenTTL:       v.GetDuration("TOKEN_TTL"),
		Port:           v.GetString("PORT"),
		RateLimitRPM:   v.GetInt("RATE_LIMIT_RPM"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
		TLSCert:        v.GetString("TLS_CERT"),
		TLSKey:         v.GetString("TLS_KEY"),
		RequireTLS:     v.GetBool("REQUIRE_TLS"),
		RedisURL:       v.GetString("REDIS_URL"),
		OwnerCacheTTL:  v.GetDuration("OWNER_CACHE_TTL"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogDevelopment: v.GetBool("LOG_DEVELOPMENT"),
	}

	if raw := v.GetString("JWT_KEYS"); raw != "" {
		parsed, err := parseKeys(raw)
		if err != nil {
			return nil, err
		}
		cfg.JWTKeys = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseKeys parses kid:secret pairs separated by commas.
func parseKeys(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kid, secret, ok := strings.Cut(p, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %q", p)
		}
		out[kid] = secret
	}
	return out, nil
}

// Validate checks the settings that have no usable default. An empty
// MongoURI selects the in-memory store.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" && len(c.JWTKeys) == 0 {
		errs = append(errs, errors.New("either JWT_SECRET or JWT_KEYS must be set"))
	}
	if len(c.JWTKeys) > 0 {
		if _, ok := c.JWTKeys[c.JWTActiveKid]; !ok {
			errs = append(errs, fmt.Errorf("JWT_ACTIVE_KID %q is not in JWT_KEYS", c.JWTActiveKid))
		}
	}
	if c.RequireTLS && (c.TLSCert == "" || c.TLSKey == "") {
		errs = append(errs, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.RateLimitRPM <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM must be positive"))
	}
	return errors.Join(errs...)
}

// TLSEnabled reports whether a certificate pair is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

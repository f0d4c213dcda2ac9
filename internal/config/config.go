// Package config loads the portal configuration from an optional YAML file,
// an optional .env file and PORTAL_* environment variables, in that order of
// precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		GRPCAddr        string        `yaml:"grpc_addr"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// UIUpstream is proxied for page routes once the guard allows them.
		UIUpstream string `yaml:"ui_upstream"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int           `yaml:"max_open_conns"`
			MaxIdleConns    int           `yaml:"max_idle_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Auth struct {
		CookieName  string `yaml:"cookie_name"`
		JWTSecret   string `yaml:"jwt_secret"`
		Issuer      string `yaml:"issuer"`
		Audience    string `yaml:"audience"`
		DevSessions bool   `yaml:"dev_sessions"`
	} `yaml:"auth"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		// memory | redis
		Driver    string  `yaml:"driver"`
		Burst     int     `yaml:"burst"`
		PerSecond float64 `yaml:"per_second"`
		Redis     struct {
			Addr   string        `yaml:"addr"`
			DB     int           `yaml:"db"`
			Prefix string        `yaml:"prefix"`
			Max    int           `yaml:"max"`
			Window time.Duration `yaml:"window"`
		} `yaml:"redis"`
	} `yaml:"rate"`

	Mail struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
		// starttls | ssl | none
		TLS      string   `yaml:"tls"`
		NotifyTo []string `yaml:"notify_to"`
	} `yaml:"mail"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Tracing struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"tracing"`
}

// Load reads path (skipped when empty), applies defaults and environment
// overrides, then validates.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadDotEnv loads KEY=VALUE pairs from files into the process environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "portal-session"
	}
	if c.Auth.Audience == "" {
		c.Auth.Audience = "authenticated"
	}
	if c.Rate.Driver == "" {
		c.Rate.Driver = "memory"
	}
	if c.Rate.Burst == 0 {
		c.Rate.Burst = 20
	}
	if c.Rate.PerSecond == 0 {
		c.Rate.PerSecond = 10
	}
	if c.Rate.Redis.Prefix == "" {
		c.Rate.Redis.Prefix = "portal:rl:"
	}
	if c.Rate.Redis.Max == 0 {
		c.Rate.Redis.Max = 600
	}
	if c.Rate.Redis.Window == 0 {
		c.Rate.Redis.Window = time.Minute
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Mail.TLS == "" {
		c.Mail.TLS = "starttls"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, postgres", c.Storage.Driver))
	}
	switch c.Rate.Driver {
	case "memory":
	case "redis":
		if c.Rate.Enabled && strings.TrimSpace(c.Rate.Redis.Addr) == "" {
			errs = append(errs, errors.New("rate.redis.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate.driver %q is not one of memory, redis", c.Rate.Driver))
	}
	if c.Rate.Burst < 1 || c.Rate.PerSecond <= 0 || c.Rate.Redis.Max < 1 || c.Rate.Redis.Window <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	switch c.Mail.TLS {
	case "starttls", "ssl", "none":
	default:
		errs = append(errs, fmt.Errorf("mail.tls %q is not one of starttls, ssl, none", c.Mail.TLS))
	}
	if c.Mail.Host != "" && (c.Mail.From == "" || len(c.Mail.NotifyTo) == 0) {
		errs = append(errs, errors.New("mail.from and mail.notify_to are required when mail.host is set"))
	}
	return errors.Join(errs...)
}

// IsProd reports whether the service runs with production settings.
func (c *Config) IsProd() bool {
	return strings.EqualFold(c.App.Env, "prod")
}

const envPrefix = "PORTAL_"

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvFloat(key string) (float64, bool) {
	if s, ok := getEnvStr(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("VERSION"); ok {
		c.App.Version = v
	}

	if v, ok := getEnvStr("ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("GRPC_ADDR"); ok {
		c.Server.GRPCAddr = v
	}
	if v, ok := getEnvInt("MAX_BODY_BYTES"); ok {
		c.Server.MaxBodyBytes = int64(v)
	}
	if v, ok := getEnvDur("READ_TIMEOUT"); ok {
		c.Server.ReadTimeout = v
	}
	if v, ok := getEnvDur("WRITE_TIMEOUT"); ok {
		c.Server.WriteTimeout = v
	}
	if v, ok := getEnvStr("UI_UPSTREAM"); ok {
		c.Server.UIUpstream = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DATABASE_URL"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvInt("DB_MAX_OPEN_CONNS"); ok {
		c.Storage.Postgres.MaxOpenConns = v
	}
	if v, ok := getEnvInt("DB_MAX_IDLE_CONNS"); ok {
		c.Storage.Postgres.MaxIdleConns = v
	}
	if v, ok := getEnvDur("DB_CONN_MAX_LIFETIME"); ok {
		c.Storage.Postgres.ConnMaxLifetime = v
	}

	if v, ok := getEnvStr("SESSION_COOKIE"); ok {
		c.Auth.CookieName = v
	}
	if v, ok := getEnvStr("JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.Auth.Issuer = v
	}
	if v, ok := getEnvStr("JWT_AUDIENCE"); ok {
		c.Auth.Audience = v
	}
	if v, ok := getEnvBool("DEV_SESSIONS"); ok {
		c.Auth.DevSessions = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("RATE_DRIVER"); ok {
		c.Rate.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvInt("RATE_BURST"); ok {
		c.Rate.Burst = v
	}
	if v, ok := getEnvFloat("RATE_PER_SECOND"); ok {
		c.Rate.PerSecond = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Rate.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Rate.Redis.DB = v
	}
	if v, ok := getEnvInt("RATE_WINDOW_MAX"); ok {
		c.Rate.Redis.Max = v
	}
	if v, ok := getEnvDur("RATE_WINDOW"); ok {
		c.Rate.Redis.Window = v
	}

	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.Mail.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.Mail.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.Mail.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.Mail.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.Mail.From = v
	}
	if v, ok := getEnvStr("SMTP_TLS"); ok {
		c.Mail.TLS = strings.ToLower(v)
	}
	if v, ok := getEnvCSV("NOTIFY_TO"); ok {
		c.Mail.NotifyTo = v
	}

	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("OTLP_ENDPOINT"); ok {
		c.Tracing.Endpoint = v
	}
}

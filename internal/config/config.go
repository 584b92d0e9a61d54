// Package config loads the service configuration from an optional YAML file
// followed by environment variables. Environment always wins.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port       string `yaml:"port"`
	ModuleName string `yaml:"module_name"`

	DatabaseURL       string        `yaml:"database_url"`
	DBHost            string        `yaml:"db_host"`
	DBPort            string        `yaml:"db_port"`
	DBUser            string        `yaml:"db_user"`
	DBPassword        string        `yaml:"db_password"`
	DBName            string        `yaml:"db_name"`
	DBSSLMode         string        `yaml:"db_sslmode"`
	DBMaxOpenConns    int           `yaml:"db_max_open_conns"`
	DBMaxIdleConns    int           `yaml:"db_max_idle_conns"`
	DBConnMaxIdle     time.Duration `yaml:"db_conn_max_idle"`
	DBConnMaxLifetime time.Duration `yaml:"db_conn_max_lifetime"`

	CacheTTL time.Duration `yaml:"cache_ttl"`

	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	StripeSecretKey     string `yaml:"stripe_secret_key"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret"`

	// PaymentsOffline accepts unsigned webhooks from the offline gateway.
	PaymentsOffline bool `yaml:"payments_offline"`

	// DevMode allows a missing JWT secret and payments without Stripe.
	DevMode bool `yaml:"dev_mode"`

	// EphemeralSecret is set when JWTSecret was generated for this process.
	EphemeralSecret bool `yaml:"-"`

	NATSURL    string `yaml:"nats_url"`
	CartDBPath string `yaml:"cart_db_path"`
	StaticDir  string `yaml:"static_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:              "8080",
		ModuleName:        "supplement-shop",
		DBPort:            "5432",
		DBUser:            "postgres",
		DBPassword:        "postgres",
		DBName:            "supplement_shop",
		DBSSLMode:         "disable",
		DBMaxOpenConns:    60,
		DBMaxIdleConns:    20,
		DBConnMaxIdle:     5 * time.Minute,
		DBConnMaxLifetime: 30 * time.Minute,
		CacheTTL:          45 * time.Second,
		SessionTTL:        7 * 24 * time.Hour,
		CartDBPath:        "carts.db",
		StaticDir:         "static",
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads the configuration and validates it for serving.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read loads defaults, then path (when non-empty), then environment
// overrides. Commands that do not serve traffic use it without Validate.
func Read(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.applyDevMode(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDevMode fills in a per-process JWT secret and enables offline
// payments when dev mode is on and they were left unset.
func (c *Config) applyDevMode() error {
	if !c.DevMode {
		return nil
	}
	if c.JWTSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(buf)
		c.EphemeralSecret = true
	}
	if c.StripeSecretKey == "" {
		c.PaymentsOffline = true
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = env("PORT", c.Port)
	c.ModuleName = env("MODULE_NAME", c.ModuleName)
	c.DatabaseURL = env("DATABASE_URL", c.DatabaseURL)
	c.DBHost = env("DB_HOST", c.DBHost)
	c.DBPort = env("DB_PORT", c.DBPort)
	c.DBUser = env("DB_USER", c.DBUser)
	c.DBPassword = env("DB_PASSWORD", c.DBPassword)
	c.DBName = env("DB_NAME", c.DBName)
	c.DBSSLMode = env("DB_SSLMODE", c.DBSSLMode)
	c.DBMaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", c.DBMaxOpenConns)
	c.DBMaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", c.DBMaxIdleConns)
	c.DBConnMaxIdle = durationEnv("DB_CONN_MAX_IDLE", c.DBConnMaxIdle)
	c.DBConnMaxLifetime = durationEnv("DB_CONN_MAX_LIFETIME", c.DBConnMaxLifetime)
	c.CacheTTL = durationEnv("CACHE_TTL", c.CacheTTL)
	c.JWTSecret = env("JWT_SECRET", c.JWTSecret)
	c.SessionTTL = durationEnv("SESSION_TTL", c.SessionTTL)
	c.StripeSecretKey = env("STRIPE_SECRET_KEY", c.StripeSecretKey)
	c.StripeWebhookSecret = env("STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret)
	c.PaymentsOffline = boolEnv("PAYMENTS_OFFLINE", c.PaymentsOffline)
	c.DevMode = boolEnv("DEV_MODE", c.DevMode)
	c.NATSURL = env("NATS_URL", c.NATSURL)
	c.CartDBPath = env("CART_DB_PATH", c.CartDBPath)
	c.StaticDir = env("STATIC_DIR", c.StaticDir)
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)
	c.LogFormat = env("LOG_FORMAT", c.LogFormat)
	c.AdminEmail = env("ADMIN_EMAIL", c.AdminEmail)
	c.AdminPassword = env("ADMIN_PASSWORD", c.AdminPassword)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required (DEV_MODE=true generates a throwaway one)")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("jwt_secret must be at least 16 characters")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return errors.New("stripe_webhook_secret is required with stripe_secret_key")
	}
	if c.StripeSecretKey == "" && !c.PaymentsOffline {
		return errors.New("stripe_secret_key is required unless payments_offline is set")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	return nil
}

// DSN returns DatabaseURL or assembles one from the DB_* parts. An empty
// string means no database is configured.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func boolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

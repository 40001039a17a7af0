// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
//
// Browser security settings (login page, remember-me validity, exempt paths)
// live in SecurityProperties and may additionally be overridden from a YAML
// file named by SECURITY_CONFIG. They are loaded once and never mutated.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Store backends selectable through TOKEN_STORE and CHALLENGE_STORE.
const (
	StoreSQL    = "sql"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Event bus backends selectable through EVENTS_BACKEND.
const (
	EventsGoChannel = "gochannel"
	EventsRedis     = "redis"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for CORS and redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds session and password hashing settings.
	Auth AuthConfig

	// Stores selects the backends for remember-me tokens and challenges.
	Stores StoreConfig

	// Events configures the security event bus.
	Events EventsConfig

	// SMTP configures theft alert mail. Alerts are off when Host is empty.
	SMTP SMTPConfig

	// TrustedProxies are the CIDRs whose forwarding headers are believed
	// when resolving the client IP.
	TrustedProxies []string

	// CSRFEnabled turns on the double-submit cookie check. Off by default
	// because browser logins are posted from the server-rendered form and
	// the login flow predates token-bearing forms.
	CSRFEnabled bool

	// Security holds the browser security properties.
	Security SecurityProperties
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// orchestrators can manage each independently. If DATABASE_URL is set, it
// takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "sentinel").
	User string

	// Password is the MariaDB password (default: "sentinel").
	Password string

	// Name is the database name (default: "sentinel").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely escape passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds session and credential settings.
type AuthConfig struct {
	// SessionTTL is how long a browser session lasts in Redis.
	SessionTTL time.Duration

	// BcryptCost is the work factor used when hashing new passwords.
	BcryptCost int

	// LoginRateLimit is the number of login submissions allowed per IP per minute.
	LoginRateLimit int
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string

	// Encryption is "starttls", "ssl" or "none".
	Encryption string
}

// StoreConfig selects storage backends.
type StoreConfig struct {
	// Token is the remember-me token repository: "sql", "redis" or "memory".
	Token string

	// Challenge is the CAPTCHA challenge store: "redis" or "memory".
	Challenge string
}

// EventsConfig configures watermill publishing of security events.
type EventsConfig struct {
	// Backend is "gochannel" (in-process) or "redis" (Redis Streams).
	Backend string

	// ConsumerGroup is the Redis Streams consumer group for the event log.
	ConsumerGroup string
}

// Load reads configuration from environment variables with sensible defaults,
// then applies the optional YAML security properties file.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "sentinel"),
			Password:        getEnv("DB_PASSWORD", "sentinel"),
			Name:            getEnv("DB_NAME", "sentinel"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SessionTTL:     getEnvDuration("SESSION_TTL", 720*time.Hour),
			BcryptCost:     getEnvInt("BCRYPT_COST", 10),
			LoginRateLimit: getEnvInt("LOGIN_RATE_LIMIT", 10),
		},

		Stores: StoreConfig{
			Token:     strings.ToLower(getEnv("TOKEN_STORE", StoreSQL)),
			Challenge: strings.ToLower(getEnv("CHALLENGE_STORE", StoreRedis)),
		},

		Events: EventsConfig{
			Backend:       strings.ToLower(getEnv("EVENTS_BACKEND", EventsGoChannel)),
			ConsumerGroup: getEnv("EVENTS_CONSUMER_GROUP", "sentinel-securitylog"),
		},

		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", ""),
			Port:        getEnvInt("SMTP_PORT", 587),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			FromAddress: getEnv("SMTP_FROM", "sentinel@localhost"),
			FromName:    getEnv("SMTP_FROM_NAME", "Sentinel"),
			Encryption:  strings.ToLower(getEnv("SMTP_ENCRYPTION", "starttls")),
		},

		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{
			"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fd00::/8",
		}),

		CSRFEnabled: getEnvBool("CSRF_ENABLED", false),
	}

	security := DefaultSecurityProperties()
	security.Browser.LoginPage = getEnv("LOGIN_PAGE", security.Browser.LoginPage)
	security.Browser.RememberMeSeconds = getEnvInt("REMEMBER_ME_SECONDS", security.Browser.RememberMeSeconds)
	security.Browser.LoginType = LoginResponseType(strings.ToUpper(getEnv("LOGIN_TYPE", string(security.Browser.LoginType))))

	if path := getEnv("SECURITY_CONFIG", ""); path != "" {
		if err := security.MergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := security.Validate(); err != nil {
		return nil, err
	}
	cfg.Security = security

	switch cfg.Stores.Token {
	case StoreSQL, StoreRedis, StoreMemory:
	default:
		return nil, fmt.Errorf("TOKEN_STORE must be one of sql, redis, memory (got %q)", cfg.Stores.Token)
	}
	switch cfg.Stores.Challenge {
	case StoreRedis, StoreMemory:
	default:
		return nil, fmt.Errorf("CHALLENGE_STORE must be one of redis, memory (got %q)", cfg.Stores.Challenge)
	}
	switch cfg.SMTP.Encryption {
	case "starttls", "ssl", "none":
	default:
		return nil, fmt.Errorf("SMTP_ENCRYPTION must be one of starttls, ssl, none (got %q)", cfg.SMTP.Encryption)
	}
	switch cfg.Events.Backend {
	case EventsGoChannel, EventsRedis:
	default:
		return nil, fmt.Errorf("EVENTS_BACKEND must be one of gochannel, redis (got %q)", cfg.Events.Backend)
	}

	// In-memory stores lose state on restart and do not share it between
	// replicas, so production must use a real backend.
	if !cfg.IsDevelopment() {
		if cfg.Stores.Token == StoreMemory || cfg.Stores.Challenge == StoreMemory {
			return nil, fmt.Errorf("memory stores are not allowed outside development")
		}
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var or returns the default.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Credential modes for calling serving endpoints.
const (
	CredentialModeEnv       = "env"
	CredentialModeForwarded = "forwarded"
	CredentialModeOAuth     = "oauth"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	Serving  ServingConfig
	Agents   AgentsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimitRPS float64
	RateBurst    int
	StaticDir    string // chat frontend build; not served when empty
}

// ServingConfig describes how upstream serving endpoints are reached.
type ServingConfig struct {
	Host           string
	Token          string //nolint:gosec // G117: upstream credential config
	ClientID       string
	ClientSecret   string //nolint:gosec // G117: upstream credential config
	Timeout        time.Duration
	CredentialMode string
}

// AgentsConfig points at the agent catalog.
type AgentsConfig struct {
	CatalogPath string
	DefaultID   string
}

// DatabaseConfig holds PostgreSQL connection settings. Trace persistence is
// disabled when Host is empty.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
	Migrate  bool
}

// RedisConfig holds Redis connection settings. Live follow is disabled when
// Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds management API auth settings. The API is open when Secret
// is empty.
type JWTConfig struct {
	Secret    string //nolint:gosec // G117: JWT signing secret config
	AccessTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("MASGATE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("MASGATE_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMigrate, err := getEnvBool("MASGATE_DB_MIGRATE", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("MASGATE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	accessTTL, err := getEnvDuration("MASGATE_JWT_ACCESS_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("MASGATE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("MASGATE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	servingTimeout, err := getEnvDuration("MASGATE_SERVING_TIMEOUT", 300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateRPS, err := getEnvFloat("MASGATE_RATE_LIMIT_RPS", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("MASGATE_RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:         getEnv("MASGATE_SERVER_ADDR", ":8000"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("MASGATE_CORS_ORIGINS", []string{"http://localhost:3000"}),
			RateLimitRPS: rateRPS,
			RateBurst:    rateBurst,
			StaticDir:    getEnv("MASGATE_STATIC_DIR", ""),
		},
		Serving: ServingConfig{
			Host:           getEnv("DATABRICKS_HOST", ""),
			Token:          getEnv("DATABRICKS_TOKEN", ""),
			ClientID:       getEnv("DATABRICKS_CLIENT_ID", ""),
			ClientSecret:   getEnv("DATABRICKS_CLIENT_SECRET", ""),
			Timeout:        servingTimeout,
			CredentialMode: strings.ToLower(getEnv("MASGATE_CREDENTIAL_MODE", CredentialModeEnv)),
		},
		Agents: AgentsConfig{
			CatalogPath: getEnv("MASGATE_AGENTS_FILE", "agents.yaml"),
			DefaultID:   getEnv("MASGATE_DEFAULT_AGENT", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("MASGATE_DB_HOST", ""),
			Port:     dbPort,
			User:     getEnv("MASGATE_DB_USER", "masgate"),
			Password: getEnv("MASGATE_DB_PASSWORD", ""),
			DBName:   getEnv("MASGATE_DB_NAME", "masgate"),
			SSLMode:  getEnv("MASGATE_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
			Migrate:  dbMigrate,
		},
		Redis: RedisConfig{
			Addr:     getEnv("MASGATE_REDIS_ADDR", ""),
			Password: getEnv("MASGATE_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:    getEnv("MASGATE_JWT_SECRET", ""),
			AccessTTL: accessTTL,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	switch c.Serving.CredentialMode {
	case CredentialModeEnv, CredentialModeForwarded:
	case CredentialModeOAuth:
		if c.Serving.ClientID == "" || c.Serving.ClientSecret == "" {
			return errors.New("DATABRICKS_CLIENT_ID and DATABRICKS_CLIENT_SECRET are required for oauth credential mode")
		}
		if c.Serving.Host == "" {
			return errors.New("DATABRICKS_HOST is required for oauth credential mode")
		}
	default:
		return fmt.Errorf("MASGATE_CREDENTIAL_MODE must be env, forwarded or oauth, got %q", c.Serving.CredentialMode)
	}

	if c.Serving.Host == "" {
		log.Warn().Msg("DATABRICKS_HOST is not set; upstream calls will fail until credentials resolve a host")
	}

	if c.JWT.Secret == "" {
		log.Warn().Msg("MASGATE_JWT_SECRET is not set; management API is unauthenticated")
	} else if len(c.JWT.Secret) < 32 {
		return errors.New("MASGATE_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.Enabled() {
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("MASGATE_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("MASGATE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
		if c.Database.SSLMode == "disable" {
			log.Warn().Msg("MASGATE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
	}

	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("MASGATE_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("MASGATE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("MASGATE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Serving.Timeout <= 0 {
		return fmt.Errorf("MASGATE_SERVING_TIMEOUT must be positive, got %s", c.Serving.Timeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("MASGATE_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("MASGATE_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateBurst)
	}

	return nil
}

// Enabled reports whether trace persistence is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Enabled reports whether live follow over Redis is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

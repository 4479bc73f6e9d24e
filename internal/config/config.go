package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreFile     = "file"
	StorePostgres = "postgres"

	DocstoreFile  = "file"
	DocstoreMinio = "minio"

	ResetTokensStore = "store"
	ResetTokensRedis = "redis"
)

type Config struct {
	Env        string
	ServerAddr string
	LogLevel   string

	JWTSecret   string
	TokenTTL    time.Duration
	TokenIssuer string
	BcryptCost  int
	// GeneratedSecret is set when no JWT_SECRET was given in development.
	GeneratedSecret bool

	StoreBackend string
	DatabaseURL  string

	DocstorePath    string
	DocstoreBackend string

	// MinIO/S3 configuration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioObjectKey string
	MinioUseSSL    bool

	ResetTokenBackend string
	RedisAddr         string

	CRUDUpstreamURL string
	PublicRoutes    string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var errs []error

	ttl, err := parseSeconds("TOKEN_TTL", "86400s")
	errs = append(errs, err)
	shutdown, err := parseSeconds("SHUTDOWN_TIMEOUT", "15s")
	errs = append(errs, err)

	cost, err := strconv.Atoi(getEnvOrDefault("BCRYPT_COST", "10"))
	if err != nil {
		errs = append(errs, fmt.Errorf("BCRYPT_COST: %w", err))
	}

	minioUseSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("MINIO_USE_SSL: %w", err))
	}

	cfg := &Config{
		Env:               getEnvOrDefault("APP_ENV", EnvProduction),
		ServerAddr:        serverAddr(),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenTTL:          ttl,
		TokenIssuer:       getEnvOrDefault("TOKEN_ISSUER", "authgate"),
		BcryptCost:        cost,
		StoreBackend:      strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreFile)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DocstorePath:      getEnvOrDefault("DOCSTORE_PATH", "db.json"),
		DocstoreBackend:   strings.ToLower(getEnvOrDefault("DOCSTORE_BACKEND", DocstoreFile)),
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:    getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:    getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:       getEnvOrDefault("MINIO_BUCKET", "authgate"),
		MinioObjectKey:    getEnvOrDefault("MINIO_OBJECT_KEY", "db.json"),
		MinioUseSSL:       minioUseSSL,
		ResetTokenBackend: strings.ToLower(getEnvOrDefault("RESET_TOKEN_BACKEND", ResetTokensStore)),
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		CRUDUpstreamURL:   os.Getenv("CRUD_UPSTREAM_URL"),
		PublicRoutes:      os.Getenv("PUBLIC_ROUTES"),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		ShutdownTimeout:   shutdown,
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = generateDefaultSecret()
		cfg.GeneratedSecret = true
	}

	errs = append(errs, cfg.Validate())
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}

	switch c.StoreBackend {
	case StoreFile:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.DocstoreBackend {
	case DocstoreFile:
		if c.DocstorePath == "" {
			errs = append(errs, errors.New("DOCSTORE_PATH must not be empty"))
		}
	case DocstoreMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" || c.MinioObjectKey == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT, MINIO_BUCKET and MINIO_OBJECT_KEY are required when DOCSTORE_BACKEND=minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DOCSTORE_BACKEND %q", c.DocstoreBackend))
	}

	switch c.ResetTokenBackend {
	case ResetTokensStore:
	case ResetTokensRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when RESET_TOKEN_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RESET_TOKEN_BACKEND %q", c.ResetTokenBackend))
	}

	if c.CRUDUpstreamURL != "" {
		u, err := url.Parse(c.CRUDUpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("CRUD_UPSTREAM_URL %q is not an absolute url", c.CRUDUpstreamURL))
		}
	}

	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the process runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// serverAddr prefers SERVER_ADDR and falls back to PORT.
func serverAddr() string {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		return addr
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":3000"
}

// parseSeconds accepts a Go duration ("90s", "24h") or a bare number of seconds.
func parseSeconds(key, defaultValue string) (time.Duration, error) {
	raw := getEnvOrDefault(key, defaultValue)
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP              HTTPConfig
	Log               LogConfig
	DatabaseURL       string
	DocstoreURL       string
	DocstoreStateFile string
	Storage           StorageConfig
	Auth              AuthConfig
	Guard             GuardConfig
	SMTP              SMTPConfig
	ClientIdleTTL     time.Duration
	AuditLogFile      string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SecureCookies   bool
}

type LogConfig struct {
	Env   string
	Level string
}

// StorageConfig selects the backend for per-client key/value storage.
type StorageConfig struct {
	Driver        string
	StateFile     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
}

type AuthConfig struct {
	TokenSecret       string
	TokenIssuer       string
	TokenTTL          time.Duration
	ResetTokenTTL     time.Duration
	AccountStateFile  string
	AdminStrategy     string
	SupportEmail      string
	BootstrapEmail    string
	BootstrapPassword string
}

type GuardConfig struct {
	CheckTimeout time.Duration
	LoginPath    string
	LandingPath  string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	ResetURL string
}

var (
	storageDrivers  = map[string]struct{}{"memory": {}, "file": {}, "postgres": {}, "redis": {}}
	adminStrategies = map[string]struct{}{"profile-role": {}, "support-email": {}}
)

// fileConfig mirrors the optional YAML file. Every value is a default that the
// matching environment variable overrides.
type fileConfig struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`
	DatabaseURL string `yaml:"database_url"`
	DocstoreURL string `yaml:"docstore_url"`
	Storage     struct {
		Driver    string `yaml:"driver"`
		StateFile string `yaml:"state_file"`
		RedisAddr string `yaml:"redis_addr"`
		Prefix    string `yaml:"prefix"`
	} `yaml:"storage"`
	Auth struct {
		TokenIssuer   string `yaml:"token_issuer"`
		AdminStrategy string `yaml:"admin_strategy"`
		SupportEmail  string `yaml:"support_email"`
	} `yaml:"auth"`
	Guard struct {
		LoginPath   string `yaml:"login_path"`
		LandingPath string `yaml:"landing_path"`
	} `yaml:"guard"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		From     string `yaml:"from"`
		ResetURL string `yaml:"reset_url"`
	} `yaml:"smtp"`
}

func Load() (Config, error) {
	var fc fileConfig
	if path := strings.TrimSpace(os.Getenv("PORTAL_CONFIG_FILE")); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
	}

	databaseURL := getEnv("DATABASE_URL", fc.DatabaseURL)
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", or(fc.HTTP.Addr, ":8080")),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
			SecureCookies:   getEnvBool("HTTP_SECURE_COOKIES", false),
		},
		Log: LogConfig{
			Env:   getEnv("LOG_ENV", or(fc.Log.Env, "dev")),
			Level: getEnv("LOG_LEVEL", or(fc.Log.Level, "info")),
		},
		DatabaseURL:       databaseURL,
		DocstoreURL:       getEnv("DOCSTORE_URL", or(fc.DocstoreURL, databaseURL)),
		DocstoreStateFile: getEnv("DOCSTORE_STATE_FILE", "./data/documents.json"),
		Storage: StorageConfig{
			Driver:        strings.ToLower(getEnv("CLIENT_STORAGE_DRIVER", or(fc.Storage.Driver, "file"))),
			StateFile:     getEnv("CLIENT_STORAGE_STATE_FILE", or(fc.Storage.StateFile, "./data/client_storage.json")),
			RedisAddr:     getEnv("REDIS_ADDR", or(fc.Storage.RedisAddr, "127.0.0.1:6379")),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			Prefix:        getEnv("CLIENT_STORAGE_PREFIX", or(fc.Storage.Prefix, "portal")),
		},
		Auth: AuthConfig{
			TokenSecret:       getEnv("AUTH_TOKEN_SECRET", "change-me-in-production"),
			TokenIssuer:       getEnv("AUTH_TOKEN_ISSUER", or(fc.Auth.TokenIssuer, "portalgate")),
			TokenTTL:          time.Duration(getEnvInt("AUTH_TOKEN_TTL_SEC", 3600)) * time.Second,
			ResetTokenTTL:     time.Duration(getEnvInt("AUTH_RESET_TOKEN_TTL_SEC", 3600)) * time.Second,
			AccountStateFile:  getEnv("AUTH_ACCOUNT_STATE_FILE", "./data/accounts.json"),
			AdminStrategy:     strings.ToLower(getEnv("AUTH_ADMIN_STRATEGY", or(fc.Auth.AdminStrategy, "profile-role"))),
			SupportEmail:      getEnv("AUTH_SUPPORT_EMAIL", fc.Auth.SupportEmail),
			BootstrapEmail:    getEnv("AUTH_BOOTSTRAP_EMAIL", ""),
			BootstrapPassword: getEnv("AUTH_BOOTSTRAP_PASSWORD", ""),
		},
		Guard: GuardConfig{
			CheckTimeout: getEnvDuration("GUARD_CHECK_TIMEOUT", 5*time.Second),
			LoginPath:    getEnv("GUARD_LOGIN_PATH", or(fc.Guard.LoginPath, "/login")),
			LandingPath:  getEnv("GUARD_LANDING_PATH", or(fc.Guard.LandingPath, "/dashboard")),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", fc.SMTP.Host),
			Port:     getEnvInt("SMTP_PORT", orInt(fc.SMTP.Port, 587)),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", or(fc.SMTP.From, "no-reply@campushub.local")),
			ResetURL: getEnv("PASSWORD_RESET_URL", or(fc.SMTP.ResetURL, "http://localhost:8080/reset-password")),
		},
		ClientIdleTTL: getEnvDuration("CLIENT_IDLE_TTL", 30*time.Minute),
		AuditLogFile:  getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if _, ok := storageDrivers[cfg.Storage.Driver]; !ok {
		return Config{}, fmt.Errorf("CLIENT_STORAGE_DRIVER must be memory, file, postgres, or redis")
	}
	if cfg.Storage.Driver == "file" && cfg.Storage.StateFile == "" {
		return Config{}, fmt.Errorf("CLIENT_STORAGE_STATE_FILE must not be empty")
	}
	if cfg.Storage.Driver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
	}
	if cfg.Auth.TokenSecret == "" {
		return Config{}, fmt.Errorf("AUTH_TOKEN_SECRET must not be empty")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_TOKEN_TTL_SEC must be > 0")
	}
	if cfg.Auth.ResetTokenTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_RESET_TOKEN_TTL_SEC must be > 0")
	}
	if _, ok := adminStrategies[cfg.Auth.AdminStrategy]; !ok {
		return Config{}, fmt.Errorf("AUTH_ADMIN_STRATEGY must be profile-role or support-email")
	}
	if cfg.Auth.AdminStrategy == "support-email" && strings.TrimSpace(cfg.Auth.SupportEmail) == "" {
		return Config{}, fmt.Errorf("AUTH_SUPPORT_EMAIL is required for the support-email strategy")
	}
	if cfg.DatabaseURL == "" && cfg.Auth.AccountStateFile == "" {
		return Config{}, fmt.Errorf("AUTH_ACCOUNT_STATE_FILE must not be empty")
	}
	if cfg.DocstoreURL == "" && cfg.DocstoreStateFile == "" {
		return Config{}, fmt.Errorf("DOCSTORE_STATE_FILE must not be empty")
	}
	if (cfg.Auth.BootstrapEmail == "") != (cfg.Auth.BootstrapPassword == "") {
		return Config{}, fmt.Errorf("AUTH_BOOTSTRAP_EMAIL and AUTH_BOOTSTRAP_PASSWORD must be set together")
	}
	if cfg.Guard.CheckTimeout <= 0 {
		return Config{}, fmt.Errorf("GUARD_CHECK_TIMEOUT must be > 0")
	}
	if !strings.HasPrefix(cfg.Guard.LoginPath, "/") || !strings.HasPrefix(cfg.Guard.LandingPath, "/") {
		return Config{}, fmt.Errorf("GUARD_LOGIN_PATH and GUARD_LANDING_PATH must be absolute paths")
	}
	if cfg.ClientIdleTTL <= 0 {
		return Config{}, fmt.Errorf("CLIENT_IDLE_TTL must be > 0")
	}
	if cfg.AuditLogFile == "" {
		return Config{}, fmt.Errorf("AUDIT_LOG_FILE must not be empty")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvDuration accepts Go duration syntax ("750ms", "5s").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

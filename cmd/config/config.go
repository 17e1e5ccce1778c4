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

// Config holds all server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Media    MediaConfig    `yaml:"media"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            string   `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres, sqlite
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type AuthConfig struct {
	SecretKey  string `yaml:"secret_key"`
	TokenTTL   string `yaml:"token_ttl"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// MediaConfig configures the media store and upload limits.
type MediaConfig struct {
	Backend           string `yaml:"backend"` // local, cloudinary
	Dir               string `yaml:"dir"`
	BaseURL           string `yaml:"base_url"`
	TmpDir            string `yaml:"tmp_dir"`
	UploadTimeout     string `yaml:"upload_timeout"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	MaxUploadBytes    int64  `yaml:"max_upload_bytes"`
	CloudinaryURL     string `yaml:"cloudinary_url"`
	CloudinaryFolder  string `yaml:"cloudinary_folder"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			MaxOpenConns: 25,
		},
		Auth: AuthConfig{
			TokenTTL:   "168h",
			BcryptCost: 12,
		},
		Media: MediaConfig{
			Backend:           "local",
			Dir:               "uploads/images",
			BaseURL:           "/images",
			TmpDir:            "uploads/tmp",
			UploadTimeout:     "30s",
			UploadConcurrency: 4,
			MaxUploadBytes:    6 << 20,
			CloudinaryFolder:  "strings",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("SERVER_PORT", &c.Server.Port)
	setString("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	setString("DB_DRIVER", &c.Database.Driver)
	setString("DB_URL", &c.Database.URL)
	if err := setInt("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns); err != nil {
		return err
	}

	setString("SECRET_KEY", &c.Auth.SecretKey)
	setString("TOKEN_TTL", &c.Auth.TokenTTL)
	if err := setInt("BCRYPT_COST", &c.Auth.BcryptCost); err != nil {
		return err
	}

	setString("MEDIA_BACKEND", &c.Media.Backend)
	setString("MEDIA_DIR", &c.Media.Dir)
	setString("MEDIA_BASE_URL", &c.Media.BaseURL)
	setString("UPLOAD_TMP_DIR", &c.Media.TmpDir)
	setString("UPLOAD_TIMEOUT", &c.Media.UploadTimeout)
	if err := setInt("UPLOAD_CONCURRENCY", &c.Media.UploadConcurrency); err != nil {
		return err
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
		}
		c.Media.MaxUploadBytes = n
	}
	setString("CLOUDINARY_URL", &c.Media.CloudinaryURL)
	setString("CLOUDINARY_FOLDER", &c.Media.CloudinaryFolder)

	setString("LOG_LEVEL", &c.Logging.Level)
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("DB_URL is required")
	}
	if c.Auth.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	switch c.Media.Backend {
	case "local":
	case "cloudinary":
		if c.Media.CloudinaryURL == "" {
			return errors.New("CLOUDINARY_URL is required for the cloudinary media backend")
		}
	default:
		return fmt.Errorf("unsupported media backend %q", c.Media.Backend)
	}
	if c.Media.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if c.Media.UploadConcurrency <= 0 {
		return errors.New("upload concurrency must be positive")
	}
	for name, value := range map[string]string{
		"token_ttl":        c.Auth.TokenTTL,
		"upload_timeout":   c.Media.UploadTimeout,
		"shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func (c *Config) GetTokenTTL() time.Duration {
	return parseDurationOr(c.Auth.TokenTTL, 7*24*time.Hour)
}

func (c *Config) GetUploadTimeout() time.Duration {
	return parseDurationOr(c.Media.UploadTimeout, 30*time.Second)
}

func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDurationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

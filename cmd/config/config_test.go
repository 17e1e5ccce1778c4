package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, int64(6<<20), cfg.Media.MaxUploadBytes)
	assert.Equal(t, 7*24*time.Hour, cfg.GetTokenTTL())
	assert.Equal(t, 30*time.Second, cfg.GetUploadTimeout())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", "file::memory:")
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("UPLOAD_CONCURRENCY", "2")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://strings.app")

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnvOverrides())

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "s3cret", cfg.Auth.SecretKey)
	assert.Equal(t, time.Hour, cfg.GetTokenTTL())
	assert.Equal(t, 2, cfg.Media.UploadConcurrency)
	assert.Equal(t, int64(1024), cfg.Media.MaxUploadBytes)
	assert.Equal(t, []string{"http://localhost:5173", "https://strings.app"}, cfg.Server.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides_InvalidNumber(t *testing.T) {
	t.Setenv("BCRYPT_COST", "twelve")

	cfg := DefaultConfig()
	assert.Error(t, cfg.applyEnvOverrides())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "7000"
database:
  driver: sqlite
  url: strings.db
auth:
  secret_key: from-file
media:
  backend: local
  upload_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SERVER_PORT", "")
	t.Setenv("SECRET_KEY", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "strings.db", cfg.Database.URL)
	assert.Equal(t, "from-file", cfg.Auth.SecretKey)
	assert.Equal(t, 5*time.Second, cfg.GetUploadTimeout())
	// untouched keys keep their defaults
	assert.Equal(t, 4, cfg.Media.UploadConcurrency)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Database.URL = "postgres://localhost/strings"
		cfg.Auth.SecretKey = "secret"
		return cfg
	}

	require.NoError(t, valid().Validate())

	t.Run("unknown driver", func(t *testing.T) {
		cfg := valid()
		cfg.Database.Driver = "mongo"
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing secret", func(t *testing.T) {
		cfg := valid()
		cfg.Auth.SecretKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("cloudinary without url", func(t *testing.T) {
		cfg := valid()
		cfg.Media.Backend = "cloudinary"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad duration", func(t *testing.T) {
		cfg := valid()
		cfg.Media.UploadTimeout = "soon"
		assert.Error(t, cfg.Validate())
	})
}

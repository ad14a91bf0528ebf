package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_PIN", "1234")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.LongPress)
	assert.Equal(t, 10.0, cfg.ScrollThreshold)
	assert.Equal(t, 5*time.Second, cfg.ReorderTimeout)
	assert.True(t, cfg.InsecureSecret())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: "8080"
database_driver: mysql
database_dsn: "user:pw@tcp(db:3306)/collector"
pin: "9999"
jwt_secret: from-file
token_ttl: 1h
long_press: 750ms
scroll_threshold: 12.5
allowed_origins:
  - https://a.example
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://b.example, https://c.example")
	t.Setenv("REORDER_TIMEOUT", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "mysql", cfg.DatabaseDriver)
	assert.Equal(t, "9999", cfg.PIN)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.LongPress)
	assert.Equal(t, 12.5, cfg.ScrollThreshold)
	assert.Equal(t, 2*time.Second, cfg.ReorderTimeout)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.InsecureSecret())
}

func TestLoadConfig_MySQLFromParts(t *testing.T) {
	t.Setenv("APP_PIN", "1234")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("MYSQLHOST", "db.internal")
	t.Setenv("MYSQLUSER", "collector")
	t.Setenv("MYSQLPASSWORD", "secret")
	t.Setenv("MYSQLDATABASE", "emails")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	dsn, err := mysql.ParseDSN(cfg.DatabaseDSN)
	require.NoError(t, err)
	assert.Equal(t, "tcp", dsn.Net)
	assert.Equal(t, "db.internal:3306", dsn.Addr)
	assert.Equal(t, "collector", dsn.User)
	assert.Equal(t, "secret", dsn.Passwd)
	assert.Equal(t, "emails", dsn.DBName)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "no PIN configured")

	t.Setenv("APP_PIN", "1234")
	t.Setenv("DB_DRIVER", "postgres")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "unsupported database driver")

	t.Setenv("DB_DRIVER", "")
	t.Setenv("LONG_PRESS", "soon")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "invalid LONG_PRESS")

	t.Setenv("LONG_PRESS", "")
	t.Setenv("CONFIG_FILE", writeFile(t, "bad.yaml", "port: [unclosed"))
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadEnv(t *testing.T) {
	path := writeFile(t, ".env", `
# comment
export COLLECTOR_TEST_A="quoted value"
COLLECTOR_TEST_B = plain
COLLECTOR_TEST_C=from-file
malformed
`)
	t.Setenv("COLLECTOR_TEST_C", "from-env")
	t.Cleanup(func() {
		os.Unsetenv("COLLECTOR_TEST_A")
		os.Unsetenv("COLLECTOR_TEST_B")
	})

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "quoted value", os.Getenv("COLLECTOR_TEST_A"))
	assert.Equal(t, "plain", os.Getenv("COLLECTOR_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("COLLECTOR_TEST_C"))

	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}

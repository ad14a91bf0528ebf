package services

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"github.com/CrowderSoup/email-collector/database"
	"github.com/CrowderSoup/email-collector/reorder"
)

const defaultJWTSecret = "your-default-secret-key-change-in-production"

// Config holds runtime settings. Values are layered: defaults, then the YAML
// file named by CONFIG_FILE, then environment variables.
type Config struct {
	Port            string        `yaml:"port"`
	Environment     string        `yaml:"environment"`
	DatabaseDriver  string        `yaml:"database_driver"`
	DatabaseDSN     string        `yaml:"database_dsn"`
	PIN             string        `yaml:"pin"`
	PINHash         string        `yaml:"pin_hash"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	LongPress       time.Duration `yaml:"long_press"`
	ScrollThreshold float64       `yaml:"scroll_threshold"`
	Haptics         bool          `yaml:"haptics"`
	ReorderTimeout  time.Duration `yaml:"reorder_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	StaticDir       string        `yaml:"static_dir"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:            "3001",
		Environment:     "development",
		DatabaseDriver:  database.DriverSQLite,
		DatabaseDSN:     "./collector.db",
		JWTSecret:       defaultJWTSecret,
		TokenTTL:        7 * 24 * time.Hour,
		LongPress:       reorder.DefaultLongPress,
		ScrollThreshold: reorder.DefaultScrollThreshold,
		Haptics:         true,
		ReorderTimeout:  reorder.DefaultTimeout,
		AllowedOrigins:  []string{"*"},
	}
}

// LoadConfig builds the runtime configuration.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InsecureSecret reports whether the JWT secret was left at its default.
func (c *Config) InsecureSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case database.DriverSQLite, database.DriverMySQL:
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return errors.New("database dsn is empty")
	}
	if c.PIN == "" && c.PINHash == "" {
		return errors.New("no PIN configured: set APP_PIN or APP_PIN_HASH")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.Environment, "APP_ENV")
	setString(&c.DatabaseDriver, "DB_DRIVER")
	setString(&c.DatabaseDSN, "DB_DSN")
	setString(&c.PIN, "APP_PIN")
	setString(&c.PINHash, "APP_PIN_HASH")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.StaticDir, "STATIC_DIR")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	// Railway style MySQL variables, used when DB_DSN is not given
	if c.DatabaseDriver == database.DriverMySQL && os.Getenv("DB_DSN") == "" && os.Getenv("MYSQLHOST") != "" {
		c.DatabaseDSN = mysqlDSNFromEnv()
	}

	for key, dst := range map[string]*time.Duration{
		"TOKEN_TTL":       &c.TokenTTL,
		"LONG_PRESS":      &c.LongPress,
		"REORDER_TIMEOUT": &c.ReorderTimeout,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("SCROLL_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SCROLL_THRESHOLD: %w", err)
		}
		c.ScrollThreshold = f
	}

	if v := os.Getenv("HAPTICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HAPTICS: %w", err)
		}
		c.Haptics = b
	}

	return nil
}

func mysqlDSNFromEnv() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.User = os.Getenv("MYSQLUSER")
	cfg.Passwd = os.Getenv("MYSQLPASSWORD")
	cfg.DBName = os.Getenv("MYSQLDATABASE")

	port := os.Getenv("MYSQLPORT")
	if port == "" {
		port = "3306"
	}
	cfg.Addr = net.JoinHostPort(os.Getenv("MYSQLHOST"), port)

	return cfg.FormatDSN()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
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

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the YAML file. Secrets are expected
// to arrive this way rather than from the file.
const (
	EnvDatabaseDriver = "CHAPTERCAL_DATABASE_DRIVER"
	EnvDatabaseDSN    = "CHAPTERCAL_DATABASE_DSN"
	EnvJWTSecret      = "CHAPTERCAL_JWT_SECRET"
	EnvListen         = "CHAPTERCAL_LISTEN"
	EnvLogLevel       = "CHAPTERCAL_LOG_LEVEL"
	EnvMaxOccurrences = "CHAPTERCAL_MAX_OCCURRENCES"
)

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a postgres connection string or a sqlite file path.
	DSN string `yaml:"dsn" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone assumed for imported events that carry none.
	Timezone string `yaml:"timezone" json:"timezone"`

	Database DatabaseConfig `yaml:"database" json:"database"`

	// JWTSecret is the HMAC key shared with the membership service.
	JWTSecret string `yaml:"jwt_secret,omitempty" json:"-"`

	// MaxOccurrences caps a single expansion.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// SweepCron is the cron schedule (e.g. "0 3 * * *") of the integrity
	// sweep. Empty disables it.
	SweepCron string `yaml:"sweep" json:"sweep"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "UTC",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "chaptercal.db",
		},
		MaxOccurrences: 5000,
		SweepCron:      "0 3 * * *",
		LogLevel:       "info",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	case "postgresql":
		c.Database.Driver = "postgres"
	default:
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = def.Database.DSN
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = def.LogLevel
	}
}

// Load loads configuration from the given YAML path, then applies the
// environment (including a .env file next to the working directory).
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	return cfg, nil
}

// ApplyEnv loads .env (if present) and overrides fields from CHAPTERCAL_*
// variables. Variables already set in the process win over .env.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if v := os.Getenv(EnvDatabaseDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvMaxOccurrences); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New(EnvMaxOccurrences + " must be an integer")
		}
		c.MaxOccurrences = n
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
//   - Never writes the JWT secret.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()
	onDisk := *cfg
	onDisk.JWTSecret = ""

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(&onDisk)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".chaptercal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Package config loads the service configuration from a YAML file with RASID_* overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	// Embedded zone database so Asia/Tehran resolves on minimal images.
	_ "time/tzdata"

	"github.com/rasidhq/recharge/internal/util"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file name looked up when no path is given.
const DefaultConfigFile = "config.yaml"

// AppConfig carries command-line level options.
type AppConfig struct {
	ConfigPath string
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Reports  ReportsConfig  `yaml:"reports"`
	// TimeZone renders report periods and timestamps.
	TimeZone string `yaml:"timezone"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
}

// DatabaseConfig configures the database connection.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	TimeZone string `yaml:"timezone"`
	LogLevel string `yaml:"log-level"`
}

// JWTConfig configures operator bearer tokens.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	Expiry time.Duration `yaml:"expiry"`
}

// RedisConfig configures the delivery queue and event bus. An empty Addr
// selects the log-only bus.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	DeliveryQueue string `yaml:"delivery-queue"`
	EventChannel  string `yaml:"event-channel"`
	EventBacklog  string `yaml:"event-backlog"`
}

// LogConfig configures logging. An empty File logs to stdout only.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Compress   bool   `yaml:"compress"`
}

// ReportsConfig configures the monthly report.
type ReportsConfig struct {
	Dir      string `yaml:"dir"`
	Schedule bool   `yaml:"schedule"`
}

// Default returns the configuration used for every field a file leaves unset.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Database: DatabaseConfig{LogLevel: "warn"},
		JWT:      JWTConfig{Issuer: "rasid", Expiry: 24 * time.Hour},
		Log:      LogConfig{Level: "info", Format: "text", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 30},
		Reports:  ReportsConfig{Dir: "reports", Schedule: true},
		TimeZone: "Asia/Tehran",
	}
}

// ResolveConfigPath returns path when set, then RASID_CONFIG, then config.yaml
// under WRITABLE_PATH or the working directory.
func ResolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return filepath.Clean(p)
	}
	if p := strings.TrimSpace(os.Getenv("RASID_CONFIG")); p != "" {
		return filepath.Clean(p)
	}
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, DefaultConfigFile)
	}
	return DefaultConfigFile
}

// ConfigExists reports whether a config file is present at path.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads path over the defaults and applies environment overrides. A missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, errRead := os.ReadFile(path)
		switch {
		case errRead == nil:
			if errDecode := yaml.Unmarshal(raw, &cfg); errDecode != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, errDecode)
			}
		case errors.Is(errRead, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
		}
	}
	if errEnv := applyEnv(&cfg); errEnv != nil {
		return Config{}, errEnv
	}
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	cfg.Reports.Dir = util.ResolveWritable(cfg.Reports.Dir)
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if _, errLoc := time.LoadLocation(c.TimeZone); errLoc != nil {
		return fmt.Errorf("config: timezone %q: %w", c.TimeZone, errLoc)
	}
	if c.JWT.Expiry <= 0 {
		return fmt.Errorf("config: jwt expiry must be positive, got %s", c.JWT.Expiry)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Location returns the configured report timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadDatabaseDSN returns the configured DSN, failing when none is set.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn == "" {
		return "", errors.New("config: database dsn is not set (database.dsn or RASID_DATABASE_DSN)")
	}
	return dsn, nil
}

// LoadJWTConfig returns the token settings, failing when no secret is set.
func LoadJWTConfig(path string) (JWTConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return JWTConfig{}, err
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return JWTConfig{}, errors.New("config: jwt secret is not set (jwt.secret or RASID_JWT_SECRET)")
	}
	return cfg.JWT, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"RASID_HTTP_ADDR":         &cfg.Server.Addr,
		"RASID_DATABASE_DSN":      &cfg.Database.DSN,
		"RASID_DATABASE_TIMEZONE": &cfg.Database.TimeZone,
		"RASID_JWT_SECRET":        &cfg.JWT.Secret,
		"RASID_JWT_ISSUER":        &cfg.JWT.Issuer,
		"RASID_REDIS_ADDR":        &cfg.Redis.Addr,
		"RASID_REDIS_PASSWORD":    &cfg.Redis.Password,
		"RASID_LOG_LEVEL":         &cfg.Log.Level,
		"RASID_LOG_FORMAT":        &cfg.Log.Format,
		"RASID_LOG_FILE":          &cfg.Log.File,
		"RASID_REPORTS_DIR":       &cfg.Reports.Dir,
		"RASID_TIMEZONE":          &cfg.TimeZone,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("RASID_REDIS_DB")); v != "" {
		n, errParse := strconv.Atoi(v)
		if errParse != nil {
			return fmt.Errorf("config: RASID_REDIS_DB: %w", errParse)
		}
		cfg.Redis.DB = n
	}
	if v := strings.TrimSpace(os.Getenv("RASID_JWT_EXPIRY")); v != "" {
		d, errParse := time.ParseDuration(v)
		if errParse != nil {
			return fmt.Errorf("config: RASID_JWT_EXPIRY: %w", errParse)
		}
		cfg.JWT.Expiry = d
	}
	if v := strings.TrimSpace(os.Getenv("RASID_REPORTS_SCHEDULE")); v != "" {
		b, errParse := strconv.ParseBool(v)
		if errParse != nil {
			return fmt.Errorf("config: RASID_REPORTS_SCHEDULE: %w", errParse)
		}
		cfg.Reports.Schedule = b
	}
	return nil
}

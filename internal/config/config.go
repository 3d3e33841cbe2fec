package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Storage   struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`
	HTTP struct {
		Listen      string   `yaml:"listen"`
		CORSOrigins []string `yaml:"cors_origins"`
		RateLimit   struct {
			RequestsPerSecond float64       `yaml:"requests_per_second"`
			Burst             int           `yaml:"burst"`
			IdleTTL           time.Duration `yaml:"idle_ttl"`
		} `yaml:"rate_limit"`
	} `yaml:"http"`
	Ingest struct {
		MaxBatch int `yaml:"max_batch"`
	} `yaml:"ingest"`
	Recognition struct {
		PolicyPath  string `yaml:"policy_path"`
		Workers     int    `yaml:"workers"`
		WatchPolicy bool   `yaml:"watch_policy"`
	} `yaml:"recognition"`
	Sessions struct {
		IdleTimeout   time.Duration `yaml:"idle_timeout"`
		SweepSchedule string        `yaml:"sweep_schedule"`
	} `yaml:"sessions"`
	Retention struct {
		MaxAge   time.Duration `yaml:"max_age"`
		Schedule string        `yaml:"schedule"`
	} `yaml:"retention"`
	Codegen struct {
		DefaultTarget string `yaml:"default_target"`
	} `yaml:"codegen"`
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// DefaultPath is ~/.appforge/config.yaml.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".appforge", "config.yaml")
}

// Defaults returns the configuration used for any key the file leaves unset.
func Defaults() *Config {
	cfg := &Config{
		DataDir:   filepath.Join(os.Getenv("HOME"), ".appforge"),
		LogLevel:  "info",
		LogFormat: "console",
	}
	cfg.Storage.Driver = DriverFile
	cfg.HTTP.Listen = "127.0.0.1:8480"
	cfg.HTTP.CORSOrigins = []string{"*"}
	cfg.HTTP.RateLimit.RequestsPerSecond = 20
	cfg.HTTP.RateLimit.Burst = 40
	cfg.HTTP.RateLimit.IdleTTL = 10 * time.Minute
	cfg.Ingest.MaxBatch = 500
	cfg.Recognition.Workers = 4
	cfg.Sessions.IdleTimeout = 30 * time.Minute
	cfg.Sessions.SweepSchedule = "@every 1m"
	cfg.Retention.MaxAge = 30 * 24 * time.Hour
	cfg.Retention.Schedule = "@daily"
	cfg.Codegen.DefaultTarget = "react-ts"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("APPFORGE_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("APPFORGE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if listen := os.Getenv("APPFORGE_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if dsn := os.Getenv("APPFORGE_STORAGE_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
		cfg.Storage.Driver = DriverSQLite
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the rest of the program cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q", DriverFile, DriverSQLite, c.Storage.Driver))
	}
	if c.Ingest.MaxBatch <= 0 {
		errs = append(errs, errors.New("ingest.max_batch must be positive"))
	}
	if c.Recognition.Workers <= 0 {
		errs = append(errs, errors.New("recognition.workers must be positive"))
	}
	if c.HTTP.RateLimit.RequestsPerSecond < 0 || c.HTTP.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("http.rate_limit values must not be negative"))
	}
	return errors.Join(errs...)
}

// SQLiteDSN returns storage.dsn, defaulting to appforge.db in the data dir.
func (c *Config) SQLiteDSN() string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	return filepath.Join(c.DataDir, "appforge.db")
}

// PolicyPath resolves recognition.policy_path against the data dir.
// Empty means the built-in policy.
func (c *Config) PolicyPath() string {
	p := c.Recognition.PolicyPath
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(os.Getenv("HOME"), p[2:])
	}
	return filepath.Join(c.DataDir, p)
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

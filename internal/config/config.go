// Package config loads the approvals configuration from
// .approvals/config.yaml, .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Dir is the per-project directory holding config.yaml.
const Dir = ".approvals"

// File is the config file name inside Dir.
const File = "config.yaml"

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendJSONFile = "jsonfile"
	BackendRedis    = "redis"
)

// Notifier kinds.
const (
	NotifierLog  = "log"
	NotifierSMTP = "smtp"
	NotifierNone = "none"
)

// Config is the full application configuration.
// Values come from Default, then config.yaml, then the environment.
type Config struct {
	Backend  string         `yaml:"backend" env:"APPROVALS_BACKEND"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	JSONFile JSONFileConfig `yaml:"jsonfile"`
	Redis    RedisConfig    `yaml:"redis"`
	Notifier NotifierConfig `yaml:"notifier"`
	Mail     MailConfig     `yaml:"mail"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" env:"APPROVALS_SQLITE_PATH"` // empty means ~/.approvals/approvals.db
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"APPROVALS_POSTGRES_URL"`
}

type JSONFileConfig struct {
	Path string `yaml:"path" env:"APPROVALS_JSONFILE_PATH"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"APPROVALS_REDIS_ADDR"`
	Password string `yaml:"password,omitempty" env:"APPROVALS_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"APPROVALS_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"APPROVALS_REDIS_PREFIX"`
}

type NotifierConfig struct {
	Kind string     `yaml:"kind" env:"APPROVALS_NOTIFIER"`
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"APPROVALS_SMTP_HOST"`
	Port     int    `yaml:"port" env:"APPROVALS_SMTP_PORT"`
	Username string `yaml:"username,omitempty" env:"APPROVALS_SMTP_USERNAME"`
	Password string `yaml:"password,omitempty" env:"APPROVALS_SMTP_PASSWORD"`
	From     string `yaml:"from" env:"APPROVALS_SMTP_FROM"`
	// Timeout bounds one delivery, dial included.
	Timeout time.Duration `yaml:"timeout,omitempty" env:"APPROVALS_SMTP_TIMEOUT"`
}

// MailConfig holds the domains appended to usernames in notifications.
type MailConfig struct {
	ApproverDomain  string `yaml:"approver_domain" env:"APPROVALS_APPROVER_DOMAIN"`
	RequesterDomain string `yaml:"requester_domain" env:"APPROVALS_REQUESTER_DOMAIN"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"APPROVALS_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"APPROVALS_LOG_JSON"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"APPROVALS_HTTP_ADDR"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Backend:  BackendSQLite,
		JSONFile: JSONFileConfig{Path: filepath.Join(Dir, "solicitudes.json")},
		Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "approvals:"},
		Notifier: NotifierConfig{
			Kind: NotifierLog,
			SMTP: SMTPConfig{Port: 25, Timeout: 10 * time.Second},
		},
		Mail: MailConfig{
			ApproverDomain:  "gmail.com",
			RequesterDomain: "empresa.com",
		},
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Validate checks that the selected backend and notifier are fully configured.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendJSONFile:
	case BackendPostgres:
		if strings.TrimSpace(c.Postgres.URL) == "" {
			return errors.New("postgres.url is required for the postgres backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("redis.db must be non-negative, got %d", c.Redis.DB)
		}
	default:
		return fmt.Errorf("unknown backend %q (want sqlite, postgres, jsonfile or redis)", c.Backend)
	}

	switch c.Notifier.Kind {
	case NotifierLog, NotifierNone:
	case NotifierSMTP:
		if c.Notifier.SMTP.Host == "" || c.Notifier.SMTP.From == "" {
			return errors.New("notifier.smtp.host and notifier.smtp.from are required for the smtp notifier")
		}
		if c.Notifier.SMTP.Timeout < 0 {
			return fmt.Errorf("notifier.smtp.timeout must not be negative: %s", c.Notifier.SMTP.Timeout)
		}
		if c.Notifier.SMTP.Port <= 0 || c.Notifier.SMTP.Port > 65535 {
			return fmt.Errorf("notifier.smtp.port out of range: %d", c.Notifier.SMTP.Port)
		}
	default:
		return fmt.Errorf("unknown notifier %q (want log, smtp or none)", c.Notifier.Kind)
	}

	if c.Mail.ApproverDomain == "" || c.Mail.RequesterDomain == "" {
		return errors.New("mail.approver_domain and mail.requester_domain must not be empty")
	}
	return nil
}

// Path returns the config file location for the project rooted at dir.
func Path(dir string) string {
	return filepath.Join(dir, Dir, File)
}

// LoadEnv loads the given .env files, skipping the ones that do not exist.
// It returns how many files were loaded.
func LoadEnv(envFiles ...string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads config.yaml from dir (a missing file is not an error),
// applies environment overrides and validates the result.
func Load(dir string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(dir))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if _, err := LoadEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to dir/.approvals/config.yaml.
func Save(dir string, cfg *Config) error {
	cfgDir := filepath.Join(dir, Dir)
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s dir: %w", Dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(Path(dir), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

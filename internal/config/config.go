package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/pollmark/internal/inbound"
	"github.com/ppiankov/pollmark/internal/metadata"
	"github.com/ppiankov/pollmark/internal/privacy"
	"github.com/ppiankov/pollmark/internal/schedule"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile   = "config.yaml"
	DefaultStoragePath  = ".pollmark/pollmark.db"
	DefaultRetainDays   = 30
	DefaultClientType   = ClientAPI
	DefaultTokenEnv     = "POLLMARK_TOKEN"
	DefaultTimeout      = 15 * time.Second
	DefaultScheduleMode = ScheduleRateLimit
	DefaultBackend      = BackendSQLite
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultPostgresTbl  = "pollmark_markers"
)

const (
	ClientAPI  = "api"
	ClientFeed = "feed"

	ScheduleRateLimit = "rate_limit"
	ScheduleFixed     = "fixed"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Sources  []SourceConfig `yaml:"sources"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Metadata MetadataConfig `yaml:"metadata"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

type ClientConfig struct {
	Type     string   `yaml:"type"`
	BaseURL  string   `yaml:"base_url"`
	TokenEnv string   `yaml:"token_env"`
	FeedURL  string   `yaml:"feed_url"`
	Account  string   `yaml:"account"`
	Timeout  Duration `yaml:"timeout"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type SourceConfig struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Track bool   `yaml:"track"`
}

type ScheduleConfig struct {
	Mode        string   `yaml:"mode"`
	Interval    Duration `yaml:"interval"`
	MinInterval Duration `yaml:"min_interval"`
}

type MetadataConfig struct {
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"sslmode"`
	Table       string `yaml:"table"`
	MinConns    int    `yaml:"min_conns"`
	MaxConns    int    `yaml:"max_conns"`

	// Resolved from env var at load time.
	Password string `yaml:"-"`
}

// Options converts the section into store connection options.
func (p PostgresConfig) Options() metadata.PostgresOptions {
	return metadata.PostgresOptions{
		Host:     p.Host,
		Port:     p.Port,
		User:     p.User,
		Password: p.Password,
		Name:     p.Database,
		SSLMode:  p.SSLMode,
		MinConns: p.MinConns,
		MaxConns: p.MaxConns,
		Table:    p.Table,
	}
}

type StorageConfig struct {
	Path       string   `yaml:"path"`
	RetainDays int      `yaml:"retain_days"`
	Redact     []string `yaml:"redact"` // regexps masked in archived text
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Client.Type == "" {
		cfg.Client.Type = DefaultClientType
	}
	if cfg.Client.TokenEnv == "" {
		cfg.Client.TokenEnv = DefaultTokenEnv
	}
	if cfg.Client.Timeout.Duration == 0 {
		cfg.Client.Timeout.Duration = DefaultTimeout
	}
	if cfg.Schedule.Mode == "" {
		cfg.Schedule.Mode = DefaultScheduleMode
	}
	if cfg.Schedule.Interval.Duration == 0 {
		cfg.Schedule.Interval.Duration = schedule.DefaultInterval
	}
	if cfg.Schedule.MinInterval.Duration == 0 {
		cfg.Schedule.MinInterval.Duration = schedule.DefaultMinInterval
	}
	if cfg.Metadata.Backend == "" {
		cfg.Metadata.Backend = DefaultBackend
	}
	if cfg.Metadata.Postgres.Table == "" {
		cfg.Metadata.Postgres.Table = DefaultPostgresTbl
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Kind == "" {
			cfg.Sources[i].Kind = string(inbound.KindTimeline)
		}
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Client.TokenEnv != "" {
		cfg.Client.Token = os.Getenv(cfg.Client.TokenEnv)
	}
	if cfg.Metadata.Postgres.PasswordEnv != "" {
		cfg.Metadata.Postgres.Password = os.Getenv(cfg.Metadata.Postgres.PasswordEnv)
	}
}

func validate(cfg *Config) error {
	switch cfg.Client.Type {
	case ClientAPI:
		if cfg.Client.Token == "" {
			return fmt.Errorf("client: env var %s is empty (api client needs a token)", cfg.Client.TokenEnv)
		}
	case ClientFeed:
		if strings.TrimSpace(cfg.Client.FeedURL) == "" {
			return errors.New("client.feed_url: required for feed client")
		}
	default:
		return fmt.Errorf("client.type: unknown type %q (want api or feed)", cfg.Client.Type)
	}

	if len(cfg.Sources) == 0 {
		return errors.New("sources: at least one source must be configured")
	}
	seen := make(map[string]bool)
	for i, src := range cfg.Sources {
		kind, err := inbound.ParseKind(src.Kind)
		if err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if cfg.Client.Type == ClientFeed && kind != inbound.KindTimeline {
			return fmt.Errorf("sources[%d]: feed client only serves the timeline kind", i)
		}
		id := src.Kind + "/" + src.Name
		if seen[id] {
			return fmt.Errorf("sources[%d]: duplicate %s source named %q", i, src.Kind, src.Name)
		}
		seen[id] = true
	}

	switch cfg.Schedule.Mode {
	case ScheduleRateLimit, ScheduleFixed:
		// valid
	default:
		return fmt.Errorf("schedule.mode: unknown mode %q (want rate_limit or fixed)", cfg.Schedule.Mode)
	}
	if cfg.Schedule.Interval.Duration < 0 || cfg.Schedule.MinInterval.Duration < 0 {
		return errors.New("schedule: intervals must be positive")
	}

	switch cfg.Metadata.Backend {
	case BackendSQLite, BackendMemory:
		// valid
	case BackendPostgres:
		if cfg.Metadata.Postgres.Host == "" || cfg.Metadata.Postgres.Database == "" {
			return errors.New("metadata.postgres: host and database are required")
		}
	default:
		return fmt.Errorf("metadata.backend: unknown backend %q (want sqlite, postgres or memory)", cfg.Metadata.Backend)
	}

	if cfg.Storage.RetainDays < 0 {
		return errors.New("storage.retain_days: must not be negative")
	}
	if _, err := privacy.New(cfg.Storage.Redact); err != nil {
		return fmt.Errorf("storage.redact: %w", err)
	}

	switch cfg.Log.Format {
	case "json", "console":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want json or console)", cfg.Log.Format)
	}

	return nil
}

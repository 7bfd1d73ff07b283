package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/jmehdipour/clinic-recall/internal/dispatcher"
	"github.com/jmehdipour/clinic-recall/internal/service/reminders"
)

//go:embed defaults.yaml
var defaults []byte

// EnvPrefix scopes environment overrides, e.g. RECALL_MYSQL_DSN.
const EnvPrefix = "RECALL"

// ---- Root ----

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Provider   ProviderConfig   `mapstructure:"provider"`
}

// ---- Leaf structs ----

type AppConfig struct {
	Timezone string `mapstructure:"timezone"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"` // empty = in-process locking
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchWait      time.Duration `mapstructure:"batch_wait"`
}

type SchedulerConfig struct {
	Reminders    string        `mapstructure:"reminders"` // cron spec
	Controls     string        `mapstructure:"controls"`  // cron spec
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIBase        string        `mapstructure:"api_base"`
	DefaultBase    string        `mapstructure:"default_base"`
	FallbackBases  []string      `mapstructure:"fallback_bases"`
	CustomURL      string        `mapstructure:"custom_url"`
	SendPath       string        `mapstructure:"send_path"`
	InstanceID     string        `mapstructure:"instance_id"`
	Token          string        `mapstructure:"token"`
	BearerToken    string        `mapstructure:"bearer_token"`
	SenderNumber   string        `mapstructure:"sender_number"`
	ChatIDMode     bool          `mapstructure:"chat_id_mode"`
	DryRun         bool          `mapstructure:"dry_run"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Budget         time.Duration `mapstructure:"budget"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// Dispatcher converts the provider section into the adapter's config.
func (p ProviderConfig) Dispatcher() dispatcher.Config {
	return dispatcher.Config{
		BaseURL:          p.BaseURL,
		APIBase:          p.APIBase,
		DefaultBase:      p.DefaultBase,
		FallbackBases:    p.FallbackBases,
		CustomURL:        p.CustomURL,
		SendPath:         p.SendPath,
		InstanceID:       p.InstanceID,
		Token:            p.Token,
		BearerToken:      p.BearerToken,
		SenderNumber:     p.SenderNumber,
		ChatIDMode:       p.ChatIDMode,
		DryRun:           p.DryRun,
		AttemptTimeout:   p.AttemptTimeout,
		Budget:           p.Budget,
		MaxAttempts:      p.MaxAttempts,
		BreakerThreshold: p.Breaker.FailThreshold,
		BreakerOpenFor:   p.Breaker.OpenFor,
	}
}

// Location resolves app.timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.App.Timezone)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("app.timezone: %w", err))
	}
	if c.MySQL.DSN == "" {
		errs = append(errs, errors.New("mysql.dsn is required"))
	}
	if c.ClickHouse.Enabled && c.ClickHouse.DSN == "" {
		errs = append(errs, errors.New("clickhouse.dsn is required when clickhouse is enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	for name, spec := range map[string]string{
		"scheduler.reminders": c.Scheduler.Reminders,
		"scheduler.controls":  c.Scheduler.Controls,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, errors.New("scheduler.concurrency must be at least 1"))
	}
	// a live claim must outlast one full send plus its finalization
	claimTTL, budget := c.Scheduler.ClaimTTL, c.Provider.Budget
	if claimTTL <= 0 {
		claimTTL = reminders.DefaultClaimTTL
	}
	if budget <= 0 {
		budget = dispatcher.DefaultBudget
	}
	if claimTTL <= budget+reminders.FinalizeTimeout {
		errs = append(errs, fmt.Errorf("scheduler.claim_ttl (%s) must exceed provider.budget (%s) plus %s finalization",
			claimTTL, budget, reminders.FinalizeTimeout))
	}
	if c.Provider.MaxAttempts < 0 {
		errs = append(errs, errors.New("provider.max_attempts must not be negative"))
	}
	if !c.Provider.DryRun && c.Provider.CustomURL == "" && c.Provider.BaseURL == "" &&
		c.Provider.APIBase == "" && c.Provider.DefaultBase == "" && len(c.Provider.FallbackBases) == 0 {
		errs = append(errs, errors.New("provider: no endpoint configured and dry_run is off"))
	}
	return errors.Join(errs...)
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (RECALL_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	// env override (RECALL_MYSQL_DSN, RECALL_PROVIDER_BASE_URL, ...)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}


package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tablebook/internal/models"
)

type ServerConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver                 string `yaml:"driver"`
	Path                   string `yaml:"path"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	TableCacheTTLSeconds   int    `yaml:"table_cache_ttl_seconds"`
}

type RedisConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	Address                 string `yaml:"address"`
	Password                string `yaml:"password"`
	DB                      int    `yaml:"db"`
	LockPrefix              string `yaml:"lock_prefix"`
	LockTTLSeconds          int    `yaml:"lock_ttl_seconds"`
	FailoverCooldownSeconds int    `yaml:"failover_cooldown_seconds"`
}

type BookingConfig struct {
	TimeSlots        []string `yaml:"time_slots"`
	Timezone         string   `yaml:"timezone"`
	ReserveTimeoutMs int      `yaml:"reserve_timeout_ms"`
	// DepositPerGuest in minor currency units.
	DepositPerGuest int64 `yaml:"deposit_per_guest"`
	CASRetries      int   `yaml:"cas_retries"`
}

type WebhookConfig struct {
	URL            string  `yaml:"url"`
	Secret         string  `yaml:"secret"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

type EventsConfig struct {
	Workers               int           `yaml:"workers"`
	AttemptTimeoutSeconds int           `yaml:"attempt_timeout_seconds"`
	MaxAttempts           int           `yaml:"max_attempts"`
	RetryDelaysSeconds    []int         `yaml:"retry_delays_seconds"`
	LogEvents             bool          `yaml:"log_events"`
	StreamBuffer          int           `yaml:"stream_buffer"`
	Webhook               WebhookConfig `yaml:"webhook"`
	AMQP                  AMQPConfig    `yaml:"amqp"`
}

type SweeperConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	GraceMinutes    int  `yaml:"grace_minutes"`
	Parallelism     int  `yaml:"parallelism"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type MonitoringConfig struct {
	HealthCheckPort      int  `yaml:"health_check_port"`
	PrometheusEnabled    bool `yaml:"prometheus_enabled"`
	PrometheusPort       int  `yaml:"prometheus_port"`
	GRPCPort             int  `yaml:"grpc_port"`
	CheckIntervalSeconds int  `yaml:"check_interval_seconds"`
}

type HTTPConfig struct {
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Booking    BookingConfig    `yaml:"booking"`
	Events     EventsConfig     `yaml:"events"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`

	FloorPlanPath          string `yaml:"floor_plan_path"`
	FloorPlanReloadSeconds int    `yaml:"floor_plan_reload_seconds"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.Storage.Driver == "sqlite" {
		if err = os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Path == "" {
		c.Storage.Path = "data/tablebook.db"
	}
	if c.Redis.LockPrefix == "" {
		c.Redis.LockPrefix = "tablebook:lock:"
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Events.StreamBuffer <= 0 {
		c.Events.StreamBuffer = 32
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.FloorPlanPath == "" {
		c.FloorPlanPath = "configs/floor_plan.yaml"
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if len(c.Booking.TimeSlots) == 0 {
		return fmt.Errorf("booking.time_slots must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Booking.TimeSlots))
	for _, label := range c.Booking.TimeSlots {
		if _, _, err := models.TimeSlot(label).Parse(); err != nil {
			return fmt.Errorf("booking.time_slots: %w", err)
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("booking.time_slots: duplicate %q", label)
		}
		seen[label] = struct{}{}
	}
	if c.Booking.ReserveTimeoutMs < 0 {
		return fmt.Errorf("booking.reserve_timeout_ms must not be negative")
	}
	if c.Booking.DepositPerGuest < 0 {
		return fmt.Errorf("booking.deposit_per_guest must not be negative")
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}

	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) ReserveTimeout() time.Duration {
	if c.Booking.ReserveTimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Booking.ReserveTimeoutMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) ConnMaxLifetime() time.Duration {
	if c.Storage.ConnMaxLifetimeMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Storage.ConnMaxLifetimeMinutes) * time.Minute
}

func (c *Config) TableCacheTTL() time.Duration {
	if c.Storage.TableCacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Storage.TableCacheTTLSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

func (c *Config) FailoverCooldown() time.Duration {
	if c.Redis.FailoverCooldownSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Redis.FailoverCooldownSeconds) * time.Second
}

func (c *Config) EventAttemptTimeout() time.Duration {
	if c.Events.AttemptTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Events.AttemptTimeoutSeconds) * time.Second
}

// RetryDelays returns the redelivery schedule, defaulting to 1s, 5s, 30s.
func (c *Config) RetryDelays() []time.Duration {
	if len(c.Events.RetryDelaysSeconds) == 0 {
		return []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	}
	out := make([]time.Duration, 0, len(c.Events.RetryDelaysSeconds))
	for _, s := range c.Events.RetryDelaysSeconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

func (c *Config) WebhookTimeout() time.Duration {
	if c.Events.Webhook.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Events.Webhook.TimeoutSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	if c.Sweeper.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

func (c *Config) SweepGrace() time.Duration {
	if c.Sweeper.GraceMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Sweeper.GraceMinutes) * time.Minute
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) CheckInterval() time.Duration {
	if c.Monitoring.CheckIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Monitoring.CheckIntervalSeconds) * time.Second
}

func (c *Config) FloorPlanReload() time.Duration {
	if c.FloorPlanReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.FloorPlanReloadSeconds) * time.Second
}

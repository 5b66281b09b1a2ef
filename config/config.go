package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable, e.g. POLL_PORT.
const EnvPrefix = "POLL"

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

// Scheduler backends.
const (
	SchedulerTimer = "timer"
	SchedulerRedis = "redis"
)

// Notifier backends.
const (
	NotifierLog      = "log"
	NotifierRedis    = "redis"
	NotifierRocketMQ = "rocketmq"
)

type Config struct {
	Port            uint          `yaml:"port"            envconfig:"PORT"`
	GinMode         string        `yaml:"ginMode"                                 split_words:"true"`
	LogLevel        string        `yaml:"logLevel"                                split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"                         split_words:"true"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"                          split_words:"true"`

	Store       string `yaml:"store"       envconfig:"STORE"`
	DatabaseDSN string `yaml:"databaseDsn"                 split_words:"true"`
	SQLDebug    bool   `yaml:"sqlDebug"    envconfig:"SQL_DEBUG"`

	RedisAddr     string `yaml:"redisAddr"     split_words:"true"`
	RedisPassword string `yaml:"redisPassword" split_words:"true"`
	RedisDB       int    `yaml:"redisDb"       envconfig:"REDIS_DB"`

	Scheduler             string        `yaml:"scheduler"             envconfig:"SCHEDULER"`
	SchedulerPollInterval time.Duration `yaml:"schedulerPollInterval" split_words:"true"`
	SweepInterval         time.Duration `yaml:"sweepInterval"         split_words:"true"`

	Notifier            string   `yaml:"notifier"            envconfig:"NOTIFIER"`
	RocketMQNameServers []string `yaml:"rocketmqNameServers" envconfig:"ROCKETMQ_NAME_SERVERS"`
	RocketMQGroup       string   `yaml:"rocketmqGroup"       envconfig:"ROCKETMQ_GROUP"`

	// Serialize read-modify-write per bucket with a redis mutex. Needs redis.
	BucketLocking bool `yaml:"bucketLocking" split_words:"true"`

	// Per-user request rate (requests per second) and burst. 0 disables it.
	RateLimit float64 `yaml:"rateLimit" split_words:"true"`
	RateBurst int     `yaml:"rateBurst" split_words:"true"`

	// Shared secret for /api/admin. Empty disables the admin routes.
	AdminToken string `yaml:"adminToken" split_words:"true"`
}

// Default returns the configuration used when neither a file nor the
// environment override a value.
func Default() *Config {
	return &Config{
		Port:                  8080,
		GinMode:               "release",
		LogLevel:              "info",
		ShutdownTimeout:       5 * time.Second,
		AllowedOrigins:        []string{"*"},
		Store:                 StoreMemory,
		DatabaseDSN:           "chatpoll.db",
		RedisAddr:             "localhost:6379",
		Scheduler:             SchedulerTimer,
		SchedulerPollInterval: time.Second,
		SweepInterval:         24 * time.Hour,
		Notifier:              NotifierLog,
		RocketMQGroup:         "chatpoll",
		RateLimit:             5,
		RateBurst:             10,
	}
}

// Load builds the configuration from the defaults, then the YAML file at
// configFile (if not empty), then POLL_* environment variables.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the backend selections and their dependencies.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory, StoreSQLite, StoreMySQL, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if (c.Store == StoreSQLite || c.Store == StoreMySQL) && c.DatabaseDSN == "" {
		errs = append(errs, fmt.Errorf("store %q requires a database DSN", c.Store))
	}

	switch c.Scheduler {
	case SchedulerTimer, SchedulerRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown scheduler %q", c.Scheduler))
	}
	if c.SchedulerPollInterval <= 0 {
		errs = append(errs, errors.New("scheduler poll interval must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}

	switch c.Notifier {
	case NotifierLog, NotifierRedis:
	case NotifierRocketMQ:
		if len(c.RocketMQNameServers) == 0 {
			errs = append(errs, errors.New("rocketmq notifier requires at least one name server"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier %q", c.Notifier))
	}

	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limit and burst must not be negative"))
	}

	return errors.Join(errs...)
}

// UsesRedis reports whether any configured component needs a redis client.
func (c *Config) UsesRedis() bool {
	return c.Store == StoreRedis ||
		c.Scheduler == SchedulerRedis ||
		c.Notifier == NotifierRedis ||
		c.BucketLocking
}

// SlogLevel maps LogLevel to a slog level. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

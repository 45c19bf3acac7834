package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const EnvPrefix = "MAILSCHED"

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Mail       MailConfig       `mapstructure:"mail"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	HTTPAPI    HTTPAPIConfig    `mapstructure:"http_api"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mysql | memory
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
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	StatusTopic  string        `mapstructure:"status_topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Workers     int           `mapstructure:"workers"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	Autostart   bool          `mapstructure:"autostart"`
}

type WorkerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type MailConfig struct {
	From string `mapstructure:"from"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"       yaml:"open_for"`
}

type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Breaker  BreakerConfig `mapstructure:"breaker"`
}

type HTTPAPIConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Name    string        `mapstructure:"name"`
	BaseURL string        `mapstructure:"base_url"`
	Path    string        `mapstructure:"path"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type APIKey struct {
	Name         string `mapstructure:"name"`
	Key          string `mapstructure:"key"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps"`
}

type AuthConfig struct {
	APIKeys []APIKey `mapstructure:"api_keys"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (MAILSCHED_*).
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
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("merge %s: %w", path, err)
			}
		}
	}

	// env override (MAILSCHED_SCHEDULER_INTERVAL -> scheduler.interval)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return errors.New("scheduler.workers must be > 0")
	}
	if c.Scheduler.SendTimeout <= 0 {
		return errors.New("scheduler.send_timeout must be > 0")
	}
	if strings.TrimSpace(c.Mail.From) == "" {
		return errors.New("mail.from is required")
	}
	if !c.SMTP.Enabled && !c.HTTPAPI.Enabled {
		return errors.New("no mail provider enabled (smtp.enabled / http_api.enabled)")
	}
	if c.SMTP.Enabled && (c.SMTP.Host == "" || c.SMTP.Port <= 0) {
		return errors.New("smtp.host and smtp.port are required when smtp is enabled")
	}
	if c.HTTPAPI.Enabled && strings.TrimSpace(c.HTTPAPI.BaseURL) == "" {
		return errors.New("http_api.base_url is required when http_api is enabled")
	}
	switch c.Storage.Driver {
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("mysql.dsn is required for storage.driver=mysql")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

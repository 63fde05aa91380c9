package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/edulane/notify-service/pkg/messaging/redis"
)

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

type SMTPConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	FromAddress string        `mapstructure:"from_address"`
	FromName    string        `mapstructure:"from_name"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PushConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
	IconURL   string        `mapstructure:"icon_url"`
	BadgeURL  string        `mapstructure:"badge_url"`
}

// QueueConfig bounds one named queue: worker slots, admission rate and the
// claim poll cadence.
type QueueConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	RatePerMin   int           `mapstructure:"rate_per_min"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
}

type QueuesConfig struct {
	Orchestration QueueConfig `mapstructure:"orchestration"`
	Email         QueueConfig `mapstructure:"email"`
	Push          QueueConfig `mapstructure:"push"`
}

type RetryConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	EmailCap      time.Duration `mapstructure:"email_cap"`
	PushCap       time.Duration `mapstructure:"push_cap"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
}

type UnsubscribeConfig struct {
	Secret  string        `mapstructure:"secret"`
	BaseURL string        `mapstructure:"base_url"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type OpsConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AppConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Push        PushConfig        `mapstructure:"push"`
	Queues      QueuesConfig      `mapstructure:"queues"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Unsubscribe UnsubscribeConfig `mapstructure:"unsubscribe"`
	Ops         OpsConfig         `mapstructure:"ops"`
	LogPretty   bool              `mapstructure:"log_pretty"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env overrides for the values that differ between environments.
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		cfg.Database.Port, _ = strconv.Atoi(port)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("UNSUBSCRIBE_SECRET"); secret != "" {
		cfg.Unsubscribe.Secret = secret
	}

	if cfg.Unsubscribe.Secret == "" {
		return nil, fmt.Errorf("unsubscribe secret is required")
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("queues.orchestration.concurrency", 8)
	viper.SetDefault("queues.orchestration.rate_per_min", 600)
	viper.SetDefault("queues.orchestration.poll_interval", "500ms")
	viper.SetDefault("queues.orchestration.lock_timeout", "2m")
	viper.SetDefault("queues.email.concurrency", 4)
	viper.SetDefault("queues.email.rate_per_min", 120)
	viper.SetDefault("queues.email.poll_interval", "1s")
	viper.SetDefault("queues.email.lock_timeout", "2m")
	viper.SetDefault("queues.push.concurrency", 8)
	viper.SetDefault("queues.push.rate_per_min", 300)
	viper.SetDefault("queues.push.poll_interval", "1s")
	viper.SetDefault("queues.push.lock_timeout", "2m")

	viper.SetDefault("retry.base_delay", "1m")
	viper.SetDefault("retry.email_cap", "1h")
	viper.SetDefault("retry.push_cap", "30m")
	viper.SetDefault("retry.sweep_interval", "30s")
	viper.SetDefault("retry.sweep_batch", 100)

	viper.SetDefault("smtp.timeout", "15s")
	viper.SetDefault("push.timeout", "10s")
	viper.SetDefault("push.batch_size", 50)

	viper.SetDefault("unsubscribe.ttl", "720h")

	viper.SetDefault("ops.port", 8081)
	viper.SetDefault("ops.read_timeout", "5s")
	viper.SetDefault("ops.write_timeout", "10s")
}

package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Gateway    GatewayConfig   `mapstructure:"gateway"`
	Workers    WorkersConfig   `mapstructure:"workers"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type GatewayConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type WorkersConfig struct {
	MessageConcurrency      int           `mapstructure:"message_concurrency"`
	NotificationConcurrency int           `mapstructure:"notification_concurrency"`
	RetryConcurrency        int           `mapstructure:"retry_concurrency"`
	MaxRetries              int           `mapstructure:"max_retries"`
	BackoffBase             time.Duration `mapstructure:"backoff_base"`
	BackoffCap              time.Duration `mapstructure:"backoff_cap"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
}

type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Tolerance time.Duration `mapstructure:"tolerance"`
	Timezone  string        `mapstructure:"timezone"`
}

type WindowLimit struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	InstanceSend  WindowLimit `mapstructure:"instance_send"`
	InstanceDaily WindowLimit `mapstructure:"instance_daily"`
	UserCampaign  WindowLimit `mapstructure:"user_campaign"`
	UserAPI       WindowLimit `mapstructure:"user_api"`
	MessageRetry  WindowLimit `mapstructure:"message_retry"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (WACG_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (WACG_*)
	v.SetEnvPrefix("WACG")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

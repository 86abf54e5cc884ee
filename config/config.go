package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	OTP      OTPConfig      `yaml:"otp"`
	Transfer TransferConfig `yaml:"transfer"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Delivery DeliveryConfig `yaml:"delivery"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port             int           `yaml:"port"`
	ActorHeader      string        `yaml:"actor_header"`
	RateLimitPerSec  float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	StatusCacheMilli int           `yaml:"status_cache_ms"`
	StatusCacheTTL   time.Duration `yaml:"-"`
	CORSAllowOrigins []string      `yaml:"cors_allow_origins"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"` // silent, error, warn, info
}

// LogConfig sets the level shared by every subsystem logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// OTPConfig holds the one-time passcode policy.
type OTPConfig struct {
	TTLSeconds  int           `yaml:"ttl_seconds"`
	TTL         time.Duration `yaml:"-"`
	MaxAttempts int           `yaml:"max_attempts"`
	HashCost    int           `yaml:"hash_cost"`
}

// TransferConfig holds the ownership transfer policy.
type TransferConfig struct {
	AttemptTTLHours int           `yaml:"attempt_ttl_hours"`
	AttemptTTL      time.Duration `yaml:"-"`
	MaxResends      int           `yaml:"max_resends"` // -1 disables resends
}

// SweepConfig controls the background expiry of stale transfer attempts.
type SweepConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Schedule       string        `yaml:"schedule"` // cron expression
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// DeliveryConfig holds the OTP delivery worker pool and channel settings.
type DeliveryConfig struct {
	WorkerPoolSize int           `yaml:"worker_pool_size"`
	QueueSize      int           `yaml:"queue_size"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
	Mail           MailConfig    `yaml:"mail"`
	Push           PushConfig    `yaml:"push"`
}

// MailConfig holds the SMTP server used for the email channel.
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	SSL      bool   `yaml:"ssl"`
	Insecure bool   `yaml:"insecure"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its policy default and derives durations.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ActorHeader == "" {
		cfg.Server.ActorHeader = "X-Actor-ID"
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.StatusCacheMilli < 0 {
		cfg.Server.StatusCacheMilli = 0
	}
	cfg.Server.StatusCacheTTL = time.Duration(cfg.Server.StatusCacheMilli) * time.Millisecond

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.OTP.TTLSeconds <= 0 {
		cfg.OTP.TTLSeconds = 600
	}
	cfg.OTP.TTL = time.Duration(cfg.OTP.TTLSeconds) * time.Second
	if cfg.OTP.MaxAttempts <= 0 {
		cfg.OTP.MaxAttempts = 5
	}
	if cfg.OTP.HashCost <= 0 {
		cfg.OTP.HashCost = 10
	}

	if cfg.Transfer.AttemptTTLHours <= 0 {
		cfg.Transfer.AttemptTTLHours = 24
	}
	cfg.Transfer.AttemptTTL = time.Duration(cfg.Transfer.AttemptTTLHours) * time.Hour
	if cfg.Transfer.MaxResends < 0 {
		cfg.Transfer.MaxResends = 0
	} else if cfg.Transfer.MaxResends == 0 {
		cfg.Transfer.MaxResends = 3
	}

	if cfg.Sweep.Schedule == "" {
		cfg.Sweep.Schedule = "@every 1m"
	}
	if cfg.Sweep.TimeoutSeconds <= 0 {
		cfg.Sweep.TimeoutSeconds = 30
	}
	cfg.Sweep.Timeout = time.Duration(cfg.Sweep.TimeoutSeconds) * time.Second

	if cfg.Delivery.WorkerPoolSize <= 0 {
		cfg.Delivery.WorkerPoolSize = 1
	}
	if cfg.Delivery.QueueSize <= 0 {
		cfg.Delivery.QueueSize = cfg.Delivery.WorkerPoolSize * 16
	}
	if cfg.Delivery.TimeoutSeconds <= 0 {
		cfg.Delivery.TimeoutSeconds = 10
	}
	cfg.Delivery.Timeout = time.Duration(cfg.Delivery.TimeoutSeconds) * time.Second
	if cfg.Delivery.Mail.Port <= 0 {
		cfg.Delivery.Mail.Port = 587
	}
	if cfg.Delivery.Push.TTL <= 0 {
		cfg.Delivery.Push.TTL = 600
	}
}

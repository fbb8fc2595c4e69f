package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Database DatabaseConfig         `mapstructure:"database"`
	Redis    RedisConfig            `mapstructure:"redis"`
	Storage  StorageConfig          `mapstructure:"storage"`
	JWT      JWTConfig              `mapstructure:"jwt"`
	Log      LogConfig              `mapstructure:"log"`
	Queue    QueueConfig            `mapstructure:"queue"`
	Chains   map[string]ChainConfig `mapstructure:"chains"`
	Fees     FeeConfig              `mapstructure:"fees"`
	Mpesa    MpesaConfig            `mapstructure:"mpesa"`
	Tracing  TracingConfig          `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"dbname"`
	SSLMode          string        `mapstructure:"sslmode"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
	Prefix   string `mapstructure:"prefix"` // key namespace for queue structures
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig selects the escrow ledger backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	Expiry time.Duration `mapstructure:"expiry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// QueueConfig tunes the settlement queue, executor and retry scheduler.
type QueueConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	DedupTTL         time.Duration `mapstructure:"dedup_ttl"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseBackoff      time.Duration `mapstructure:"base_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	TransferTimeout  time.Duration `mapstructure:"transfer_timeout"`
	ExecutorInterval time.Duration `mapstructure:"executor_interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	StalledInterval  time.Duration `mapstructure:"stalled_interval"`
	ConfirmInterval  time.Duration `mapstructure:"confirm_interval"`
	ConfirmAfter     time.Duration `mapstructure:"confirm_after"`
	FeeSweepInterval time.Duration `mapstructure:"fee_sweep_interval"`
	GaugeInterval    time.Duration `mapstructure:"gauge_interval"`
}

// ChainConfig describes one EVM chain and the platform wallets on it.
type ChainConfig struct {
	RPCURL      string                 `mapstructure:"rpc_url"`
	ChainID     int64                  `mapstructure:"chain_id"`
	MainKey     string                 `mapstructure:"main_key"`     // hex private key, no 0x
	MainAddress string                 `mapstructure:"main_address"` // set when a controller key signs for a derived address
	FeesKey     string                 `mapstructure:"fees_key"`
	FeesAddress string                 `mapstructure:"fees_address"`
	Tokens      map[string]TokenConfig `mapstructure:"tokens"`
}

type TokenConfig struct {
	Contract string `mapstructure:"contract"`
	Decimals int32  `mapstructure:"decimals"`
}

// FeeConfig holds the tiered fee table. Amounts are decimal token units.
type FeeConfig struct {
	Tiers          []FeeTierConfig `mapstructure:"tiers"`
	SweepThreshold string          `mapstructure:"sweep_threshold"`
}

type FeeTierConfig struct {
	UpTo string `mapstructure:"up_to"` // empty = unbounded
	Fee  string `mapstructure:"fee"`
}

type MpesaConfig struct {
	Environment           string        `mapstructure:"environment"` // sandbox, production
	BaseURL               string        `mapstructure:"base_url"`    // overrides environment
	ConsumerKey           string        `mapstructure:"consumer_key"`
	ConsumerSecret        string        `mapstructure:"consumer_secret"`
	ShortCode             string        `mapstructure:"short_code"`
	Passkey               string        `mapstructure:"passkey"`
	InitiatorName         string        `mapstructure:"initiator_name"`
	SecurityCredential    string        `mapstructure:"security_credential"`
	CollectionCallbackURL string        `mapstructure:"collection_callback_url"`
	PayoutResultURL       string        `mapstructure:"payout_result_url"`
	PayoutTimeoutURL      string        `mapstructure:"payout_timeout_url"`
	RequestsPerSecond     float64       `mapstructure:"requests_per_second"`
	Burst                 int           `mapstructure:"burst"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"` // OTLP gRPC endpoint; empty disables tracing
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SETTLE_.
// Nested keys use underscore: SETTLE_DATABASE_HOST, SETTLE_QUEUE_BATCH_SIZE, etc.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.statement_timeout", "15s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "settle")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "settlement-engine")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.lease_ttl", "90s")
	v.SetDefault("queue.dedup_ttl", "1h")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.base_backoff", "30s")
	v.SetDefault("queue.max_backoff", "24h")
	v.SetDefault("queue.transfer_timeout", "60s")
	v.SetDefault("queue.executor_interval", "5s")
	v.SetDefault("queue.retry_interval", "10s")
	v.SetDefault("queue.stalled_interval", "1m")
	v.SetDefault("queue.confirm_interval", "2m")
	v.SetDefault("queue.confirm_after", "5m")
	v.SetDefault("queue.fee_sweep_interval", "1h")
	v.SetDefault("queue.gauge_interval", "15s")

	v.SetDefault("fees.sweep_threshold", "100")

	v.SetDefault("mpesa.environment", "sandbox")
	v.SetDefault("mpesa.requests_per_second", 5)
	v.SetDefault("mpesa.burst", 10)
	v.SetDefault("mpesa.timeout", "30s")

	v.SetDefault("tracing.endpoint", "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// SETTLE_QUEUE_BATCH_SIZE -> queue.batch_size
	v.SetEnvPrefix("SETTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the settlement engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.BatchSize <= 0 {
		errs = append(errs, errors.New("queue.batch_size must be positive"))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, errors.New("queue.max_attempts must be positive"))
	}
	if c.Queue.LeaseTTL <= 0 {
		errs = append(errs, errors.New("queue.lease_ttl must be positive"))
	}
	if c.Queue.TransferTimeout <= 0 {
		errs = append(errs, errors.New("queue.transfer_timeout must be positive"))
	}
	// The lease is only renewed between transfers.
	if c.Queue.LeaseTTL <= c.Queue.TransferTimeout {
		errs = append(errs, errors.New("queue.lease_ttl must exceed queue.transfer_timeout"))
	}
	if c.Queue.MaxBackoff < c.Queue.BaseBackoff {
		errs = append(errs, errors.New("queue.max_backoff must not be below queue.base_backoff"))
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q not supported", c.Storage.Driver))
	}
	if _, _, err := c.Fees.Schedule(); err != nil {
		errs = append(errs, err)
	}
	for name, chain := range c.Chains {
		for symbol, tok := range chain.Tokens {
			if tok.Decimals < 0 || tok.Decimals > 36 {
				errs = append(errs, fmt.Errorf("chains.%s.tokens.%s: decimals out of range", name, symbol))
			}
		}
	}
	return errors.Join(errs...)
}

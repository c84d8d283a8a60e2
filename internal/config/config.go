package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Carrier  CarrierConfig
	Delivery DeliveryConfig
	Sweeper  SweeperConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Log      LogConfig
}

type ServerConfig struct {
	Address       string
	PublicBaseURL string
}

// StatusCallbackURL is where the carrier posts delivery reports.
func (s ServerConfig) StatusCallbackURL() string {
	return strings.TrimRight(s.PublicBaseURL, "/") + "/v1/webhooks/carrier/status"
}

type StoreConfig struct {
	Driver      string
	PostgresURL string
}

type CarrierConfig struct {
	URL         string
	AuthToken   string
	CountryCode string
	Timeout     time.Duration
}

type DeliveryConfig struct {
	BulkConcurrency int
	PricePerSegment int64
}

type SweeperConfig struct {
	Interval    time.Duration
	QueuedAfter time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type AMQPConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}

type LogConfig struct {
	Level slog.Level
}

// LoadAll reads the configuration from the environment. Every problem is
// collected so a misconfigured deployment reports all of them at once.
func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		},
		Carrier: CarrierConfig{
			AuthToken:   os.Getenv("CARRIER_AUTH_TOKEN"),
			CountryCode: getEnv("CARRIER_COUNTRY_CODE", "1"),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: getEnv("AMQP_EXCHANGE", "messaging.events"),
		},
	}
	cfg.AMQP.Enabled = cfg.AMQP.URL != ""

	var err error
	cfg.Server.PublicBaseURL, err = requireEnv("PUBLIC_BASE_URL")
	collect(err)
	cfg.Carrier.URL, err = requireEnv("CARRIER_URL")
	collect(err)

	switch cfg.Store.Driver {
	case DriverPostgres:
		cfg.Store.PostgresURL, err = requireEnv("POSTGRES_URL")
		collect(err)
	case DriverMemory:
	default:
		collect(fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.Store.Driver))
	}

	cfg.Carrier.Timeout, err = getEnvSeconds("GATEWAY_TIMEOUT_SECONDS", 10)
	collect(err)
	cfg.Delivery.BulkConcurrency, err = getEnvInt("BULK_CONCURRENCY", 8)
	collect(err)
	price, err := getEnvInt("PRICE_PER_SEGMENT", 0)
	collect(err)
	cfg.Delivery.PricePerSegment = int64(price)
	cfg.Sweeper.Interval, err = getEnvSeconds("SWEEP_INTERVAL_SECONDS", 60)
	collect(err)
	cfg.Sweeper.QueuedAfter, err = getEnvSeconds("SWEEP_QUEUED_AFTER_SECONDS", 300)
	collect(err)

	cfg.Redis, err = loadRedisConfig()
	collect(err)

	cfg.Log.Level, err = parseLevel(getEnv("LOG_LEVEL", "info"))
	collect(err)

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvSeconds("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      ttl,
	}, errors.Join(dbErr, ttlErr)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Carrier.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Delivery.BulkConcurrency <= 0 {
		errs = append(errs, errors.New("BULK_CONCURRENCY must be > 0"))
	}
	if cfg.Delivery.PricePerSegment < 0 {
		errs = append(errs, errors.New("PRICE_PER_SEGMENT must be >= 0"))
	}
	if cfg.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Sweeper.QueuedAfter <= cfg.Carrier.Timeout {
		errs = append(errs, errors.New("SWEEP_QUEUED_AFTER_SECONDS must exceed GATEWAY_TIMEOUT_SECONDS"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvSeconds(key string, def int) (time.Duration, error) {
	n, err := getEnvInt(key, def)
	return time.Duration(n) * time.Second, err
}

func parseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", raw)
	}
	return l, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

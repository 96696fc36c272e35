package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pure-golang/certmailer/kv/noop"
	"github.com/pure-golang/certmailer/kv/redis"
)

// Provider определяет тип key-value хранилища
type Provider string

const (
	ProviderRedis Provider = "redis" // Redis хранилище
	ProviderNoop  Provider = "noop"  // ничего не хранит, ledger выключен
)

// Config содержит конфигурацию для key-value хранилища
type Config struct {
	Provider Provider `envconfig:"KV_PROVIDER" default:"noop"`
	// Redis конфигурация (используется когда ProviderRedis)
	RedisAddr        string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	RedisMaxRetries  int           `envconfig:"REDIS_MAX_RETRIES" default:"3"`
	RedisDialTimeout time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	RedisPoolSize    int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

// Store определяет интерфейс key-value хранилища
type Store interface {
	// SetNX записывает значение, только если ключа ещё нет. Возвращает true, если записал.
	SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)
	// Exists возвращает количество существующих ключей из переданных
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Подключение
	Ping(ctx context.Context) error
	Close() error
}

// NewDefault создаёт Store по конфигурации
func NewDefault(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Provider {
	case ProviderRedis:
		return redis.Connect(ctx, redis.Config{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			MaxRetries:  cfg.RedisMaxRetries,
			DialTimeout: cfg.RedisDialTimeout,
			PoolSize:    cfg.RedisPoolSize,
		})
	case ProviderNoop, "":
		return noop.NewStore(), nil
	default:
		return nil, errors.Errorf("unknown kv provider: %s", cfg.Provider)
	}
}

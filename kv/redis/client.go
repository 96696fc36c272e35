package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	rclient "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
)

// Client представляет клиент Redis
type Client struct {
	mu     sync.RWMutex
	rdb    *rclient.Client
	cfg    Config
	logger *slog.Logger
}

// Connect создаёт новое подключение к Redis и проверяет его
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	logger := slog.Default().WithGroup("redis").With("addr", cfg.Addr, "db", cfg.DB)
	logger.Debug("connecting to redis")

	rdb := rclient.NewClient(&rclient.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
	})

	client := &Client{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
	}

	// Проверяем подключение
	if err := client.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	logger.Info("connected to redis")
	return client, nil
}

// conn возвращает низкоуровневый клиент или ErrClosed
func (c *Client) conn() (*rclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.rdb == nil {
		return nil, ErrClosed
	}
	return c.rdb, nil
}

// Close закрывает подключение к Redis. Повторный вызов ничего не делает
func (c *Client) Close() error {
	_, span := startSpan(context.Background(), "Close", c.cfg.DB)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}

	err := c.rdb.Close()
	c.rdb = nil
	if err != nil {
		recordError(span, err)
		return errors.Wrap(err, "failed to close redis connection")
	}

	c.logger.Debug("redis connection closed")
	return nil
}

// Ping проверяет подключение к Redis
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := startSpan(ctx, "Ping", c.cfg.DB)
	defer span.End()

	rdb, err := c.conn()
	if err != nil {
		recordError(span, err)
		return err
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		recordError(span, err)
		return errors.Wrap(err, "failed to ping redis")
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SetNX записывает значение, только если ключ отсутствует
func (c *Client) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	ctx, span := startSpan(ctx, "SetNX", c.cfg.DB, key)
	defer span.End()

	rdb, err := c.conn()
	if err != nil {
		recordError(span, err)
		return false, err
	}

	ok, err := rdb.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		recordError(span, err)
		return false, errors.Wrapf(err, "failed to set key %q", key)
	}

	span.SetStatus(codes.Ok, "")
	return ok, nil
}

// Exists возвращает количество существующих ключей
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := startSpan(ctx, "Exists", c.cfg.DB, keys...)
	defer span.End()

	if len(keys) == 0 {
		return 0, nil
	}

	rdb, err := c.conn()
	if err != nil {
		recordError(span, err)
		return 0, err
	}

	count, err := rdb.Exists(ctx, keys...).Result()
	if err != nil {
		recordError(span, err)
		return 0, errors.Wrap(err, "failed to check keys existence")
	}

	span.SetStatus(codes.Ok, "")
	return count, nil
}

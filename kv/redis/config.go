package redis

import (
	"context"
	"time"
)

// Config содержит конфигурацию для подключения к Redis
type Config struct {
	Addr            string        // Адрес Redis сервера (хост:порт)
	Password        string        // Пароль для подключения
	DB              int           // Номер базы данных
	MaxRetries      int           // Максимальное количество попыток повтора, -1 отключает повторы
	MinRetryBackoff time.Duration // Минимальная задержка между повторами
	MaxRetryBackoff time.Duration // Максимальная задержка между повторами
	DialTimeout     time.Duration // Таймаут установки соединения
	ReadTimeout     time.Duration // Таймаут чтения
	WriteTimeout    time.Duration // Таймаут записи
	PoolSize        int           // Размер пула соединений
}

// withDefaults подставляет значения по умолчанию для незаданных полей
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MinRetryBackoff == 0 {
		c.MinRetryBackoff = 8 * time.Millisecond
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = 512 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	return c
}

// NewDefault подключается к Redis с таймаутом установки соединения из конфигурации
func NewDefault(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	return Connect(ctx, cfg)
}

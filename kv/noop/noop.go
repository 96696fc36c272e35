// Package noop is the store used when no ledger backend is configured.
package noop

import (
	"context"
	"time"
)

// Store ничего не хранит: каждый SetNX "записывает", Exists никогда ничего не находит.
// С ним ledger пропускает всех получателей.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (*Store) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (*Store) Exists(context.Context, ...string) (int64, error) {
	return 0, nil
}

func (*Store) Ping(context.Context) error { return nil }

func (*Store) Close() error { return nil }

package redis

import (
	"github.com/pkg/errors"
)

// ErrClosed возвращается при обращении к закрытому клиенту
var ErrClosed = errors.New("redis client is closed")

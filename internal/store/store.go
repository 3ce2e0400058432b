package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/i474232898/ensemble-forecast/internal/config"
	"github.com/i474232898/ensemble-forecast/internal/weather"
)

var (
	// ErrNotFound is returned when no records exist for a location and range.
	ErrNotFound = errors.New("no forecast records for location")
)

// Backend is a record sink that may hold resources.
type Backend interface {
	weather.Store
	io.Closer
}

// New opens the backend selected by cfg.Store.Backend.
func New(ctx context.Context, cfg *config.Config) (Backend, error) {
	sc := cfg.Store
	switch sc.Backend {
	case config.BackendMemory, "":
		return nopCloser{NewMemoryStore(sc.MaxHistory, sc.MaxAge)}, nil
	case config.BackendRedis:
		return NewRedisStore(ctx, sc.RedisAddr, sc.MaxHistory, sc.MaxAge)
	case config.BackendSQLite:
		return OpenSQLite(sc.SQLitePath, sc.MaxHistory, sc.MaxAge)
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

type nopCloser struct {
	*MemoryStore
}

func (nopCloser) Close() error { return nil }

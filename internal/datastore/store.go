package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrURLNotFound  = errors.New("url not found")
	ErrDuplicateKey = errors.New("short code already exists")
)

const (
	// dbConnectTimeout is the timeout for establishing a database connection.
	dbConnectTimeout = 15 * time.Second
)

// Store persists short code mappings and their visit records.
// Implementations are safe for concurrent use.
type Store interface {
	// Exists reports whether a mapping for shortCode is stored.
	Exists(ctx context.Context, shortCode string) (bool, error)
	// InsertMapping stores the pair unless shortCode is taken, in which case
	// it returns ErrDuplicateKey. The check and the write are one atomic step.
	InsertMapping(ctx context.Context, shortCode, originalURL string) (core.URL, error)
	// LookupMapping returns the original URL or ErrURLNotFound.
	LookupMapping(ctx context.Context, shortCode string) (string, error)
	// RecordVisit appends an analytics record. shortCode is not validated.
	RecordVisit(ctx context.Context, visit core.Visit) error
	// QueryAnalytics returns the visits of shortCode in insertion order.
	// No visits is an empty slice, not an error.
	QueryAnalytics(ctx context.Context, shortCode string) ([]core.Visit, error)
	Ping(ctx context.Context) error
	Close()
}

// New opens the store selected by cfg.Driver and prepares its schema.
func New(ctx context.Context, logger *slog.Logger, cfg config.Store, reg prometheus.Registerer) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresStore(ctx, logger, cfg.Postgres, reg)
	case config.DriverRedis:
		return NewRedisStore(ctx, logger, cfg.Redis, reg)
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, logger, cfg.SQLite, reg)
	case config.DriverMemory:
		return NewMemoryStore(logger, reg)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

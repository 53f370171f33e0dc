package datastore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db        *pgxpool.Pool
	logger    *slog.Logger
	dbMetrics Metrics
}

// NewPostgresStore establishes a database connection, applies the schema
// migrations and returns a new PostgresStore.
func NewPostgresStore(ctx context.Context, logger *slog.Logger, cfg config.Postgres, reg prometheus.Registerer) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("store: failed to parse db config: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create connection pool: %w", err)
	}

	metrics, err := NewMetrics(reg, config.DriverPostgres)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to register metrics: %w", err)
	}
	if reg != nil {
		// Ignore duplicates so tests can open several pools against one registry.
		_ = reg.Register(NewPoolStatsCollector(db, poolCfg.ConnConfig.Database))
	}

	store := &PostgresStore{
		db:        db,
		logger:    logger,
		dbMetrics: metrics,
	}

	if pingErr := waitReady(ctx, store, logger); pingErr != nil {
		db.Close()
		return nil, pingErr
	}

	if migrErr := runMigrations(cfg.Addr); migrErr != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to run migrations: %w", migrErr)
	}
	logger.Info("successfully connected to db", "driver", config.DriverPostgres, "db", poolCfg.ConnConfig.Database)

	return store, nil
}

func runMigrations(connStr string) (err error) {
	migrationDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("store: failed to open migration db: %w", err)
	}
	defer func() {
		err = errors.Join(err, migrationDB.Close())
	}()

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: failed to open migration source: %w", err)
	}
	driver, err := pgxv5.WithInstance(migrationDB, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("store: failed to create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx", driver)
	if err != nil {
		return fmt.Errorf("store: failed to create migrate instance: %w", err)
	}
	if runErr := m.Up(); runErr != nil && !errors.Is(runErr, migrate.ErrNoChange) {
		return fmt.Errorf("store: failed to run migrations: %w", runErr)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Exists(ctx context.Context, shortCode string) (exists bool, err error) {
	start := time.Now()
	defer func() { s.dbMetrics.observe("Exists", start, err) }()

	if err = s.db.QueryRow(ctx, existsURL, shortCode).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: Exists: %w", err)
	}
	return exists, nil
}

// InsertMapping relies on ON CONFLICT DO NOTHING: a taken code yields no
// returned row, which is reported as ErrDuplicateKey.
func (s *PostgresStore) InsertMapping(ctx context.Context, shortCode, originalURL string) (out core.URL, err error) {
	start := time.Now()
	defer func() { s.dbMetrics.observe("InsertMapping", start, err) }()

	rows, err := s.db.Query(ctx, insertURL, pgx.NamedArgs{
		"short_code":   shortCode,
		"original_url": originalURL,
	})
	if err != nil {
		return core.URL{}, fmt.Errorf("store: insertURL: %w", err)
	}

	out, err = pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[core.URL])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.URL{}, ErrDuplicateKey
		}
		return core.URL{}, fmt.Errorf("store: failed to collect inserted row: %w", err)
	}
	return out, nil
}

// LookupMapping retrieves the original URL for a given short code.
func (s *PostgresStore) LookupMapping(ctx context.Context, shortCode string) (longURL string, err error) {
	start := time.Now()
	defer func() { s.dbMetrics.observe("LookupMapping", start, err) }()

	rows, err := s.db.Query(ctx, getURL, shortCode)
	if err != nil {
		return "", fmt.Errorf("store: LookupMapping: %w", err)
	}

	longURL, err = pgx.CollectExactlyOneRow(rows, pgx.RowTo[string])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrURLNotFound
		}
		return "", fmt.Errorf("store: LookupMapping: %w", err)
	}
	return longURL, nil
}

func (s *PostgresStore) RecordVisit(ctx context.Context, visit core.Visit) (err error) {
	start := time.Now()
	defer func() { s.dbMetrics.observe("RecordVisit", start, err) }()

	_, err = s.db.Exec(ctx, insertVisit, pgx.NamedArgs{
		"short_code": visit.ShortCode,
		"visited_at": visit.Timestamp,
		"ip_address": visit.IPAddress,
	})
	if err != nil {
		return fmt.Errorf("store: RecordVisit: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryAnalytics(ctx context.Context, shortCode string) (visits []core.Visit, err error) {
	start := time.Now()
	defer func() { s.dbMetrics.observe("QueryAnalytics", start, err) }()

	rows, err := s.db.Query(ctx, listVisits, shortCode)
	if err != nil {
		return nil, fmt.Errorf("store: QueryAnalytics: %w", err)
	}

	visits, err = pgx.CollectRows(rows, pgx.RowToStructByName[core.Visit])
	if err != nil {
		return nil, fmt.Errorf("store: QueryAnalytics: %w", err)
	}
	if visits == nil {
		visits = []core.Visit{}
	}
	for i := range visits {
		visits[i].Timestamp = visits[i].Timestamp.UTC()
	}
	return visits, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

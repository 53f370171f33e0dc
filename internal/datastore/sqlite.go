package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var _ Store = (*SQLiteStore)(nil)

type urlMapping struct {
	ShortCode   string    `gorm:"primaryKey"`
	OriginalURL string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (urlMapping) TableName() string { return "url_mappings" }

type analyticsRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	ShortCode string    `gorm:"not null;index"`
	VisitedAt time.Time `gorm:"not null"`
	IPAddress string    `gorm:"not null"`
}

func (analyticsRecord) TableName() string { return "analytics" }

// SQLiteStore is a single-file store. SQLite serializes writers anyway, so
// the pool is capped at one connection and every statement queues behind it.
type SQLiteStore struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	logger  *slog.Logger
	metrics Metrics
}

func NewSQLiteStore(ctx context.Context, logger *slog.Logger, cfg config.SQLite, reg prometheus.Registerer) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: missing sqlite path")
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	metrics, err := NewMetrics(reg, config.DriverSQLite)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: failed to register metrics: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&urlMapping{}, &analyticsRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: failed to run migrations: %w", err)
	}
	logger.Info("successfully opened sqlite db", "path", cfg.Path)

	return &SQLiteStore{
		db:      db,
		sqlDB:   sqlDB,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Exists(ctx context.Context, shortCode string) (exists bool, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("Exists", start, err) }()

	var n int64
	err = s.db.WithContext(ctx).Model(&urlMapping{}).Where("short_code = ?", shortCode).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("store: Exists: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertMapping(ctx context.Context, shortCode, originalURL string) (out core.URL, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("InsertMapping", start, err) }()

	row := urlMapping{ShortCode: shortCode, OriginalURL: originalURL}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return core.URL{}, fmt.Errorf("store: InsertMapping: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.URL{}, ErrDuplicateKey
	}
	return core.URL{
		CreatedAt:   row.CreatedAt,
		ShortCode:   row.ShortCode,
		OriginalURL: row.OriginalURL,
	}, nil
}

func (s *SQLiteStore) LookupMapping(ctx context.Context, shortCode string) (longURL string, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("LookupMapping", start, err) }()

	var row urlMapping
	err = s.db.WithContext(ctx).Where("short_code = ?", shortCode).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrURLNotFound
		}
		return "", fmt.Errorf("store: LookupMapping: %w", err)
	}
	return row.OriginalURL, nil
}

func (s *SQLiteStore) RecordVisit(ctx context.Context, visit core.Visit) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("RecordVisit", start, err) }()

	err = s.db.WithContext(ctx).Create(&analyticsRecord{
		ShortCode: visit.ShortCode,
		VisitedAt: visit.Timestamp,
		IPAddress: visit.IPAddress,
	}).Error
	if err != nil {
		return fmt.Errorf("store: RecordVisit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryAnalytics(ctx context.Context, shortCode string) (visits []core.Visit, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("QueryAnalytics", start, err) }()

	var rows []analyticsRecord
	err = s.db.WithContext(ctx).Where("short_code = ?", shortCode).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: QueryAnalytics: %w", err)
	}

	visits = make([]core.Visit, 0, len(rows))
	for _, row := range rows {
		visits = append(visits, core.Visit{
			ID:        row.ID,
			ShortCode: row.ShortCode,
			Timestamp: row.VisitedAt.UTC(),
			IPAddress: row.IPAddress,
		})
	}
	return visits, nil
}

func (s *SQLiteStore) Close() {
	_ = s.sqlDB.Close()
}

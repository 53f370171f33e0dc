package datastore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	urls    map[string]core.URL
	visits  map[string][]core.Visit
	lastID  int64
	metrics Metrics
}

func NewMemoryStore(logger *slog.Logger, reg prometheus.Registerer) (*MemoryStore, error) {
	metrics, err := NewMetrics(reg, config.DriverMemory)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Warn("using in-memory store, data is lost on shutdown")
	}
	return &MemoryStore{
		urls:    make(map[string]core.URL),
		visits:  make(map[string][]core.Visit),
		metrics: metrics,
	}, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Exists(_ context.Context, shortCode string) (bool, error) {
	start := time.Now()
	s.mu.RLock()
	_, ok := s.urls[shortCode]
	s.mu.RUnlock()
	s.metrics.observe("Exists", start, nil)
	return ok, nil
}

func (s *MemoryStore) InsertMapping(_ context.Context, shortCode, originalURL string) (out core.URL, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("InsertMapping", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[shortCode]; ok {
		return core.URL{}, ErrDuplicateKey
	}
	out = core.URL{
		CreatedAt:   time.Now().UTC(),
		ShortCode:   shortCode,
		OriginalURL: originalURL,
	}
	s.urls[shortCode] = out
	return out, nil
}

func (s *MemoryStore) LookupMapping(_ context.Context, shortCode string) (longURL string, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("LookupMapping", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.urls[shortCode]
	if !ok {
		return "", ErrURLNotFound
	}
	return u.OriginalURL, nil
}

func (s *MemoryStore) RecordVisit(_ context.Context, visit core.Visit) error {
	start := time.Now()
	s.mu.Lock()
	s.lastID++
	visit.ID = s.lastID
	s.visits[visit.ShortCode] = append(s.visits[visit.ShortCode], visit)
	s.mu.Unlock()
	s.metrics.observe("RecordVisit", start, nil)
	return nil
}

func (s *MemoryStore) QueryAnalytics(_ context.Context, shortCode string) ([]core.Visit, error) {
	start := time.Now()
	s.mu.RLock()
	visits := make([]core.Visit, len(s.visits[shortCode]))
	copy(visits, s.visits[shortCode])
	s.mu.RUnlock()
	s.metrics.observe("QueryAnalytics", start, nil)
	return visits, nil
}

func (s *MemoryStore) Close() {}

package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ndajr/urlshortener-analytics/internal/config"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps mappings as plain string keys and the visits of each code
// in a sorted set scored by a global INCR sequence, so ZRANGE returns them in
// id order.
type RedisStore struct {
	rdb     *redis.Client
	logger  *slog.Logger
	metrics Metrics
	prefix  string
}

type redisVisit struct {
	ID        int64  `json:"id"`
	Timestamp int64  `json:"ts"`
	IPAddress string `json:"ip"`
}

func NewRedisStore(ctx context.Context, logger *slog.Logger, cfg config.Redis, reg prometheus.Registerer) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("store: missing redis address")
	}
	ctx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		PoolSize: cfg.PoolSize,
	})

	metrics, err := NewMetrics(reg, config.DriverRedis)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: failed to register metrics: %w", err)
	}

	s := &RedisStore{
		rdb:     rdb,
		logger:  logger,
		metrics: metrics,
		prefix:  cfg.KeyPrefix,
	}

	if err := waitReady(ctx, s, logger); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: failed to ping redis: %w", err)
	}

	// Mappings are never re-creatable, so the server must not evict them.
	// This is best-effort: managed Redis often forbids CONFIG SET.
	if err := rdb.ConfigSet(ctx, "maxmemory-policy", "noeviction").Err(); err != nil {
		logger.Warn("could not set redis maxmemory-policy to noeviction, ensure it is configured on the server", "error", err)
	}
	logger.Info("successfully connected to redis", "addr", cfg.Addr)

	return s, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Exists(ctx context.Context, shortCode string) (exists bool, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("Exists", start, err) }()

	n, err := s.rdb.Exists(ctx, s.urlKey(shortCode)).Result()
	if err != nil {
		return false, fmt.Errorf("store: Exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) InsertMapping(ctx context.Context, shortCode, originalURL string) (out core.URL, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("InsertMapping", start, err) }()

	ok, err := s.rdb.SetNX(ctx, s.urlKey(shortCode), originalURL, 0).Result()
	if err != nil {
		return core.URL{}, fmt.Errorf("store: InsertMapping: %w", err)
	}
	if !ok {
		return core.URL{}, ErrDuplicateKey
	}
	return core.URL{
		CreatedAt:   time.Now().UTC(),
		ShortCode:   shortCode,
		OriginalURL: originalURL,
	}, nil
}

func (s *RedisStore) LookupMapping(ctx context.Context, shortCode string) (longURL string, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("LookupMapping", start, err) }()

	longURL, err = s.rdb.Get(ctx, s.urlKey(shortCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrURLNotFound
		}
		return "", fmt.Errorf("store: LookupMapping: %w", err)
	}
	return longURL, nil
}

func (s *RedisStore) RecordVisit(ctx context.Context, visit core.Visit) (err error) {
	start := time.Now()
	defer func() { s.metrics.observe("RecordVisit", start, err) }()

	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("store: RecordVisit: next id: %w", err)
	}

	member, err := json.Marshal(redisVisit{
		ID:        id,
		Timestamp: visit.Timestamp.Unix(),
		IPAddress: visit.IPAddress,
	})
	if err != nil {
		return fmt.Errorf("store: RecordVisit: %w", err)
	}

	err = s.rdb.ZAdd(ctx, s.visitsKey(visit.ShortCode), redis.Z{
		Score:  float64(id),
		Member: string(member),
	}).Err()
	if err != nil {
		return fmt.Errorf("store: RecordVisit: %w", err)
	}
	return nil
}

func (s *RedisStore) QueryAnalytics(ctx context.Context, shortCode string) (visits []core.Visit, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("QueryAnalytics", start, err) }()

	members, err := s.rdb.ZRange(ctx, s.visitsKey(shortCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: QueryAnalytics: %w", err)
	}

	visits = make([]core.Visit, 0, len(members))
	for _, member := range members {
		var rv redisVisit
		if err = json.Unmarshal([]byte(member), &rv); err != nil {
			return nil, fmt.Errorf("store: QueryAnalytics: decode visit: %w", err)
		}
		visits = append(visits, core.Visit{
			ID:        rv.ID,
			ShortCode: shortCode,
			Timestamp: time.Unix(rv.Timestamp, 0).UTC(),
			IPAddress: rv.IPAddress,
		})
	}
	return visits, nil
}

func (s *RedisStore) urlKey(shortCode string) string {
	return fmt.Sprintf("%s:url:%s", s.prefix, shortCode)
}

func (s *RedisStore) visitsKey(shortCode string) string {
	return fmt.Sprintf("%s:visits:%s", s.prefix, shortCode)
}

func (s *RedisStore) seqKey() string {
	return fmt.Sprintf("%s:visits_seq", s.prefix)
}

func (s *RedisStore) Close() {
	_ = s.rdb.Close()
}

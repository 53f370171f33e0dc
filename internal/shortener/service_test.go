package shortener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/ndajr/urlshortener-analytics/internal/datastore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// faultyStore fails selected operations and delegates the rest.
type faultyStore struct {
	datastore.Store
	insertErr error
	visitErr  error
	queryErr  error
	// takenOnce makes the first InsertMapping report a duplicate, as if a
	// concurrent request won the race after the existence check.
	takenOnce bool
}

func (f *faultyStore) InsertMapping(ctx context.Context, code, url string) (core.URL, error) {
	if f.takenOnce {
		f.takenOnce = false
		return core.URL{}, datastore.ErrDuplicateKey
	}
	if f.insertErr != nil {
		return core.URL{}, f.insertErr
	}
	return f.Store.InsertMapping(ctx, code, url)
}

func (f *faultyStore) RecordVisit(ctx context.Context, v core.Visit) error {
	if f.visitErr != nil {
		return f.visitErr
	}
	return f.Store.RecordVisit(ctx, v)
}

func (f *faultyStore) QueryAnalytics(ctx context.Context, code string) ([]core.Visit, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.QueryAnalytics(ctx, code)
}

func newMemoryStore(t *testing.T) *datastore.MemoryStore {
	t.Helper()
	s, err := datastore.NewMemoryStore(discardLogger, prometheus.NewRegistry())
	require.NoError(t, err)
	return s
}

func newService(t *testing.T, store datastore.Store) *Service {
	t.Helper()
	svc := NewService(discardLogger, store, core.NewGenerator(core.DefaultMaxAttempts))
	svc.now = func() time.Time { return time.Date(2024, 5, 17, 10, 30, 45, 999, time.UTC) }
	return svc
}

func TestShorten(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		url    string
		store  func(t *testing.T) datastore.Store
		assert func(t *testing.T, svc *Service, out core.URL, err error)
	}{
		{
			name: "success",
			url:  "https://example.com",
			assert: func(t *testing.T, svc *Service, out core.URL, err error) {
				require.NoError(t, err)
				require.Equal(t, "100680ad", out.ShortCode)
				got, err := svc.Resolve(ctx, out.ShortCode, "192.0.2.1")
				require.NoError(t, err)
				require.Equal(t, "https://example.com", got)
			},
		},
		{
			name: "surrounding_whitespace_is_trimmed",
			url:  "  https://example.com/a/valid/path \n",
			assert: func(t *testing.T, svc *Service, out core.URL, err error) {
				require.NoError(t, err)
				require.Equal(t, "https://example.com/a/valid/path", out.OriginalURL)
			},
		},
		{
			name: "lost_race_is_retried",
			url:  "https://example.com",
			store: func(t *testing.T) datastore.Store {
				return &faultyStore{Store: newMemoryStore(t), takenOnce: true}
			},
			assert: func(t *testing.T, _ *Service, out core.URL, err error) {
				require.NoError(t, err)
				require.Regexp(t, `^[0-9a-f]{8}$`, out.ShortCode)
			},
		},
		{
			name: "storage_failure",
			url:  "https://example.com",
			store: func(t *testing.T) datastore.Store {
				return &faultyStore{Store: newMemoryStore(t), insertErr: errors.New("disk full")}
			},
			assert: func(t *testing.T, _ *Service, _ core.URL, err error) {
				require.ErrorContains(t, err, "disk full")
				var verr *ValidationError
				require.False(t, errors.As(err, &verr))
			},
		},
	}

	invalid := map[string]string{
		"empty":        "   ",
		"no_scheme":    "google.com",
		"ftp_scheme":   "ftp://example.com/file",
		"too_long":     "https://" + strings.Repeat("a", core.MaxURLLength),
		"localhost":    "http://localhost:8080/admin",
		"private_ip":   "http://192.168.1.10/",
		"loopback_v6":  "http://[::1]/",
		"path_escape":  "https://example.com/a/../b",
		"double_slash": "https://example.com//evil.com",
		"bad_escape":   "https://example.com/%zz",
	}
	for name, url := range invalid {
		tests = append(tests, struct {
			name   string
			url    string
			store  func(t *testing.T) datastore.Store
			assert func(t *testing.T, svc *Service, out core.URL, err error)
		}{
			name: "invalid/" + name,
			url:  url,
			assert: func(t *testing.T, _ *Service, _ core.URL, err error) {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				require.NotEmpty(t, verr.Message)
			},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var store datastore.Store = newMemoryStore(t)
			if tt.store != nil {
				store = tt.store(t)
			}
			svc := newService(t, store)
			out, err := svc.Shorten(ctx, tt.url)
			tt.assert(t, svc, out, err)
		})
	}
}

func TestShorten_SameURLTwice(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, newMemoryStore(t))

	first, err := svc.Shorten(ctx, "https://example.com")
	require.NoError(t, err)
	second, err := svc.Shorten(ctx, "https://example.com")
	require.NoError(t, err)
	require.NotEqual(t, first.ShortCode, second.ShortCode)

	for _, code := range []string{first.ShortCode, second.ShortCode} {
		got, err := svc.Resolve(ctx, code, "192.0.2.1")
		require.NoError(t, err)
		require.Equal(t, "https://example.com", got)
	}
}

func TestShorten_Concurrent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, newMemoryStore(t))
	target := gofakeit.URL()

	const workers = 8
	codes := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := svc.Shorten(ctx, target)
			if err != nil {
				t.Errorf("shorten: %v", err)
				return
			}
			codes[i] = out.ShortCode
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, workers)
	for _, code := range codes {
		require.NotEmpty(t, code)
		require.False(t, seen[code], "code %s handed out twice", code)
		seen[code] = true
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("records_visit", func(t *testing.T) {
		svc := newService(t, newMemoryStore(t))
		out, err := svc.Shorten(ctx, "https://example.com")
		require.NoError(t, err)

		_, err = svc.Resolve(ctx, out.ShortCode, "203.0.113.9")
		require.NoError(t, err)

		visits, err := svc.Analytics(ctx, out.ShortCode)
		require.NoError(t, err)
		require.Len(t, visits, 1)
		require.Equal(t, "203.0.113.9", visits[0].IPAddress)
		require.True(t, time.Date(2024, 5, 17, 10, 30, 45, 0, time.UTC).Equal(visits[0].Timestamp))
	})

	t.Run("not_found", func(t *testing.T) {
		svc := newService(t, newMemoryStore(t))
		_, err := svc.Resolve(ctx, "doesnotexist", "203.0.113.9")
		require.ErrorIs(t, err, datastore.ErrURLNotFound)

		visits, err := svc.Analytics(ctx, "doesnotexist")
		require.NoError(t, err)
		require.Empty(t, visits)
	})

	t.Run("visit_failure_does_not_block_redirect", func(t *testing.T) {
		store := &faultyStore{Store: newMemoryStore(t), visitErr: errors.New("connection reset")}
		svc := newService(t, store)
		out, err := svc.Shorten(ctx, "https://example.com")
		require.NoError(t, err)

		got, err := svc.Resolve(ctx, out.ShortCode, "203.0.113.9")
		require.NoError(t, err)
		require.Equal(t, "https://example.com", got)
	})

	t.Run("cancelled_request_still_records_visit", func(t *testing.T) {
		svc := newService(t, newMemoryStore(t))
		out, err := svc.Shorten(ctx, "https://example.com")
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = svc.Resolve(cctx, out.ShortCode, "203.0.113.9")
		require.NoError(t, err)

		visits, err := svc.Analytics(ctx, out.ShortCode)
		require.NoError(t, err)
		require.Len(t, visits, 1)
	})
}

func TestAnalytics_StorageFailure(t *testing.T) {
	store := &faultyStore{Store: newMemoryStore(t), queryErr: errors.New("timeout")}
	svc := newService(t, store)

	_, err := svc.Analytics(context.Background(), "100680ad")
	require.ErrorContains(t, err, "timeout")
}

package shortener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ndajr/urlshortener-analytics/internal/core"
	"github.com/ndajr/urlshortener-analytics/internal/datastore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ndajr/urlshortener-analytics/internal/shortener"

// visitWriteTimeout bounds the analytics append of a redirect. It runs
// detached from the request context so a client hanging up right after the
// lookup does not lose the visit.
const visitWriteTimeout = 2 * time.Second

// ValidationError reports unusable input. Its message is safe to show to clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type Service struct {
	store  datastore.Store
	gen    core.Generator
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(logger *slog.Logger, store datastore.Store, gen core.Generator) *Service {
	return &Service{
		store:  store,
		gen:    gen,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// Shorten validates originalURL and stores it under a new short code.
// Shortening the same URL twice yields two independent mappings.
func (s *Service) Shorten(ctx context.Context, originalURL string) (core.URL, error) {
	ctx, span := s.tracer.Start(ctx, "Shorten")
	defer span.End()

	target, err := parseURL(originalURL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return core.URL{}, err
	}

	for i := 0; i < s.gen.MaxAttempts(); i++ {
		shortCode, err := s.gen.GenerateUniqueCode(ctx, target, s.store)
		if err != nil {
			return core.URL{}, s.fail(span, fmt.Errorf("shortener: %w", err))
		}

		out, err := s.store.InsertMapping(ctx, shortCode, target)
		if err == nil {
			span.SetAttributes(attribute.String("short_code", out.ShortCode))
			return out, nil
		}
		if !errors.Is(err, datastore.ErrDuplicateKey) {
			return core.URL{}, s.fail(span, fmt.Errorf("shortener: %w", err))
		}
		// Another request took the code between the check and the insert.
		s.logger.Info("collision detected, generating a new short code", "short_code", shortCode)
	}

	return core.URL{}, s.fail(span, fmt.Errorf("shortener: %w", core.ErrCodeSpaceExhausted))
}

// Resolve returns the original URL for shortCode and records the visit.
// A failed visit append is logged and does not fail the call.
func (s *Service) Resolve(ctx context.Context, shortCode, ipAddress string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "Resolve", trace.WithAttributes(attribute.String("short_code", shortCode)))
	defer span.End()

	originalURL, err := s.store.LookupMapping(ctx, shortCode)
	if err != nil {
		if errors.Is(err, datastore.ErrURLNotFound) {
			return "", err
		}
		return "", s.fail(span, fmt.Errorf("shortener: %w", err))
	}

	visitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), visitWriteTimeout)
	defer cancel()
	if err := s.store.RecordVisit(visitCtx, core.NewVisit(shortCode, s.now(), ipAddress)); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to record visit", "short_code", shortCode, "error", err)
	}

	return originalURL, nil
}

// Analytics returns the visits of shortCode, oldest first.
func (s *Service) Analytics(ctx context.Context, shortCode string) ([]core.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "Analytics", trace.WithAttributes(attribute.String("short_code", shortCode)))
	defer span.End()

	visits, err := s.store.QueryAnalytics(ctx, shortCode)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("shortener: %w", err))
	}
	span.SetAttributes(attribute.Int("visits", len(visits)))
	return visits, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func parseURL(originalURL string) (string, error) {
	originalURL = strings.TrimSpace(originalURL)
	if originalURL == "" {
		return "", &ValidationError{Message: "missing original url"}
	}

	if len(originalURL) > core.MaxURLLength {
		return "", &ValidationError{Message: fmt.Sprintf("url exceeds maximum length of %d characters", core.MaxURLLength)}
	}

	parsedURL, err := url.Parse(originalURL)
	if err != nil {
		return "", &ValidationError{Message: fmt.Sprintf("invalid url format: %v", err)}
	}

	// We only accept absolute URLs with http or https schemes.
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", &ValidationError{Message: "only http and https schemes are accepted"}
	}
	if parsedURL.Host == "" {
		return "", &ValidationError{Message: "url has no host"}
	}

	// The `//` check is to prevent open redirects like `//example.com`.
	// The `..` check is to prevent path traversal attacks.
	if strings.Contains(parsedURL.Path, "..") || strings.Contains(parsedURL.Path, "//") {
		return "", &ValidationError{Message: "potentially unsafe url path"}
	}

	if isLocalhost(parsedURL.Host) {
		return "", &ValidationError{Message: "localhost and internal addresses not allowed"}
	}

	// The stored target is the input as given, so a lookup returns exactly
	// what was shortened.
	return originalURL, nil
}

// isLocalhost checks if a given host string represents a local address.
// It returns true if the host is "localhost", "127.0.0.1", "::1", or
// if it's an internal private address (e.g., 10.x.x.x, 192.168.x.x).
func isLocalhost(host string) bool {
	hostWithoutPort, _, err := net.SplitHostPort(host)
	if err != nil {
		// If splitting fails, assume the host string is just the hostname/IP
		hostWithoutPort = strings.Trim(host, "[]")
	}

	if hostWithoutPort == "localhost" {
		return true
	}

	ip := net.ParseIP(hostWithoutPort)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified()
}

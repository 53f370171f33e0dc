package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// ShortCodeLength is the length of the generated short codes.
	ShortCodeLength = 8
	// DefaultMaxAttempts bounds the number of candidates tried for one URL.
	DefaultMaxAttempts = 10
	// saltSize is the number of random bytes mixed into the hash after a collision.
	saltSize = 8
)

var ErrCodeSpaceExhausted = errors.New("no free short code found")

// Checker reports whether a short code is already taken.
type Checker interface {
	Exists(ctx context.Context, shortCode string) (bool, error)
}

// GenerateCandidate returns the first ShortCodeLength hex characters of the
// SHA-256 digest of originalURL. The same URL always yields the same code.
func GenerateCandidate(originalURL string) string {
	sum := sha256.Sum256([]byte(originalURL))
	return hex.EncodeToString(sum[:])[:ShortCodeLength]
}

// Generator derives unique short codes. The first candidate for a URL is
// always GenerateCandidate(url); every following attempt hashes the URL
// together with a random salt.
type Generator struct {
	maxAttempts int
	salt        io.Reader
}

func NewGenerator(maxAttempts int) Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Generator{
		maxAttempts: maxAttempts,
		salt:        rand.Reader,
	}
}

// WithSaltSource returns a copy of g reading salts from r.
func (g Generator) WithSaltSource(r io.Reader) Generator {
	g.salt = r
	return g
}

func (g Generator) MaxAttempts() int {
	return g.maxAttempts
}

// GenerateUniqueCode returns a code that checker does not know about yet.
// The check is advisory: callers must still insert atomically and call
// again when the insert reports a duplicate.
func (g Generator) GenerateUniqueCode(ctx context.Context, originalURL string, checker Checker) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		code, err := g.candidate(originalURL, attempt)
		if err != nil {
			return "", err
		}

		exists, err := checker.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("generator: exists: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("generator: %d attempts: %w", g.maxAttempts, ErrCodeSpaceExhausted)
}

func (g Generator) candidate(originalURL string, attempt int) (string, error) {
	if attempt == 0 {
		return GenerateCandidate(originalURL), nil
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(g.salt, salt); err != nil {
		return "", fmt.Errorf("generator: read salt: %w", err)
	}
	return GenerateCandidate(originalURL + "#" + hex.EncodeToString(salt)), nil
}

package core

import (
	"time"
)

type URL struct {
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	ShortCode   string    `db:"short_code" json:"short_code"`
	OriginalURL string    `db:"original_url" json:"original_url"`
}

// Visit is a single analytics record logged when a short code is resolved.
type Visit struct {
	ID        int64     `db:"id" json:"-"`
	ShortCode string    `db:"short_code" json:"short_code"`
	Timestamp time.Time `db:"visited_at" json:"timestamp"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
}

// MaxURLLength is the maximum allowed length used by Shorten operation.
const MaxURLLength = 2083

// TimestampLayout is the wire format of visit timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// NewVisit truncates the timestamp to whole seconds and normalizes it to UTC.
func NewVisit(shortCode string, ts time.Time, ipAddress string) Visit {
	return Visit{
		ShortCode: shortCode,
		Timestamp: ts.UTC().Truncate(time.Second),
		IPAddress: ipAddress,
	}
}

package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// waitReady pings until the backend answers or ctx is done.
func waitReady(ctx context.Context, pinger Pinger, logger *slog.Logger) (err error) {
	ticker := time.NewTicker(time.Second * 1)
	defer ticker.Stop()

	for {
		err = pinger.Ping(ctx)
		if err == nil {
			return nil
		}

		logger.Warn("unable to establish connection, retrying...", "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("db connection timed out or was cancelled: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

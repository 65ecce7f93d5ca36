package servers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartJanitor periodically flips descriptors that have not been refreshed
// within staleAfter to offline. It stops when ctx is done.
func StartJanitor(ctx context.Context, s *Store, interval, staleAfter time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("janitor")
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.MarkStale(now, staleAfter); n > 0 {
					log.Debug("marked stale servers offline", zap.Int("count", n))
				}
			}
		}
	}()
}

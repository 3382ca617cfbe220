package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRetentionLoop purges consumed steering messages and stale task
// inbox items on the given period until ctx is cancelled. Intended to be
// run in its own goroutine by the daemon's startup sequence.
func (s *Store) RunRetentionLoop(ctx context.Context, period, maxAge time.Duration, purgeSteering bool) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetentionPass(ctx, maxAge, purgeSteering)
		}
	}
}

func (s *Store) runRetentionPass(ctx context.Context, maxAge time.Duration, purgeSteering bool) {
	if purgeSteering {
		n, err := s.PurgeConsumedSteeringOlderThan(ctx, maxAge)
		if err != nil {
			s.log.Warn("retention: steering purge failed", zap.Error(err))
		} else if n > 0 {
			s.log.Info("retention: purged consumed steering messages", zap.Int64("count", n))
		}
	}

	n, err := s.PurgeTaskInboxOlderThan(ctx, maxAge)
	if err != nil {
		s.log.Warn("retention: task inbox purge failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("retention: purged task inbox items", zap.Int64("count", n))
	}
}

package playlistmodule

import (
	"context"
	"time"

	"github.com/medley-tv/medley/internal/logger"
)

// runReaper collects generators whose expiry passed. An abandoned queue
// and its materialized entries go together; sessions that still play
// keep their generator alive through heartbeat touches.
func (m *Manager) runReaper() {
	defer m.wg.Done()

	period := m.cfg.Playback.SessionCleanupPeriod
	if period <= 0 {
		period = 5 * time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapExpired()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) reapExpired() {
	ctx, cancel := context.WithTimeout(m.ctx, time.Minute)
	defer cancel()

	n, err := m.store.DeleteExpiredGenerators(ctx, time.Now())
	if err != nil {
		logger.Warn("generator reaper: %v", err)
		return
	}
	if n > 0 {
		logger.Info("🧹 collected %d expired playlist generators", n)
	}
}

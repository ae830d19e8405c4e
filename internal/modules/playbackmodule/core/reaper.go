package core

import (
	"context"
	"time"

	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/logger"
)

// runReaper deletes sessions whose heartbeats stopped long enough ago
// that their expiry passed. Their transcodes die with them.
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

	expired, err := m.store.ListExpiredSessions(ctx, time.Now())
	if err != nil {
		logger.Warn("session reaper: listing expired: %v", err)
		return
	}
	for i := range expired {
		session := &expired[i]
		if m.transcode != nil {
			if err := m.transcode.CancelSession(ctx, session.ID); err != nil {
				logger.Warn("session reaper: cancelling transcodes for %s: %v", session.ID, err)
			}
		}
		if err := m.store.DeleteSession(ctx, session.ID); err != nil {
			logger.Warn("session reaper: deleting %s: %v", session.ID, err)
			continue
		}
		m.publishSessionExpired(session)
		logger.Info("🧹 session %s expired (last heartbeat %s)",
			session.ID, session.LastHeartbeatAt.Format(time.RFC3339))
	}
}

func (m *Manager) publishSessionExpired(session *database.PlaybackSession) {
	if m.eventBus == nil {
		return
	}
	partID := ""
	if session.MediaPartID != nil {
		partID = *session.MediaPartID
	}
	m.eventBus.PublishAsync(events.NewPlaybackSessionEvent(events.EventPlaybackExpired, events.PlaybackSessionData{
		SessionID:  session.ID,
		ItemID:     session.MetadataItemID,
		PartID:     partID,
		ClientID:   session.ClientID,
		PositionMs: session.PlayheadMs,
		State:      "expired",
	}))
}

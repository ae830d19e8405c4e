package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/services"
	"github.com/medley-tv/medley/internal/types"
)

var (
	ErrNoMedia         = errors.New("item has no playable media")
	ErrSessionNotFound = errors.New("playback session not found")
	ErrSessionRequired = errors.New("session id required")
	ErrItemRequired    = errors.New("metadata item id required")
	ErrClientRequired  = errors.New("client id required")
	ErrShuttingDown    = errors.New("playback manager shutting down")
)

// sessionActorIdle is how long an actor without traffic stays resident
// before retiring. Heartbeats arrive every few seconds during playback.
const sessionActorIdle = 2 * time.Minute

// Manager owns playback sessions. Every decision and heartbeat for one
// session flows through that session's worker goroutine, so state
// transitions never race.
type Manager struct {
	store    *database.Store
	cfg      *config.Config
	eventBus events.EventBus
	ffmpeg   *ffmpeg.Client

	// Injected after all modules initialize; nil when the feature is
	// not wired.
	transcode services.TranscodeService
	playlist  services.PlaylistService

	mu     sync.Mutex
	actors map[string]*sessionActor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// sessionMsg is one request handed to a session actor.
type sessionMsg struct {
	ctx   context.Context
	req   *types.DecideRequest
	reply chan sessionReply
}

type sessionReply struct {
	resp *types.DecideResponse
	err  error
}

// sessionActor serializes one session. The mailbox is unbuffered: a
// successful send proves the actor is alive, and done signals senders
// to grab a fresh actor after retirement.
type sessionActor struct {
	id      string
	mailbox chan sessionMsg
	done    chan struct{}
}

func NewManager(store *database.Store, cfg *config.Config, eventBus events.EventBus, ff *ffmpeg.Client) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		cfg:      cfg,
		eventBus: eventBus,
		ffmpeg:   ff,
		actors:   make(map[string]*sessionActor),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.wg.Add(1)
	go m.runReaper()
	return m
}

// SetTranscodeService wires the transcode supervisor in after init.
func (m *Manager) SetTranscodeService(t services.TranscodeService) {
	m.transcode = t
}

// SetPlaylistService wires the playlist generator in after init.
func (m *Manager) SetPlaylistService(p services.PlaylistService) {
	m.playlist = p
}

// Shutdown stops the reaper and waits for in-flight session requests.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

// Decide opens or advances a playback session. Requests without a
// session id reuse the client's live session for the item when one
// exists, otherwise a new session is minted.
func (m *Manager) Decide(ctx context.Context, req *types.DecideRequest) (*types.DecideResponse, error) {
	if req == nil {
		return nil, ErrItemRequired
	}
	sessionID := req.SessionID
	if sessionID == "" {
		if req.Status != "" {
			return nil, ErrSessionRequired
		}
		if req.MetadataItemID == "" {
			return nil, ErrItemRequired
		}
		if req.ClientID == "" {
			return nil, ErrClientRequired
		}
		existing, err := m.store.FindSessionByClient(ctx, req.ClientID, req.MetadataItemID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ExpiresAt.After(time.Now()) {
			sessionID = existing.ID
		} else {
			sessionID = uuid.New().String()
		}
	}
	return m.dispatch(ctx, sessionID, req)
}

// GetSession returns the stored session row.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*database.PlaybackSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// StopSession runs the stop transition through the session's actor so
// it cannot race a concurrent decision.
func (m *Manager) StopSession(ctx context.Context, sessionID string) error {
	_, err := m.dispatch(ctx, sessionID, &types.DecideRequest{SessionID: sessionID, Status: "stopped"})
	return err
}

var _ services.PlaybackService = (*Manager)(nil)

// =============================================================================
// SESSION ACTORS
// =============================================================================

func (m *Manager) dispatch(ctx context.Context, sessionID string, req *types.DecideRequest) (*types.DecideResponse, error) {
	for {
		a := m.actorFor(sessionID)
		if a == nil {
			return nil, ErrShuttingDown
		}
		msg := sessionMsg{ctx: ctx, req: req, reply: make(chan sessionReply, 1)}
		select {
		case a.mailbox <- msg:
		case <-a.done:
			// Retired between lookup and send; take a fresh actor.
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ctx.Done():
			return nil, ErrShuttingDown
		}
		select {
		case r := <-msg.reply:
			return r.resp, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ctx.Done():
			return nil, ErrShuttingDown
		}
	}
}

func (m *Manager) actorFor(sessionID string) *sessionActor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return nil
	}
	if a, ok := m.actors[sessionID]; ok {
		return a
	}
	a := &sessionActor{
		id:      sessionID,
		mailbox: make(chan sessionMsg),
		done:    make(chan struct{}),
	}
	m.actors[sessionID] = a
	m.wg.Add(1)
	go m.runActor(a)
	return a
}

func (m *Manager) runActor(a *sessionActor) {
	defer m.wg.Done()
	idle := time.NewTimer(sessionActorIdle)
	defer idle.Stop()
	for {
		select {
		case msg := <-a.mailbox:
			resp, err := m.serve(msg.ctx, a.id, msg.req)
			msg.reply <- sessionReply{resp: resp, err: err}
			idle.Reset(sessionActorIdle)
		case <-idle.C:
			m.retire(a)
			return
		case <-m.ctx.Done():
			m.retire(a)
			return
		}
	}
}

func (m *Manager) retire(a *sessionActor) {
	m.mu.Lock()
	delete(m.actors, a.id)
	m.mu.Unlock()
	close(a.done)
}

// serve handles one serialized request for a session.
func (m *Manager) serve(ctx context.Context, sessionID string, req *types.DecideRequest) (*types.DecideResponse, error) {
	switch req.Status {
	case "":
		return m.serveDecide(ctx, sessionID, req)
	case "playing", "paused", "buffering":
		return m.serveHeartbeat(ctx, sessionID, req)
	case "ended":
		return m.serveEnded(ctx, sessionID, req)
	case "stopped":
		return m.serveStop(ctx, sessionID)
	default:
		return nil, fmt.Errorf("unknown playback status %q", req.Status)
	}
}

// =============================================================================
// DECISION
// =============================================================================

func (m *Manager) serveDecide(ctx context.Context, sessionID string, req *types.DecideRequest) (*types.DecideResponse, error) {
	profile, version, mismatch, err := m.resolveProfile(ctx, req)
	if err != nil {
		return nil, err
	}

	item, err := m.store.GetItem(ctx, req.MetadataItemID)
	if err != nil {
		return nil, fmt.Errorf("loading item %s: %w", req.MetadataItemID, err)
	}

	decision, err := m.decideForItem(ctx, item, req.MediaItemID, profile)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session, err := m.store.GetSession(ctx, sessionID)
	created := false
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		session = &database.PlaybackSession{
			ID:       sessionID,
			ClientID: req.ClientID,
		}
		created = true
	case err != nil:
		return nil, err
	}

	// A rendition change obsoletes any transcode running for the old part.
	if !created && m.transcode != nil && session.MediaPartID != nil && *session.MediaPartID != decision.Part.ID {
		if err := m.transcode.CancelSession(ctx, sessionID); err != nil {
			logger.Warn("session %s: cancelling stale transcodes: %v", sessionID, err)
		}
	}

	session.MetadataItemID = item.ID
	session.MediaPartID = &decision.Part.ID
	session.State = database.SessionStatePlaying
	session.Decision = DecisionName(decision.Mode)
	session.CapabilityProfile = marshalProfile(profile)
	session.ProfileVersion = version
	session.LastHeartbeatAt = now
	session.ExpiresAt = now.Add(m.sessionTTL())
	if created {
		err = m.store.CreateSession(ctx, session)
	} else {
		err = m.store.SaveSession(ctx, session)
	}
	if err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	if err := m.startTranscode(ctx, session, decision, profile); err != nil {
		return nil, err
	}

	planJSON, err := decision.PlanJSON(0, m.suppressionMs())
	if err != nil {
		return nil, err
	}

	m.publishSession(eventFor(created), session, "playing")
	logger.Info("▶️ session %s: %s %q part %s (reasons: %s)",
		sessionID, session.Decision, item.Title, decision.Part.ID, decision.Reasons)

	return &types.DecideResponse{
		Action:                    types.ActionPlay,
		SessionID:                 sessionID,
		StreamPlanJSON:            planJSON,
		PlaybackURL:               decision.PlaybackURL(),
		TrickplayURL:              decision.TrickplayURL(),
		CapabilityProfileVersion:  version,
		CapabilityVersionMismatch: mismatch,
	}, nil
}

// decideForItem loads an item's renditions and runs the decision with
// the owning section's language preferences.
func (m *Manager) decideForItem(ctx context.Context, item *database.MetadataItem, mediaItemID string, profile *types.CapabilityProfile) (*Decision, error) {
	media, err := m.store.GetMediaForItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if mediaItemID != "" {
		filtered := media[:0]
		for i := range media {
			if media[i].ID == mediaItemID {
				filtered = append(filtered, media[i])
			}
		}
		media = filtered
	}
	return Decide(media, profile, m.languagePrefs(ctx, item.LibrarySectionID))
}

// languagePrefs reads the section's language overrides, falling back to
// the server-wide defaults.
func (m *Manager) languagePrefs(ctx context.Context, sectionID string) LanguagePrefs {
	prefs := LanguagePrefs{
		Audio:     m.cfg.Library.PreferredAudioLanguages,
		Subtitles: m.cfg.Library.PreferredSubtitleLanguages,
	}
	section, err := m.store.GetSection(ctx, sectionID)
	if err != nil {
		return prefs
	}
	if langs := decodeLangList(section.PreferredAudioLanguages); len(langs) > 0 {
		prefs.Audio = langs
	}
	if langs := decodeLangList(section.PreferredSubtitleLanguages); len(langs) > 0 {
		prefs.Subtitles = langs
	}
	return prefs
}

func decodeLangList(raw string) []string {
	if raw == "" {
		return nil
	}
	var langs []string
	if err := json.Unmarshal([]byte(raw), &langs); err != nil {
		return nil
	}
	return langs
}

func (m *Manager) startTranscode(ctx context.Context, session *database.PlaybackSession, decision *Decision, profile *types.CapabilityProfile) error {
	if decision.Mode != types.ModeTranscode {
		return nil
	}
	if m.transcode == nil {
		return errors.New("transcode required but no transcode service is wired")
	}
	target := decision.Target(profile, m.cfg.Transcode.EnableToneMapping)
	if _, err := m.transcode.Start(ctx, session.ID, decision.Part.ID, target); err != nil {
		return fmt.Errorf("starting transcode: %w", err)
	}
	return nil
}

// =============================================================================
// HEARTBEATS
// =============================================================================

func (m *Manager) serveHeartbeat(ctx context.Context, sessionID string, req *types.DecideRequest) (*types.DecideResponse, error) {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := database.SessionState(req.Status)
	if err := m.store.TouchSession(ctx, sessionID, req.ProgressMs, state, time.Now().Add(m.sessionTTL())); err != nil {
		return nil, err
	}
	if m.transcode != nil {
		m.transcode.NotifyHeartbeat(sessionID)
	}
	m.touchGenerator(ctx, session)

	if session.State != state {
		session.State = state
		session.PlayheadMs = req.ProgressMs
		m.publishSession(events.EventPlaybackUpdated, session, string(state))
	}

	return &types.DecideResponse{
		Action:                    types.ActionPlay,
		SessionID:                 sessionID,
		CapabilityProfileVersion:  session.ProfileVersion,
		CapabilityVersionMismatch: req.ProfileVersion != 0 && req.ProfileVersion != session.ProfileVersion,
	}, nil
}

// touchGenerator extends the expiry of the session's playlist so the
// generator outlives a long movie.
func (m *Manager) touchGenerator(ctx context.Context, session *database.PlaybackSession) {
	if m.playlist == nil {
		return
	}
	genID := m.generatorFor(ctx, session)
	if genID == "" {
		return
	}
	if err := m.playlist.Touch(ctx, genID); err != nil {
		logger.Warn("session %s: touching generator %s: %v", session.ID, genID, err)
	}
}

// generatorFor resolves the playlist generator bound to a session,
// caching the association on the session row once found.
func (m *Manager) generatorFor(ctx context.Context, session *database.PlaybackSession) string {
	if session.GeneratorID != nil && *session.GeneratorID != "" {
		return *session.GeneratorID
	}
	gen, err := m.store.FindGeneratorBySession(ctx, session.ID)
	if err != nil || gen == nil {
		return ""
	}
	session.GeneratorID = &gen.ID
	if err := m.store.SaveSession(ctx, session); err != nil {
		logger.Warn("session %s: caching generator id: %v", session.ID, err)
	}
	return gen.ID
}

// =============================================================================
// END OF ITEM
// =============================================================================

func (m *Manager) serveEnded(ctx context.Context, sessionID string, req *types.DecideRequest) (*types.DecideResponse, error) {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A stale ended for an item the session already moved past.
	if req.CurrentItemID != "" && req.CurrentItemID != session.MetadataItemID {
		logger.Debug("session %s: ignoring ended for stale item %s", sessionID, req.CurrentItemID)
		return &types.DecideResponse{
			Action:                   types.ActionPlay,
			SessionID:                sessionID,
			CapabilityProfileVersion: session.ProfileVersion,
		}, nil
	}

	// Streams reloaded after a seek lose their duration, so players fire
	// ended long before the content is over. Inside the suppression
	// window the event counts as buffering, not completion.
	if remaining := m.remainingMs(ctx, session, req.ProgressMs); remaining > m.suppressionMs() {
		logger.Info("⏸️ session %s: suppressing ended with %dms remaining", sessionID, remaining)
		if err := m.store.TouchSession(ctx, sessionID, req.ProgressMs, database.SessionStateBuffering, time.Now().Add(m.sessionTTL())); err != nil {
			return nil, err
		}
		return &types.DecideResponse{
			Action:                   types.ActionPlay,
			SessionID:                sessionID,
			CapabilityProfileVersion: session.ProfileVersion,
		}, nil
	}

	genID := m.generatorFor(ctx, session)
	if genID == "" || m.playlist == nil {
		return m.finishStopped(ctx, session)
	}

	entry, err := m.playlist.Next(ctx, genID)
	if err != nil {
		return nil, fmt.Errorf("advancing playlist %s: %w", genID, err)
	}
	if entry == nil {
		logger.Info("⏹️ session %s: playlist exhausted", sessionID)
		return m.finishStopped(ctx, session)
	}
	return m.advanceTo(ctx, session, entry)
}

// advanceTo rebinds the session to the playlist's next item and returns
// the next-plus-plan payload.
func (m *Manager) advanceTo(ctx context.Context, session *database.PlaybackSession, entry *types.PlaylistEntry) (*types.DecideResponse, error) {
	item, err := m.store.GetItem(ctx, entry.MetadataItemID)
	if err != nil {
		return nil, fmt.Errorf("loading next item %s: %w", entry.MetadataItemID, err)
	}

	profile := m.sessionProfile(session)
	decision, err := m.decideForItem(ctx, item, entry.MediaItemID, profile)
	if err != nil {
		return nil, err
	}

	if m.transcode != nil {
		if err := m.transcode.CancelSession(ctx, session.ID); err != nil {
			logger.Warn("session %s: cancelling transcodes before advance: %v", session.ID, err)
		}
	}

	now := time.Now()
	session.MetadataItemID = item.ID
	session.MediaPartID = &decision.Part.ID
	session.State = database.SessionStatePlaying
	session.PlayheadMs = 0
	session.Decision = DecisionName(decision.Mode)
	session.LastHeartbeatAt = now
	session.ExpiresAt = now.Add(m.sessionTTL())
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("persisting session advance: %w", err)
	}

	if err := m.startTranscode(ctx, session, decision, profile); err != nil {
		return nil, err
	}

	planJSON, err := decision.PlanJSON(0, m.suppressionMs())
	if err != nil {
		return nil, err
	}

	m.publishSession(events.EventPlaybackUpdated, session, "playing")
	logger.Info("⏭️ session %s: next %q (%s)", session.ID, item.Title, session.Decision)

	return &types.DecideResponse{
		Action:                   types.ActionNext,
		SessionID:                session.ID,
		StreamPlanJSON:           planJSON,
		PlaybackURL:              decision.PlaybackURL(),
		TrickplayURL:             decision.TrickplayURL(),
		NextItemID:               item.ID,
		NextItemTitle:            item.Title,
		CapabilityProfileVersion: session.ProfileVersion,
	}, nil
}

// remainingMs computes how much of the playing part is left. Zero when
// the duration is unknown, which disables suppression.
func (m *Manager) remainingMs(ctx context.Context, session *database.PlaybackSession, progressMs int64) int64 {
	if session.MediaPartID == nil {
		return 0
	}
	part, err := m.store.GetPart(ctx, *session.MediaPartID)
	if err != nil || part.DurationMs == 0 {
		return 0
	}
	remaining := part.DurationMs - progressMs
	if remaining < 0 {
		return 0
	}
	return remaining
}

// =============================================================================
// STOP
// =============================================================================

func (m *Manager) serveStop(ctx context.Context, sessionID string) (*types.DecideResponse, error) {
	session, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.finishStopped(ctx, session)
}

func (m *Manager) finishStopped(ctx context.Context, session *database.PlaybackSession) (*types.DecideResponse, error) {
	if m.transcode != nil {
		if err := m.transcode.CancelSession(ctx, session.ID); err != nil {
			logger.Warn("session %s: cancelling transcodes on stop: %v", session.ID, err)
		}
	}
	session.State = database.SessionStateStopped
	session.LastHeartbeatAt = time.Now()
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	m.publishSession(events.EventPlaybackUpdated, session, "stopped")
	logger.Info("⏹️ session %s stopped at %dms", session.ID, session.PlayheadMs)
	return &types.DecideResponse{
		Action:                   types.ActionStop,
		SessionID:                session.ID,
		CapabilityProfileVersion: session.ProfileVersion,
	}, nil
}

// =============================================================================
// CAPABILITY PROFILES
// =============================================================================

// resolveProfile settles which capability profile a decision runs
// against: the one in the request (cached for next time), the client's
// stored profile, or the conservative web baseline.
func (m *Manager) resolveProfile(ctx context.Context, req *types.DecideRequest) (*types.CapabilityProfile, int64, bool, error) {
	cached, err := m.store.GetClientProfile(ctx, req.ClientID)
	if err != nil {
		return nil, 0, false, err
	}

	if req.Profile != nil {
		if req.Profile.Version == 0 {
			req.Profile.Version = req.ProfileVersion
		}
		if cached == nil || cached.Version != req.Profile.Version {
			if err := m.store.SaveClientProfile(ctx, &database.ClientProfile{
				ClientID: req.ClientID,
				Version:  req.Profile.Version,
				Profile:  marshalProfile(req.Profile),
			}); err != nil {
				return nil, 0, false, fmt.Errorf("caching client profile: %w", err)
			}
		}
		return req.Profile, req.Profile.Version, false, nil
	}

	if cached == nil {
		// Client referenced a profile the server never saw. Decide
		// conservatively and flag the mismatch so it re-sends.
		return defaultProfile(), 0, req.ProfileVersion != 0, nil
	}

	var profile types.CapabilityProfile
	if err := json.Unmarshal([]byte(cached.Profile), &profile); err != nil {
		logger.Warn("client %s: stored profile unparsable, using baseline: %v", req.ClientID, err)
		return defaultProfile(), cached.Version, true, nil
	}
	return &profile, cached.Version, req.ProfileVersion != cached.Version, nil
}

// sessionProfile recovers the profile snapshot a session was opened
// with, for decisions made mid-session (playlist advance).
func (m *Manager) sessionProfile(session *database.PlaybackSession) *types.CapabilityProfile {
	var profile types.CapabilityProfile
	if session.CapabilityProfile == "" || json.Unmarshal([]byte(session.CapabilityProfile), &profile) != nil {
		return defaultProfile()
	}
	return &profile
}

// defaultProfile is the lowest common denominator every browser
// handles: h264/aac in mp4 with client-side VTT.
func defaultProfile() *types.CapabilityProfile {
	return &types.CapabilityProfile{
		Containers:      []string{"mp4"},
		Video:           []types.VideoCapability{{Codec: "h264"}},
		Audio:           []types.AudioCapability{{Codec: "aac"}, {Codec: "mp3"}},
		SubtitleFormats: []string{"vtt"},
	}
}

func marshalProfile(p *types.CapabilityProfile) string {
	raw, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(raw)
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) loadSession(ctx context.Context, sessionID string) (*database.PlaybackSession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, err
}

func (m *Manager) sessionTTL() time.Duration {
	days := m.cfg.Playback.ExpiryDays
	if days <= 0 {
		days = 3
	}
	return time.Duration(days) * 24 * time.Hour
}

func (m *Manager) suppressionMs() int64 {
	window := m.cfg.Playback.EndSuppressionWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	return window.Milliseconds()
}

func (m *Manager) publishSession(eventType events.EventType, session *database.PlaybackSession, state string) {
	if m.eventBus == nil {
		return
	}
	partID := ""
	if session.MediaPartID != nil {
		partID = *session.MediaPartID
	}
	m.eventBus.PublishAsync(events.NewPlaybackSessionEvent(eventType, events.PlaybackSessionData{
		SessionID:  session.ID,
		ItemID:     session.MetadataItemID,
		PartID:     partID,
		ClientID:   session.ClientID,
		Decision:   session.Decision,
		PositionMs: session.PlayheadMs,
		State:      state,
	}))
}

func eventFor(created bool) events.EventType {
	if created {
		return events.EventPlaybackStarted
	}
	return events.EventPlaybackUpdated
}

package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// PLAYBACK SESSIONS
// =============================================================================

// CreateSession persists a new playback session
func (s *Store) CreateSession(ctx context.Context, session *PlaybackSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession loads one session by id
func (s *Store) GetSession(ctx context.Context, id string) (*PlaybackSession, error) {
	var session PlaybackSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// SaveSession writes every field of an existing session
func (s *Store) SaveSession(ctx context.Context, session *PlaybackSession) error {
	return s.db.WithContext(ctx).Save(session).Error
}

// TouchSession records a heartbeat: playhead, state and a pushed-out
// expiry in one update
func (s *Store) TouchSession(ctx context.Context, id string, playheadMs int64, state SessionState, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Model(&PlaybackSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"playhead_ms":       playheadMs,
			"state":             state,
			"last_heartbeat_at": time.Now(),
			"expires_at":        expiresAt,
		}).Error
}

// ListActiveSessions returns sessions that have not yet expired
func (s *Store) ListActiveSessions(ctx context.Context) ([]PlaybackSession, error) {
	var sessions []PlaybackSession
	err := s.db.WithContext(ctx).
		Where("expires_at > ?", time.Now()).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// ListExpiredSessions returns sessions past their expiry, for the reaper
func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time) ([]PlaybackSession, error) {
	var sessions []PlaybackSession
	err := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Find(&sessions).Error
	return sessions, err
}

// DeleteSession removes a session row
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&PlaybackSession{}, "id = ?", id).Error
}

// FindSessionByClient returns a client's most recent session for an
// item. Returns nil without error on a miss.
func (s *Store) FindSessionByClient(ctx context.Context, clientID, metadataItemID string) (*PlaybackSession, error) {
	var session PlaybackSession
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND metadata_item_id = ?", clientID, metadataItemID).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// =============================================================================
// CLIENT PROFILES
// =============================================================================

// SaveClientProfile upserts a client's capability profile
func (s *Store) SaveClientProfile(ctx context.Context, profile *ClientProfile) error {
	profile.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}},
			UpdateAll: true,
		}).
		Create(profile).Error
}

// GetClientProfile loads a stored capability profile.
// Returns nil without error when the client has never registered one.
func (s *Store) GetClientProfile(ctx context.Context, clientID string) (*ClientProfile, error) {
	var profile ClientProfile
	err := s.db.WithContext(ctx).First(&profile, "client_id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// =============================================================================
// PLAYLIST GENERATORS
// =============================================================================

// CreateGenerator persists a generator row
func (s *Store) CreateGenerator(ctx context.Context, gen *PlaylistGenerator) error {
	if gen.ID == "" {
		gen.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(gen).Error
}

// GetGenerator loads one generator by id
func (s *Store) GetGenerator(ctx context.Context, id string) (*PlaylistGenerator, error) {
	var gen PlaylistGenerator
	if err := s.db.WithContext(ctx).First(&gen, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &gen, nil
}

// SaveGenerator writes every field of an existing generator
func (s *Store) SaveGenerator(ctx context.Context, gen *PlaylistGenerator) error {
	return s.db.WithContext(ctx).Save(gen).Error
}

// FindGeneratorBySession returns the newest generator bound to a
// playback session. Returns nil without error on a miss.
func (s *Store) FindGeneratorBySession(ctx context.Context, sessionID string) (*PlaylistGenerator, error) {
	var gen PlaylistGenerator
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		First(&gen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// TouchGenerator pushes out a generator's expiry on access
func (s *Store) TouchGenerator(ctx context.Context, id string, expiresAt time.Time) error {
	return s.db.WithContext(ctx).Model(&PlaylistGenerator{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_access_at": time.Now(),
			"expires_at":     expiresAt,
		}).Error
}

// AppendGeneratorItems materializes a chunk of playlist entries
func (s *Store) AppendGeneratorItems(ctx context.Context, items []PlaylistGeneratorItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
	}
	return s.db.WithContext(ctx).Create(&items).Error
}

// ListGeneratorItems returns a window of materialized entries in
// playlist order
func (s *Store) ListGeneratorItems(ctx context.Context, generatorID string, offset, limit int) ([]PlaylistGeneratorItem, error) {
	q := s.db.WithContext(ctx).
		Where("generator_id = ?", generatorID).
		Order("sort_order ASC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var items []PlaylistGeneratorItem
	err := q.Find(&items).Error
	return items, err
}

// CountGeneratorItems returns how many entries a generator has
// materialized so far
func (s *Store) CountGeneratorItems(ctx context.Context, generatorID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&PlaylistGeneratorItem{}).
		Where("generator_id = ?", generatorID).
		Count(&count).Error
	return count, err
}

// MarkGeneratorItemServed flags an entry as handed to the client
func (s *Store) MarkGeneratorItemServed(ctx context.Context, generatorID string, sortOrder int) error {
	return s.db.WithContext(ctx).Model(&PlaylistGeneratorItem{}).
		Where("generator_id = ? AND sort_order = ?", generatorID, sortOrder).
		Update("served", true).Error
}

// DeleteExpiredGenerators removes generators past their expiry together
// with their materialized entries. Returns how many were collected.
func (s *Store) DeleteExpiredGenerators(ctx context.Context, now time.Time) (int64, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&PlaylistGenerator{}).
		Where("expires_at <= ?", now).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	err = s.WithTx(ctx, func(tx *Store) error {
		if err := tx.db.Where("generator_id IN ?", ids).Delete(&PlaylistGeneratorItem{}).Error; err != nil {
			return err
		}
		return tx.db.Where("id IN ?", ids).Delete(&PlaylistGenerator{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// DeleteGenerator removes one generator and its entries
func (s *Store) DeleteGenerator(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.db.Where("generator_id = ?", id).Delete(&PlaylistGeneratorItem{}).Error; err != nil {
			return err
		}
		return tx.db.Delete(&PlaylistGenerator{}, "id = ?", id).Error
	})
}

// =============================================================================
// TRANSCODE JOBS
// =============================================================================

// CreateTranscodeJob persists a new job row
func (s *Store) CreateTranscodeJob(ctx context.Context, job *TranscodeJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// GetTranscodeJob loads one job by id
func (s *Store) GetTranscodeJob(ctx context.Context, id string) (*TranscodeJob, error) {
	var job TranscodeJob
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// SaveTranscodeJob writes every field of an existing job
func (s *Store) SaveTranscodeJob(ctx context.Context, job *TranscodeJob) error {
	return s.db.WithContext(ctx).Save(job).Error
}

// ListRunningJobs returns jobs not yet in a terminal state
func (s *Store) ListRunningJobs(ctx context.Context) ([]TranscodeJob, error) {
	var jobs []TranscodeJob
	err := s.db.WithContext(ctx).
		Where("status IN ?", []JobStatus{JobStatusPending, JobStatusRunning}).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// FindRunningJob returns a session's live job for a part, if any.
// Returns nil without error on a miss.
func (s *Store) FindRunningJob(ctx context.Context, sessionID, mediaPartID string) (*TranscodeJob, error) {
	var job TranscodeJob
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND media_part_id = ? AND status IN ?",
			sessionID, mediaPartID, []JobStatus{JobStatusPending, JobStatusRunning}).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListStaleJobs returns running jobs whose supervisor has stopped
// pinging, candidates for orphan cleanup after a crash
func (s *Store) ListStaleJobs(ctx context.Context, cutoff time.Time) ([]TranscodeJob, error) {
	var jobs []TranscodeJob
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_ping_at < ?", JobStatusRunning, cutoff).
		Find(&jobs).Error
	return jobs, err
}

// ListJobsBySession returns every job a session has spawned
func (s *Store) ListJobsBySession(ctx context.Context, sessionID string) ([]TranscodeJob, error) {
	var jobs []TranscodeJob
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// FindJobForPart returns the newest non-failed job for a part, used by
// the stream handlers to locate the output directory when the request
// carries no session. Returns nil without error on a miss.
func (s *Store) FindJobForPart(ctx context.Context, mediaPartID string) (*TranscodeJob, error) {
	var job TranscodeJob
	err := s.db.WithContext(ctx).
		Where("media_part_id = ? AND status IN ?", mediaPartID,
			[]JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted}).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

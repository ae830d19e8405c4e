package transcodemodule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/types"
)

var (
	ErrJobNotFound  = errors.New("transcode job not found")
	ErrShuttingDown = errors.New("transcode supervisor shutting down")
)

// reconcileInterval drives the periodic sweep between mailbox messages:
// launch watchdog, heartbeat reaping, orphaned row cleanup.
const reconcileInterval = 5 * time.Second

// jobProcess is one live ffmpeg invocation. The real implementation
// wraps an exec.Cmd in its own process group; tests script a fake.
type jobProcess interface {
	Pid() int
	// Progress is the -progress pipe:1 stream.
	Progress() io.Reader
	// Wait blocks until the process exits.
	Wait() error
	// Kill terminates the whole process group.
	Kill() error
	// StderrTail is the captured end of stderr, valid after Wait.
	StderrTail() string
}

type spawnFunc func(args []string) (jobProcess, error)

// trackedJob pairs a job row with its live process state. Owned by the
// reconciler goroutine. Entries outlive process exit: a completed job
// keeps its output on disk until the session heartbeat lapses.
type trackedJob struct {
	row        *database.TranscodeJob
	part       *database.MediaPart
	target     types.TranscodeTarget
	proc       jobProcess
	durationMs int64
	startedAt  time.Time
	progressed bool
	swRetried  bool
	lastWhole  int
}

// Manager supervises ffmpeg jobs for playback sessions. One reconciler
// goroutine owns the process table; starts, cancels, heartbeats and
// process exits are messages into it, so job state never races. The
// ffmpeg children themselves are unbounded.
type Manager struct {
	store    *database.Store
	cfg      *config.Config
	eventBus events.EventBus
	ffmpeg   *ffmpeg.Client

	// spawn launches one ffmpeg invocation; swapped for a fake in tests.
	spawn spawnFunc

	mailbox chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Reconciler-owned. Never touched from other goroutines.
	jobs       map[string]*trackedJob
	heartbeats map[string]time.Time

	// Written once during startup verification, before any job starts.
	hwVerified bool
}

func NewManager(store *database.Store, cfg *config.Config, eventBus events.EventBus, ff *ffmpeg.Client) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:      store,
		cfg:        cfg,
		eventBus:   eventBus,
		ffmpeg:     ff,
		mailbox:    make(chan func(), 64),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*trackedJob),
		heartbeats: make(map[string]time.Time),
	}
	m.spawn = m.spawnFFmpeg
	m.wg.Add(1)
	go m.runReconciler()
	return m
}

// Shutdown kills every live job and waits for the reconciler and its
// pumps to finish.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// Start launches a job for the session and part, or returns the live
// one when the target matches. A different target cancels the old job
// first, so at most one job runs per (session, part).
func (m *Manager) Start(ctx context.Context, sessionID, partID string, target types.TranscodeTarget) (*database.TranscodeJob, error) {
	type reply struct {
		job *database.TranscodeJob
		err error
	}
	ch := make(chan reply, 1)
	if err := m.send(ctx, func() {
		job, err := m.startJob(sessionID, partID, target)
		ch <- reply{job, err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.job, r.err
	case <-m.ctx.Done():
		return nil, ErrShuttingDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops one job and removes its output.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	ch := make(chan error, 1)
	if err := m.send(ctx, func() { ch <- m.cancelJob(jobID) }); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-m.ctx.Done():
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelSession stops every job belonging to a session, completed ones
// included: their output directories are released with the session.
func (m *Manager) CancelSession(ctx context.Context, sessionID string) error {
	ch := make(chan error, 1)
	if err := m.send(ctx, func() { ch <- m.cancelSessionJobs(sessionID) }); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-m.ctx.Done():
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetJob reads the persisted job row. Reads skip the reconciler; rows
// are only written from it and callers tolerate slightly stale state.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*database.TranscodeJob, error) {
	job, err := m.store.GetTranscodeJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// NotifyHeartbeat records a session ping. Non-blocking: dropping one
// is harmless, the next arrives within seconds.
func (m *Manager) NotifyHeartbeat(sessionID string) {
	select {
	case m.mailbox <- func() { m.heartbeats[sessionID] = time.Now() }:
	default:
	}
}

// send queues a message for the reconciler. The mailbox is buffered,
// so a closed manager is checked first: a queued message nobody will
// run must not look like an accepted one.
func (m *Manager) send(ctx context.Context, fn func()) error {
	select {
	case <-m.ctx.Done():
		return ErrShuttingDown
	default:
	}
	select {
	case m.mailbox <- fn:
		return nil
	case <-m.ctx.Done():
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepOrphans cleans up after a previous server process: rows still
// marked pending or running have no process behind them anymore, and
// every directory under the transcode root is dead weight. Called once
// during startup, before any job can start.
func (m *Manager) SweepOrphans(ctx context.Context) {
	rows, err := m.store.ListRunningJobs(ctx)
	if err != nil {
		logger.Error("listing leftover transcode jobs: %v", err)
	}
	for i := range rows {
		m.settleRow(&rows[i], database.JobStatusFailed, "server restarted")
	}
	removed := 0
	if entries, err := os.ReadDir(m.cfg.Transcode.OutputDir); err == nil {
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(m.cfg.Transcode.OutputDir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if len(rows) > 0 || removed > 0 {
		logger.Info("🧹 transcode sweep: %d leftover jobs failed, %d output dirs removed", len(rows), removed)
	}
}

// VerifyHardware test-encodes a few null frames through the probed
// hardware encoder. An encoder being listed does not mean the driver
// behind it works. Called once during startup when hardware accel is
// enabled.
func (m *Manager) VerifyHardware(ctx context.Context) {
	if !m.cfg.Transcode.UseHardwareAcceleration {
		return
	}
	enc := m.ffmpeg.VideoEncoder("h264")
	if enc == "libx264" {
		logger.Info("no hardware h264 encoder found, transcoding in software")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Transcode.LaunchTimeout)
	defer cancel()
	out, err := m.ffmpeg.Exec(ctx,
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "color=black:s=320x240:d=0.2",
		"-frames:v", "3", "-c:v", enc,
		"-f", "null", "-")
	if err != nil {
		logger.Warn("hardware encoder %s failed verification, transcoding in software: %v (%s)",
			enc, err, strings.TrimSpace(string(out)))
		return
	}
	m.hwVerified = true
	logger.Info("✅ hardware encoder %s verified", enc)
}

func (m *Manager) runReconciler() {
	defer m.wg.Done()
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case fn := <-m.mailbox:
			fn()
		case <-ticker.C:
			m.tick()
		case <-m.ctx.Done():
			for _, tj := range m.jobs {
				m.terminate(tj, database.JobStatusCancelled, "server shutting down")
			}
			return
		}
	}
}

// startJob runs on the reconciler goroutine. Idempotent for a matching
// target: the caller gets the existing job, running or already done.
func (m *Manager) startJob(sessionID, partID string, target types.TranscodeTarget) (*database.TranscodeJob, error) {
	if tj := m.findTracked(sessionID, partID); tj != nil {
		if tj.target == target && tj.row.Status != database.JobStatusFailed {
			m.heartbeats[sessionID] = time.Now()
			out := *tj.row
			return &out, nil
		}
		m.terminate(tj, database.JobStatusCancelled, "superseded by new target")
	}
	if stale, err := m.store.FindRunningJob(context.Background(), sessionID, partID); err == nil && stale != nil {
		m.settleRow(stale, database.JobStatusFailed, "no live process")
	}
	return m.launch(sessionID, partID, target)
}

func (m *Manager) launch(sessionID, partID string, target types.TranscodeTarget) (*database.TranscodeJob, error) {
	ctx := context.Background()
	part, err := m.store.GetPart(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("loading part %s: %w", partID, err)
	}

	now := time.Now()
	job := &database.TranscodeJob{
		ID:               uuid.New().String(),
		SessionID:        sessionID,
		MediaPartID:      partID,
		Status:           database.JobStatusPending,
		Container:        target.Container,
		VideoCodec:       target.VideoCodec,
		AudioCodec:       target.AudioCodec,
		VideoBitrateKbps: target.VideoBitrateKbps,
		AudioBitrateKbps: target.AudioBitrateKbps,
		Width:            target.Width,
		Height:           target.Height,
		AudioChannels:    target.AudioChannels,
		HardwareAccel:    m.useHardware(),
		ToneMapping:      target.ToneMapping,
		SeekMs:           target.SeekMs,
		LastPingAt:       now,
	}
	job.OutputDir = filepath.Join(m.cfg.Transcode.OutputDir, job.ID)
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating transcode output dir: %w", err)
	}
	if err := m.store.CreateTranscodeJob(ctx, job); err != nil {
		os.RemoveAll(job.OutputDir)
		return nil, err
	}

	// Progress percent is measured against what remains after the seek
	// offset, not the full part.
	remaining := part.DurationMs - target.SeekMs
	if remaining < 1 {
		remaining = 1
	}
	tj := &trackedJob{
		row:        job,
		part:       part,
		target:     target,
		durationMs: remaining,
	}
	if err := m.spawnInto(tj); err != nil {
		m.settleRow(job, database.JobStatusFailed, "ffmpeg launch: "+err.Error())
		return nil, fmt.Errorf("launching ffmpeg: %w", err)
	}

	job.Status = database.JobStatusRunning
	job.StartedAt = &tj.startedAt
	if err := m.store.SaveTranscodeJob(ctx, job); err != nil {
		logger.Error("saving transcode job %s: %v", job.ID, err)
	}

	m.jobs[job.ID] = tj
	m.heartbeats[sessionID] = tj.startedAt

	logger.Info("🎬 transcode job %s: %s -> %s/%s seek=%dms hw=%t",
		job.ID, filepath.Base(part.File), target.Container, target.VideoCodec, target.SeekMs, job.HardwareAccel)
	m.publish(events.EventTranscodeStarted, job, "")

	out := *job
	return &out, nil
}

// spawnInto starts ffmpeg for the tracked job and wires the progress
// and exit pumps.
func (m *Manager) spawnInto(tj *trackedJob) error {
	args := buildArgs(m.ffmpeg, tj.part, tj.target, tj.row.OutputDir, m.segmentSeconds(), tj.row.HardwareAccel)
	proc, err := m.spawn(args)
	if err != nil {
		return err
	}
	tj.proc = proc
	tj.progressed = false
	tj.startedAt = time.Now()
	tj.row.PID = proc.Pid()
	m.wg.Add(2)
	go m.pumpProgress(tj.row.ID, proc)
	go m.awaitExit(tj.row.ID, proc)
	return nil
}

// pumpProgress reads the -progress stream and feeds snapshots back
// into the reconciler.
func (m *Manager) pumpProgress(jobID string, proc jobProcess) {
	defer m.wg.Done()
	_ = ffmpeg.ReadProgress(proc.Progress(), func(p ffmpeg.Progress) {
		select {
		case m.mailbox <- func() { m.noteProgress(jobID, p) }:
		case <-m.ctx.Done():
		}
	})
}

func (m *Manager) awaitExit(jobID string, proc jobProcess) {
	defer m.wg.Done()
	err := proc.Wait()
	select {
	case m.mailbox <- func() { m.noteExit(jobID, err, proc.StderrTail()) }:
	case <-m.ctx.Done():
	}
}

func (m *Manager) noteProgress(jobID string, p ffmpeg.Progress) {
	tj, ok := m.jobs[jobID]
	if !ok || tj.row.Status != database.JobStatusRunning {
		return
	}
	tj.progressed = true
	percent := tj.row.Progress
	if tj.durationMs > 0 && p.OutTimeMs > 0 {
		percent = float64(p.OutTimeMs) / float64(tj.durationMs) * 100
		if percent > 100 {
			percent = 100
		}
	}
	tj.row.Progress = percent
	tj.row.SpeedX = p.Speed
	// Progress counts as a heartbeat: an encode that is still producing
	// output is still wanted.
	tj.row.LastPingAt = time.Now()
	if err := m.store.SaveTranscodeJob(context.Background(), tj.row); err != nil {
		logger.Error("saving transcode progress for %s: %v", jobID, err)
	}
	if whole := int(percent); whole > tj.lastWhole {
		tj.lastWhole = whole
		m.publish(events.EventTranscodeProgress, tj.row, "")
	}
}

func (m *Manager) noteExit(jobID string, waitErr error, stderrTail string) {
	tj, ok := m.jobs[jobID]
	if !ok || tj.row.Status.IsTerminal() {
		return
	}
	tj.proc = nil
	tail := strings.TrimSpace(stderrTail)

	if waitErr != nil {
		if tj.row.HardwareAccel && !tj.swRetried && ffmpeg.IsHardwareAccelError(errors.New(tail)) {
			tj.swRetried = true
			tj.row.HardwareAccel = false
			logger.Warn("🔁 transcode job %s: hardware encode failed, retrying in software", jobID)
			if err := m.spawnInto(tj); err == nil {
				if err := m.store.SaveTranscodeJob(context.Background(), tj.row); err != nil {
					logger.Error("saving transcode job %s: %v", jobID, err)
				}
				return
			}
		}
		msg := waitErr.Error()
		if tail != "" {
			msg += ": " + tail
		}
		logger.Error("❌ transcode job %s failed: %s", jobID, msg)
		m.terminate(tj, database.JobStatusFailed, msg)
		return
	}

	now := time.Now()
	tj.row.Status = database.JobStatusCompleted
	tj.row.Progress = 100
	tj.row.PID = 0
	tj.row.CompletedAt = &now
	if err := m.store.SaveTranscodeJob(context.Background(), tj.row); err != nil {
		logger.Error("saving transcode job %s: %v", jobID, err)
	}
	logger.Info("✅ transcode job %s completed", jobID)
	m.publish(events.EventTranscodeCompleted, tj.row, "")
	// The entry stays tracked with its output on disk: the session is
	// still streaming the segments. The heartbeat reaper releases it.
}

// tick is the periodic reconcile pass: launch watchdog, heartbeat
// reaping, and a sweep for rows stuck running in the database with no
// process behind them.
func (m *Manager) tick() {
	now := time.Now()
	for _, tj := range m.jobs {
		if tj.row.Status == database.JobStatusRunning && !tj.progressed &&
			now.Sub(tj.startedAt) > m.cfg.Transcode.LaunchTimeout {
			m.terminate(tj, database.JobStatusFailed, "no ffmpeg progress within launch timeout")
			continue
		}
		if now.Sub(m.lastSeen(tj)) > m.cfg.Transcode.HeartbeatTimeout {
			logger.Info("🧹 transcode job %s: session %s heartbeat lost", tj.row.ID, tj.row.SessionID)
			m.terminate(tj, database.JobStatusCancelled, "session heartbeat lost")
		}
	}

	stale, err := m.store.ListStaleJobs(context.Background(), now.Add(-m.cfg.Transcode.HeartbeatTimeout))
	if err != nil {
		return
	}
	for i := range stale {
		if _, live := m.jobs[stale[i].ID]; live {
			continue
		}
		m.settleRow(&stale[i], database.JobStatusFailed, "no live process")
	}
}

// lastSeen is the freshest evidence the job is still wanted: the
// session heartbeat or the job's own progress pings.
func (m *Manager) lastSeen(tj *trackedJob) time.Time {
	seen := tj.row.LastPingAt
	if hb, ok := m.heartbeats[tj.row.SessionID]; ok && hb.After(seen) {
		seen = hb
	}
	return seen
}

func (m *Manager) cancelJob(jobID string) error {
	if tj, ok := m.jobs[jobID]; ok {
		m.terminate(tj, database.JobStatusCancelled, "cancelled")
		return nil
	}
	row, err := m.store.GetTranscodeJob(context.Background(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	m.settleRow(row, database.JobStatusCancelled, "cancelled")
	return nil
}

func (m *Manager) cancelSessionJobs(sessionID string) error {
	for _, tj := range m.jobs {
		if tj.row.SessionID == sessionID {
			m.terminate(tj, database.JobStatusCancelled, "session stopped")
		}
	}
	rows, err := m.store.ListJobsBySession(context.Background(), sessionID)
	if err != nil {
		return err
	}
	for i := range rows {
		if _, live := m.jobs[rows[i].ID]; live {
			continue
		}
		m.settleRow(&rows[i], database.JobStatusCancelled, "session stopped")
	}
	delete(m.heartbeats, sessionID)
	return nil
}

// terminate is the single exit path for a tracked job: kill the
// process, settle the row, remove the output, drop the entry.
func (m *Manager) terminate(tj *trackedJob, status database.JobStatus, message string) {
	if tj.proc != nil {
		if err := tj.proc.Kill(); err != nil {
			logger.Warn("killing transcode job %s: %v", tj.row.ID, err)
		}
		tj.proc = nil
	}
	m.settleRow(tj.row, status, message)
	delete(m.jobs, tj.row.ID)
	m.forgetSessionIfIdle(tj.row.SessionID)
}

// settleRow persists a terminal state for a row and removes its
// output directory. Rows already terminal keep their status; only the
// output is released.
func (m *Manager) settleRow(row *database.TranscodeJob, status database.JobStatus, message string) {
	if !row.Status.IsTerminal() {
		now := time.Now()
		row.Status = status
		row.ErrorMessage = message
		row.PID = 0
		row.CompletedAt = &now
		if err := m.store.SaveTranscodeJob(context.Background(), row); err != nil {
			logger.Error("saving transcode job %s: %v", row.ID, err)
		}
		if status == database.JobStatusFailed {
			m.publish(events.EventTranscodeFailed, row, message)
		}
	}
	m.removeOutput(row)
}

func (m *Manager) removeOutput(row *database.TranscodeJob) {
	if row.OutputDir == "" {
		return
	}
	// Refuse to remove anything outside the transcode root.
	rel, err := filepath.Rel(m.cfg.Transcode.OutputDir, row.OutputDir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		logger.Warn("not removing transcode output %s: outside %s", row.OutputDir, m.cfg.Transcode.OutputDir)
		return
	}
	if err := os.RemoveAll(row.OutputDir); err != nil {
		logger.Warn("removing transcode output %s: %v", row.OutputDir, err)
	}
}

func (m *Manager) forgetSessionIfIdle(sessionID string) {
	for _, tj := range m.jobs {
		if tj.row.SessionID == sessionID {
			return
		}
	}
	delete(m.heartbeats, sessionID)
}

func (m *Manager) findTracked(sessionID, partID string) *trackedJob {
	for _, tj := range m.jobs {
		if tj.row.SessionID == sessionID && tj.row.MediaPartID == partID {
			return tj
		}
	}
	return nil
}

func (m *Manager) useHardware() bool {
	return m.cfg.Transcode.UseHardwareAcceleration && m.hwVerified
}

func (m *Manager) segmentSeconds() int {
	sec := int(m.cfg.Transcode.SegmentDuration / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

func (m *Manager) publish(eventType events.EventType, row *database.TranscodeJob, errMsg string) {
	if m.eventBus == nil {
		return
	}
	event := events.NewTranscodeEvent(eventType, events.TranscodeEventData{
		JobID:     row.ID,
		SessionID: row.SessionID,
		PartID:    row.MediaPartID,
		Container: row.Container,
		Progress:  row.Progress,
		Speed:     row.SpeedX,
		Error:     errMsg,
	})
	if err := m.eventBus.PublishAsync(event); err != nil {
		logger.Warn("publishing transcode event: %v", err)
	}
}

// ffmpegProcess wraps a live exec.Cmd running in its own process group.
type ffmpegProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
}

func (p *ffmpegProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *ffmpegProcess) Progress() io.Reader { return p.stdout }
func (p *ffmpegProcess) Wait() error         { return p.cmd.Wait() }
func (p *ffmpegProcess) Kill() error         { return ffmpeg.KillProcessGroup(p.cmd) }
func (p *ffmpegProcess) StderrTail() string  { return p.stderr.String() }

func (m *Manager) spawnFFmpeg(args []string) (jobProcess, error) {
	cmd := exec.Command(m.ffmpeg.FFmpegPath(), args...)
	ffmpeg.SetProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	tail := &tailBuffer{limit: 4096}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &ffmpegProcess{cmd: cmd, stdout: stdout, stderr: tail}, nil
}

// tailBuffer keeps the last limit bytes written. FFmpeg puts the
// useful error at the end of stderr.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

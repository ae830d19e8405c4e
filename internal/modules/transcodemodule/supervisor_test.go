package transcodemodule

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/ffmpeg"
	"github.com/medley-tv/medley/internal/types"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&database.LibrarySection{},
		&database.MetadataItem{},
		&database.MediaItem{}, &database.MediaPart{}, &database.MediaStream{},
		&database.TranscodeJob{},
	))
	return database.NewStore(db)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Transcode.OutputDir = t.TempDir()
	return cfg
}

// errRunner fails every probe, which pins encoder selection to the
// software fallbacks.
type errRunner struct{}

func (errRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return nil, errors.New("not available")
}

func newTestManager(t *testing.T, store *database.Store, cfg *config.Config) (*Manager, *fakeSpawner) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	m := NewManager(store, cfg, nil, ffmpeg.NewWithRunner(errRunner{}))
	spawner := &fakeSpawner{}
	m.spawn = spawner.spawn
	t.Cleanup(m.Shutdown)
	return m, spawner
}

func seedPart(t *testing.T, store *database.Store, durationMs int64) string {
	t.Helper()
	ctx := context.Background()
	section := &database.LibrarySection{ID: uuid.New().String(), Name: "Movies", Type: database.LibraryTypeMovie}
	require.NoError(t, store.CreateSection(ctx, section))
	item := &database.MetadataItem{
		ID:               uuid.New().String(),
		LibrarySectionID: section.ID,
		Kind:             database.KindMovie,
		Title:            "Heat",
	}
	require.NoError(t, store.CreateItem(ctx, item))
	media := &database.MediaItem{
		ID:               uuid.New().String(),
		MetadataItemID:   item.ID,
		LibrarySectionID: section.ID,
		Container:        "mkv",
		DurationMs:       durationMs,
		Parts: []database.MediaPart{{
			ID:         uuid.New().String(),
			File:       "/media/movies/Heat.mkv",
			DurationMs: durationMs,
			Streams: []database.MediaStream{
				{ID: uuid.New().String(), StreamType: database.StreamTypeVideo, StreamIndex: 0,
					Codec: "h264", Width: 1920, Height: 1080, FrameRate: 24},
				{ID: uuid.New().String(), StreamType: database.StreamTypeAudio, StreamIndex: 1,
					Codec: "aac", Language: "eng", Channels: 6},
			},
		}},
	}
	require.NoError(t, store.CreateMediaItem(ctx, media))
	return media.Parts[0].ID
}

func testTarget() types.TranscodeTarget {
	return types.TranscodeTarget{
		Container:        "dash",
		VideoCodec:       "h264",
		AudioCodec:       "aac",
		VideoBitrateKbps: 4000,
		AudioBitrateKbps: 128,
		Width:            1280,
		Height:           720,
		AudioChannels:    2,
	}
}

// onReconciler runs fn on the reconciler goroutine and waits for it.
func onReconciler(t *testing.T, m *Manager, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, m.send(context.Background(), func() {
		fn()
		close(done)
	}))
	<-done
}

func tickNow(t *testing.T, m *Manager) {
	t.Helper()
	onReconciler(t, m, m.tick)
}

func jobRow(t *testing.T, store *database.Store, id string) *database.TranscodeJob {
	t.Helper()
	row, err := store.GetTranscodeJob(context.Background(), id)
	require.NoError(t, err)
	return row
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// =============================================================================
// FAKES
// =============================================================================

// fakeProc scripts one ffmpeg invocation: the test feeds its progress
// pipe and decides how it exits.
type fakeProc struct {
	pid    int
	reader *io.PipeReader
	writer *io.PipeWriter
	exit   chan error
	killed atomic.Bool
	stderr string
}

func newFakeProc(pid int) *fakeProc {
	r, w := io.Pipe()
	return &fakeProc{pid: pid, reader: r, writer: w, exit: make(chan error, 1)}
}

func (p *fakeProc) Pid() int            { return p.pid }
func (p *fakeProc) Progress() io.Reader { return p.reader }
func (p *fakeProc) Wait() error         { return <-p.exit }
func (p *fakeProc) StderrTail() string  { return p.stderr }

func (p *fakeProc) Kill() error {
	p.killed.Store(true)
	p.writer.Close()
	select {
	case p.exit <- errors.New("signal: killed"):
	default:
	}
	return nil
}

func (p *fakeProc) emit(t *testing.T, block string) {
	t.Helper()
	_, err := io.WriteString(p.writer, block)
	require.NoError(t, err)
}

func (p *fakeProc) finish(err error) {
	p.writer.Close()
	p.exit <- err
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProc
	args  [][]string
	err   error
}

func (s *fakeSpawner) spawn(args []string) (jobProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProc(1000 + len(s.procs))
	s.procs = append(s.procs, p)
	s.args = append(s.args, args)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.procs) {
		return nil
	}
	return s.procs[i]
}

// =============================================================================
// TESTS
// =============================================================================

func TestStartLaunchesJob(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	assert.Equal(t, database.JobStatusRunning, job.Status)
	assert.Equal(t, "session-1", job.SessionID)
	assert.Equal(t, partID, job.MediaPartID)
	assert.Equal(t, 1000, job.PID)
	assert.True(t, dirExists(job.OutputDir))
	assert.Equal(t, 1, spawner.count())

	row := jobRow(t, store, job.ID)
	assert.Equal(t, database.JobStatusRunning, row.Status)
	require.NotNil(t, row.StartedAt)
}

func TestStartIsIdempotentForSameTarget(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	first, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)
	second, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, spawner.count())
}

func TestStartNewTargetCancelsOldJob(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	first, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	seeked := testTarget()
	seeked.SeekMs = 120_000
	second, err := m.Start(context.Background(), "session-1", partID, seeked)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, spawner.count())
	assert.True(t, spawner.proc(0).killed.Load())

	old := jobRow(t, store, first.ID)
	assert.Equal(t, database.JobStatusCancelled, old.Status)
	assert.False(t, dirExists(first.OutputDir))
	assert.True(t, dirExists(second.OutputDir))
}

func TestProgressUpdatesRow(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	spawner.proc(0).emit(t, "frame=720\nfps=48.0\nout_time_ms=30000000\nspeed=2.5x\nprogress=continue\n")

	require.Eventually(t, func() bool {
		row := jobRow(t, store, job.ID)
		return row.Progress > 49 && row.Progress < 51
	}, 2*time.Second, 10*time.Millisecond)

	row := jobRow(t, store, job.ID)
	assert.InDelta(t, 2.5, row.SpeedX, 0.01)
	assert.Equal(t, database.JobStatusRunning, row.Status)
}

func TestCompletedJobKeepsOutput(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	spawner.proc(0).finish(nil)

	require.Eventually(t, func() bool {
		return jobRow(t, store, job.ID).Status == database.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	row := jobRow(t, store, job.ID)
	assert.InDelta(t, 100, row.Progress, 0.01)
	require.NotNil(t, row.CompletedAt)
	// Segments are still being streamed; only the heartbeat reaper or
	// a session cancel may release them.
	assert.True(t, dirExists(job.OutputDir))
}

func TestFailedJobRemovesOutput(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	proc := spawner.proc(0)
	proc.stderr = "Heat.mkv: Invalid data found when processing input"
	proc.finish(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		return jobRow(t, store, job.ID).Status == database.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	row := jobRow(t, store, job.ID)
	assert.Contains(t, row.ErrorMessage, "Invalid data")
	assert.False(t, dirExists(job.OutputDir))
}

func TestHeartbeatLossCancelsJob(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	onReconciler(t, m, func() {
		m.heartbeats["session-1"] = stale
		m.jobs[job.ID].row.LastPingAt = stale
	})
	tickNow(t, m)

	row := jobRow(t, store, job.ID)
	assert.Equal(t, database.JobStatusCancelled, row.Status)
	assert.True(t, spawner.proc(0).killed.Load())
	assert.False(t, dirExists(job.OutputDir))
}

func TestNotifyHeartbeatKeepsJobAlive(t *testing.T) {
	store := newTestStore(t)
	m, _ := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	// Stale ping on the row, fresh heartbeat from the session.
	onReconciler(t, m, func() {
		m.jobs[job.ID].row.LastPingAt = time.Now().Add(-time.Hour)
	})
	m.NotifyHeartbeat("session-1")
	tickNow(t, m)

	assert.Equal(t, database.JobStatusRunning, jobRow(t, store, job.ID).Status)
}

func TestProgressCountsAsHeartbeat(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	// Session silent for an hour, but the encode is still producing.
	onReconciler(t, m, func() {
		m.heartbeats["session-1"] = time.Now().Add(-time.Hour)
	})
	spawner.proc(0).emit(t, "out_time_ms=5000000\nspeed=1.0x\nprogress=continue\n")
	require.Eventually(t, func() bool {
		return jobRow(t, store, job.ID).Progress > 0
	}, 2*time.Second, 10*time.Millisecond)

	tickNow(t, m)
	assert.Equal(t, database.JobStatusRunning, jobRow(t, store, job.ID).Status)
}

func TestLaunchTimeoutFailsSilentJob(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	onReconciler(t, m, func() {
		m.jobs[job.ID].startedAt = time.Now().Add(-time.Hour)
	})
	tickNow(t, m)

	row := jobRow(t, store, job.ID)
	assert.Equal(t, database.JobStatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "launch timeout")
	assert.True(t, spawner.proc(0).killed.Load())
	assert.False(t, dirExists(job.OutputDir))
}

func TestProgressDisarmsLaunchWatchdog(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	spawner.proc(0).emit(t, "out_time_ms=1000000\nspeed=1.0x\nprogress=continue\n")
	require.Eventually(t, func() bool {
		return jobRow(t, store, job.ID).Progress > 0
	}, 2*time.Second, 10*time.Millisecond)

	onReconciler(t, m, func() {
		m.jobs[job.ID].startedAt = time.Now().Add(-time.Hour)
	})
	tickNow(t, m)

	assert.Equal(t, database.JobStatusRunning, jobRow(t, store, job.ID).Status)
}

func TestCancelJob(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), job.ID))

	row := jobRow(t, store, job.ID)
	assert.Equal(t, database.JobStatusCancelled, row.Status)
	assert.True(t, spawner.proc(0).killed.Load())
	assert.False(t, dirExists(job.OutputDir))

	assert.ErrorIs(t, m.Cancel(context.Background(), "no-such-job"), ErrJobNotFound)
}

func TestCancelSessionReleasesCompletedJobs(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partA := seedPart(t, store, 60_000)
	partB := seedPart(t, store, 60_000)

	jobA, err := m.Start(context.Background(), "session-1", partA, testTarget())
	require.NoError(t, err)
	jobB, err := m.Start(context.Background(), "session-1", partB, testTarget())
	require.NoError(t, err)

	spawner.proc(0).finish(nil)
	require.Eventually(t, func() bool {
		return jobRow(t, store, jobA.ID).Status == database.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, dirExists(jobA.OutputDir))

	require.NoError(t, m.CancelSession(context.Background(), "session-1"))

	assert.Equal(t, database.JobStatusCompleted, jobRow(t, store, jobA.ID).Status)
	assert.False(t, dirExists(jobA.OutputDir))
	assert.Equal(t, database.JobStatusCancelled, jobRow(t, store, jobB.ID).Status)
	assert.True(t, spawner.proc(1).killed.Load())
	assert.False(t, dirExists(jobB.OutputDir))
}

func TestSweepOrphansFailsLeftoverRows(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(t)
	m, _ := newTestManager(t, store, cfg)

	leftover := &database.TranscodeJob{
		SessionID:   "session-old",
		MediaPartID: "part-old",
		Status:      database.JobStatusRunning,
		OutputDir:   filepath.Join(cfg.Transcode.OutputDir, "job-old"),
	}
	require.NoError(t, store.CreateTranscodeJob(context.Background(), leftover))
	require.NoError(t, os.MkdirAll(leftover.OutputDir, 0o755))
	stray := filepath.Join(cfg.Transcode.OutputDir, "stray")
	require.NoError(t, os.MkdirAll(stray, 0o755))

	m.SweepOrphans(context.Background())

	row := jobRow(t, store, leftover.ID)
	assert.Equal(t, database.JobStatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "server restarted")
	assert.False(t, dirExists(leftover.OutputDir))
	assert.False(t, dirExists(stray))
}

func TestHardwareFailureRetriesInSoftware(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig(t)
	cfg.Transcode.UseHardwareAcceleration = true
	m, spawner := newTestManager(t, store, cfg)
	m.hwVerified = true
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)
	require.True(t, job.HardwareAccel)

	proc := spawner.proc(0)
	proc.stderr = "[h264_nvenc] No device available for encoder"
	proc.finish(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		return spawner.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	row := jobRow(t, store, job.ID)
	assert.Equal(t, database.JobStatusRunning, row.Status)
	assert.False(t, row.HardwareAccel)

	// The retry only happens once: a software failure is final.
	proc2 := spawner.proc(1)
	proc2.stderr = "No device available for encoder"
	proc2.finish(errors.New("exit status 1"))
	require.Eventually(t, func() bool {
		return jobRow(t, store, job.ID).Status == database.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStaleRowSweep(t *testing.T) {
	store := newTestStore(t)
	m, _ := newTestManager(t, store, nil)

	// A running row with no process behind it and a ping far in the past.
	orphan := &database.TranscodeJob{
		SessionID:   "session-ghost",
		MediaPartID: "part-ghost",
		Status:      database.JobStatusRunning,
		LastPingAt:  time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.CreateTranscodeJob(context.Background(), orphan))

	tickNow(t, m)

	row := jobRow(t, store, orphan.ID)
	assert.Equal(t, database.JobStatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "no live process")
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	store := newTestStore(t)
	m, spawner := newTestManager(t, store, nil)
	partID := seedPart(t, store, 60_000)

	job, err := m.Start(context.Background(), "session-1", partID, testTarget())
	require.NoError(t, err)

	m.Shutdown()

	row := jobRow(t, store, job.ID)
	assert.Equal(t, database.JobStatusCancelled, row.Status)
	assert.True(t, spawner.proc(0).killed.Load())
	assert.False(t, dirExists(job.OutputDir))

	_, err = m.Start(context.Background(), "session-1", partID, testTarget())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRemuxArgsContainers(t *testing.T) {
	mp4 := strings.Join(remuxArgs("/media/a.mkv", 0, "mp4"), " ")
	assert.Contains(t, mp4, "-f mp4")
	assert.Contains(t, mp4, "empty_moov")
	assert.NotContains(t, mp4, "-ss")
	assert.True(t, strings.HasSuffix(mp4, "pipe:1"))

	ts := strings.Join(remuxArgs("/media/a.mkv", 93_500, "ts"), " ")
	assert.Contains(t, ts, "-ss 93.500")
	assert.Contains(t, ts, "-f mpegts")
	assert.Contains(t, ts, "-c copy")
}

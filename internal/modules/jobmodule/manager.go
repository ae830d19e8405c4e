package jobmodule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/database"
	"github.com/medley-tv/medley/internal/logger"
	"github.com/medley-tv/medley/internal/services"
)

// Manager schedules background work. With redis enabled it is an asynq
// client/server pair; without it, enqueues run inline through a bounded
// pool so a single-binary install still gets trickplay and artwork,
// just without persistence or retries.
type Manager struct {
	cfg   *config.Config
	store *database.Store

	redisOpt asynq.RedisClientOpt
	client   *asynq.Client
	server   *asynq.Server
	cron     *cron.Cron
	handler  *asynq.ServeMux

	inline *inlinePool

	scanner   services.ScannerService
	trickplay services.TrickplayService
	assets    services.AssetService
	metadata  services.MetadataService
}

var _ services.JobService = (*Manager)(nil)

func NewManager(store *database.Store, cfg *config.Config) *Manager {
	m := &Manager{cfg: cfg, store: store, cron: cron.New()}
	concurrency := cfg.Jobs.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	if cfg.Jobs.Enabled {
		m.redisOpt = asynq.RedisClientOpt{
			Addr:     cfg.Jobs.RedisAddr,
			Password: cfg.Jobs.RedisPassword,
			DB:       cfg.Jobs.RedisDB,
		}
		m.client = asynq.NewClient(m.redisOpt)
		m.server = asynq.NewServer(m.redisOpt, asynq.Config{
			Concurrency: concurrency,
			Queues:      queuePriorities,
			Logger:      asynqLogger{},
		})
	} else {
		m.inline = newInlinePool(concurrency)
	}
	m.handler = m.buildMux()
	return m
}

// SetScannerService wires the scanner in once it exists.
func (m *Manager) SetScannerService(scanner services.ScannerService) {
	m.scanner = scanner
}

// SetTrickplayService wires the trickplay generator in once it exists.
func (m *Manager) SetTrickplayService(trickplay services.TrickplayService) {
	m.trickplay = trickplay
}

// SetAssetService wires artwork fetching in once it exists.
func (m *Manager) SetAssetService(assets services.AssetService) {
	m.assets = assets
}

// SetMetadataService wires metadata refresh in once it exists.
func (m *Manager) SetMetadataService(metadata services.MetadataService) {
	m.metadata = metadata
}

// Start launches the worker server and the cron schedules.
func (m *Manager) Start() error {
	if m.server != nil {
		// asynq retries a dead broker forever in the background, so
		// probe it up front and fail loudly instead.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.PingBroker(ctx); err != nil {
			return fmt.Errorf("redis %s unreachable: %w", m.cfg.Jobs.RedisAddr, err)
		}
		if err := m.server.Start(m.handler); err != nil {
			return fmt.Errorf("starting job server: %w", err)
		}
		logger.Info("🧰 job queue started: redis %s, %d workers", m.cfg.Jobs.RedisAddr, m.cfg.Jobs.Concurrency)
	} else {
		logger.Info("🧰 job queue running inline, %d workers", cap(m.inline.sem))
	}

	if m.cfg.Scanner.AutoScanEnabled {
		if _, err := m.cron.AddFunc(m.cfg.Scanner.ScanSchedule, m.scanAllSections); err != nil {
			return fmt.Errorf("scan schedule %q: %w", m.cfg.Scanner.ScanSchedule, err)
		}
	}
	if _, err := m.cron.AddFunc(cleanupSchedule, m.runCleanup); err != nil {
		return fmt.Errorf("cleanup schedule: %w", err)
	}
	m.cron.Start()
	return nil
}

// PingBroker checks the redis connection. In inline mode there is no
// broker and the check always passes.
func (m *Manager) PingBroker(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     m.redisOpt.Addr,
		Password: m.redisOpt.Password,
		DB:       m.redisOpt.DB,
	})
	defer rdb.Close()
	return rdb.Ping(ctx).Err()
}

// Shutdown stops the schedules, drains running workers and closes the
// broker connection.
func (m *Manager) Shutdown() {
	<-m.cron.Stop().Done()
	if m.server != nil {
		m.server.Shutdown()
	}
	if m.client != nil {
		m.client.Close()
	}
	if m.inline != nil {
		m.inline.stop()
	}
}

func (m *Manager) EnqueueLibraryScan(ctx context.Context, sectionID string) error {
	return m.submit(ctx, TaskLibraryScan, scanPayload{SectionID: sectionID}, sectionID, queueCritical)
}

func (m *Manager) EnqueueTrickplay(ctx context.Context, partID string) error {
	return m.submit(ctx, TaskTrickplayGenerate, trickplayPayload{PartID: partID}, partID, queueLow)
}

func (m *Manager) EnqueueArtworkFetch(ctx context.Context, metadataItemID string) error {
	return m.submit(ctx, TaskArtworkFetch, artworkPayload{MetadataItemID: metadataItemID}, metadataItemID, queueDefault)
}

func (m *Manager) EnqueueMetadataRefresh(ctx context.Context, metadataItemID string) error {
	return m.submit(ctx, TaskMetadataRefresh, refreshPayload{MetadataItemID: metadataItemID}, metadataItemID, queueDefault)
}

func (m *Manager) submit(ctx context.Context, taskType string, payload interface{}, key, queue string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskType, body)

	if m.client == nil {
		m.inline.submit(taskKey(taskType, key), func(ctx context.Context) error {
			return m.handler.ProcessTask(ctx, task)
		})
		return nil
	}

	_, err = m.client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.TaskID(taskKey(taskType, key)),
		asynq.MaxRetry(3),
		asynq.Timeout(taskTimeouts[taskType]),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// The same work is already queued or running.
		return nil
	}
	return err
}

// inlinePool is the no-redis degradation: bounded concurrency, in-flight
// dedupe by task key, nothing survives a restart.
type inlinePool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]bool
}

func newInlinePool(size int) *inlinePool {
	ctx, cancel := context.WithCancel(context.Background())
	return &inlinePool{
		sem:      make(chan struct{}, size),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]bool),
	}
}

func (p *inlinePool) submit(id string, run func(ctx context.Context) error) {
	p.mu.Lock()
	if p.inFlight[id] {
		p.mu.Unlock()
		return
	}
	p.inFlight[id] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, id)
			p.mu.Unlock()
		}()
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-p.ctx.Done():
			return
		}
		if err := run(p.ctx); err != nil {
			logger.Warn("inline job %s: %v", id, err)
		}
	}()
}

func (p *inlinePool) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

func (p *inlinePool) stop() {
	p.cancel()
	p.wg.Wait()
}

// asynqLogger adapts asynq's logging onto ours. asynq only fatals on
// unrecoverable broker state, which for us is an error like any other.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { logger.Debug("%s", fmt.Sprint(args...)) }

func (asynqLogger) Info(args ...interface{}) { logger.Info("%s", fmt.Sprint(args...)) }

func (asynqLogger) Warn(args ...interface{}) { logger.Warn("%s", fmt.Sprint(args...)) }

func (asynqLogger) Error(args ...interface{}) { logger.Error("%s", fmt.Sprint(args...)) }

func (asynqLogger) Fatal(args ...interface{}) { logger.Error("%s", fmt.Sprint(args...)) }

// scanAllSections is the periodic scan sweep. The per-section task ID
// collapses sections already queued or scanning.
func (m *Manager) scanAllSections() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sections, err := m.store.ListSections(ctx)
	if err != nil {
		logger.Warn("scheduled scan sweep: listing sections: %v", err)
		return
	}
	for i := range sections {
		if err := m.EnqueueLibraryScan(ctx, sections[i].ID); err != nil {
			logger.Warn("scheduled scan sweep: section %s: %v", sections[i].ID, err)
		}
	}
	logger.Info("⏰ scheduled scan sweep queued %d sections", len(sections))
}

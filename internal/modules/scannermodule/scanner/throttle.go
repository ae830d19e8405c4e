package scanner

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/logger"
)

// Throttle tuning. Sampling is deliberately coarse; the goal is keeping
// a scan from starving playback, not chasing load spikes.
const (
	throttleSampleInterval = 5 * time.Second
	throttleMaxDelay       = 250 * time.Millisecond
	throttleStep           = 50 * time.Millisecond

	// emergencyMargin above a threshold trips the brake, which then
	// holds for at least emergencyHold even if the next sample is calm.
	emergencyMargin = 10.0
	emergencyHold   = 10 * time.Second
)

// Throttler slows the traversal when the host is under pressure. One
// instance is shared by every scan: the traversal calls Pause between
// items while a background loop adjusts the delay from sampled CPU and
// memory use.
type Throttler struct {
	cfg config.PerformanceConfig

	delayNs    atomic.Int64
	emergency  atomic.Bool
	brakeUntil atomic.Int64 // unix nanos

	cpuPercent atomic.Uint64 // math.Float64bits
	memPercent atomic.Uint64
}

func NewThrottler(cfg config.PerformanceConfig) *Throttler {
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = 80
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = 85
	}
	return &Throttler{cfg: cfg}
}

// Run samples until ctx is cancelled. cpu.PercentWithContext blocks for
// its one second measurement window, so the effective period is a bit
// over the tick.
func (t *Throttler) Run(ctx context.Context) {
	if !t.cfg.EnableAdaptiveThrottling {
		return
	}
	ticker := time.NewTicker(throttleSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sample(ctx)
		}
	}
}

func (t *Throttler) sample(ctx context.Context) {
	cpuPcts, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil || len(cpuPcts) == 0 {
		return
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return
	}
	t.adjust(cpuPcts[0], vm.UsedPercent)
}

// adjust recomputes the inter-item delay from one sample. Split from the
// gopsutil reads so tests can drive it directly.
func (t *Throttler) adjust(cpuPct, memPct float64) {
	t.cpuPercent.Store(math.Float64bits(cpuPct))
	t.memPercent.Store(math.Float64bits(memPct))

	now := time.Now()
	if cpuPct >= t.cfg.CPUThreshold+emergencyMargin || memPct >= t.cfg.MemoryThreshold+emergencyMargin {
		t.brakeUntil.Store(now.Add(emergencyHold).UnixNano())
		t.delayNs.Store(int64(throttleMaxDelay))
		if t.emergency.CompareAndSwap(false, true) {
			logger.Warn("scan throttle emergency brake: cpu %.1f%% mem %.1f%%", cpuPct, memPct)
		}
		return
	}

	if t.emergency.Load() {
		if now.UnixNano() < t.brakeUntil.Load() || cpuPct >= t.cfg.CPUThreshold || memPct >= t.cfg.MemoryThreshold {
			return
		}
		t.emergency.Store(false)
		logger.Info("scan throttle emergency brake released: cpu %.1f%% mem %.1f%%", cpuPct, memPct)
	}

	delay := time.Duration(t.delayNs.Load())
	switch {
	case cpuPct >= t.cfg.CPUThreshold || memPct >= t.cfg.MemoryThreshold:
		delay += throttleStep
		if delay > throttleMaxDelay {
			delay = throttleMaxDelay
		}
	case delay > 0:
		delay /= 2
		if delay < time.Millisecond {
			delay = 0
		}
	}
	t.delayNs.Store(int64(delay))
}

// Delay returns the current inter-item delay.
func (t *Throttler) Delay() time.Duration {
	return time.Duration(t.delayNs.Load())
}

// Emergency reports whether the brake is on.
func (t *Throttler) Emergency() bool {
	return t.emergency.Load()
}

// Pause sleeps for the current delay, returning early when ctx is done.
func (t *Throttler) Pause(ctx context.Context) error {
	d := t.Delay()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Usage returns the last sampled CPU and memory percentages.
func (t *Throttler) Usage() (cpuPct, memPct float64) {
	return math.Float64frombits(t.cpuPercent.Load()), math.Float64frombits(t.memPercent.Load())
}

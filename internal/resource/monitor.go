// Package resource samples host utilization and turns it into an advisory
// throttle signal plus an instance-count recommendation for the launcher.
package resource

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/majlabs/docflow/internal/config"
)

const gib = 1 << 30

// Snapshot is one utilization sample.
type Snapshot struct {
	CPUPercent  float64   `json:"cpu_percent"`
	RAMPercent  float64   `json:"ram_percent"`
	GPUPercent  float64   `json:"gpu_percent"`
	GPUPresent  bool      `json:"gpu_present"`
	MinDiskFree float64   `json:"min_disk_free_gib"`
	Throttled   bool      `json:"throttled"`
	SampledAt   time.Time `json:"sampled_at"`
}

// sampler abstracts the probes so tests can script utilization.
type sampler interface {
	CPU(ctx context.Context) (float64, error)
	RAM(ctx context.Context) (float64, error)
	GPU(ctx context.Context) (float64, bool)
	DiskFreeGiB(ctx context.Context, path string) (float64, error)
}

// Monitor samples at a fixed interval and broadcasts throttle transitions.
// Workers poll Throttled at item boundaries; in-flight items always finish.
type Monitor struct {
	cfg     config.ResourceConfig
	probes  sampler
	log     *zap.Logger
	cores   int
	ramGiB  float64
	subMu   sync.Mutex
	subs    []chan bool
	mu      sync.RWMutex
	current Snapshot
}

func NewMonitor(cfg config.ResourceConfig) *Monitor {
	total := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		total = float64(vm.Total) / gib
	}
	return &Monitor{
		cfg:    cfg,
		probes: &hostSampler{nvidiaSmi: cfg.NvidiaSmiPath},
		log:    zap.L().Named("resource"),
		cores:  runtime.NumCPU(),
		ramGiB: total,
	}
}

// Run samples until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.cfg.SampleIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	m.log.Info("resource monitor started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("resource monitor stopped")
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// Sample takes one sample immediately, outside the Run loop. One-shot
// consumers use it to size work before any ticker fires.
func (m *Monitor) Sample(ctx context.Context) {
	m.sample(ctx)
}

// Throttled reports the latest sample's throttle verdict.
func (m *Monitor) Throttled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Throttled
}

// Current returns the latest sample.
func (m *Monitor) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel receiving every throttle transition. The
// channel is buffered; slow consumers miss intermediate flips but always
// see the latest state eventually.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// RecommendedInstances derives how many worker processes this host should
// run: min(cores/2, ram_gib/4) scaled by current headroom, floored at one.
func (m *Monitor) RecommendedInstances() int {
	snap := m.Current()

	base := m.cores / 2
	if byRAM := int(m.ramGiB / 4); byRAM < base {
		base = byRAM
	}
	if base < 1 {
		base = 1
	}

	usage := snap.CPUPercent
	if snap.RAMPercent > usage {
		usage = snap.RAMPercent
	}
	if snap.GPUPresent && snap.GPUPercent > usage {
		usage = snap.GPUPercent
	}

	n := int(float64(base) * (100 - usage) / 100)
	if n < 1 {
		n = 1
	}
	return n
}

func (m *Monitor) sample(ctx context.Context) {
	snap := Snapshot{SampledAt: time.Now().UTC(), MinDiskFree: -1}

	if v, err := m.probes.CPU(ctx); err == nil {
		snap.CPUPercent = v
	} else {
		m.log.Warn("cpu probe failed", zap.Error(err))
	}
	if v, err := m.probes.RAM(ctx); err == nil {
		snap.RAMPercent = v
	} else {
		m.log.Warn("ram probe failed", zap.Error(err))
	}
	snap.GPUPercent, snap.GPUPresent = m.probes.GPU(ctx)

	for _, path := range m.diskPaths() {
		free, err := m.probes.DiskFreeGiB(ctx, path)
		if err != nil {
			m.log.Warn("disk probe failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if snap.MinDiskFree < 0 || free < snap.MinDiskFree {
			snap.MinDiskFree = free
		}
	}

	snap.Throttled = snap.CPUPercent > m.cfg.MaxCPUPercent ||
		snap.RAMPercent > m.cfg.MaxRAMPercent ||
		(snap.GPUPresent && snap.GPUPercent > m.cfg.MaxGPUPercent) ||
		(snap.MinDiskFree >= 0 && snap.MinDiskFree < m.cfg.MinFreeDiskGiB)

	m.mu.Lock()
	changed := snap.Throttled != m.current.Throttled
	m.current = snap
	m.mu.Unlock()

	if changed {
		m.log.Warn("throttle transition",
			zap.Bool("throttled", snap.Throttled),
			zap.Float64("cpu", snap.CPUPercent),
			zap.Float64("ram", snap.RAMPercent),
			zap.Float64("gpu", snap.GPUPercent),
			zap.Float64("disk_free_gib", snap.MinDiskFree))
		m.broadcast(snap.Throttled)
	}
}

func (m *Monitor) broadcast(throttled bool) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- throttled:
		default:
			// Drop the stale value so the latest one fits.
			select {
			case <-ch:
			default:
			}
			ch <- throttled
		}
	}
}

func (m *Monitor) diskPaths() []string {
	if len(m.cfg.DiskPaths) > 0 {
		return m.cfg.DiskPaths
	}
	return []string{"/"}
}

// hostSampler probes real host utilization.
type hostSampler struct {
	nvidiaSmi string
}

func (h *hostSampler) CPU(ctx context.Context) (float64, error) {
	vals, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(vals) == 0 {
		return 0, err
	}
	return vals[0], nil
}

func (h *hostSampler) RAM(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// GPU shells out to nvidia-smi; hosts without an accelerator report absent.
func (h *hostSampler) GPU(ctx context.Context) (float64, bool) {
	bin := h.nvidiaSmi
	if bin == "" {
		bin = "nvidia-smi"
	}
	out, err := exec.CommandContext(ctx, bin,
		"--query-gpu=utilization.gpu", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, false
	}
	max := 0.0
	found := false
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		v, perr := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if perr != nil {
			continue
		}
		found = true
		if v > max {
			max = v
		}
	}
	return max, found
}

func (h *hostSampler) DiskFreeGiB(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return float64(usage.Free) / gib, nil
}

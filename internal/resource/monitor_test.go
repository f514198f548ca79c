package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/config"
)

type fakeSampler struct {
	cpu      float64
	ram      float64
	gpu      float64
	hasGPU   bool
	diskFree float64
}

func (f *fakeSampler) CPU(ctx context.Context) (float64, error) { return f.cpu, nil }
func (f *fakeSampler) RAM(ctx context.Context) (float64, error) { return f.ram, nil }
func (f *fakeSampler) GPU(ctx context.Context) (float64, bool)  { return f.gpu, f.hasGPU }
func (f *fakeSampler) DiskFreeGiB(ctx context.Context, path string) (float64, error) {
	return f.diskFree, nil
}

var resourceCfg = config.ResourceConfig{
	SampleIntervalSecs: 2,
	MaxCPUPercent:      85,
	MaxRAMPercent:      85,
	MaxGPUPercent:      90,
	MinFreeDiskGiB:     10,
}

func newTestMonitor(probes *fakeSampler) *Monitor {
	m := NewMonitor(resourceCfg)
	m.probes = probes
	m.cores = 16
	m.ramGiB = 64
	return m
}

func TestMonitor_ThrottleThresholds(t *testing.T) {
	cases := []struct {
		name    string
		probes  fakeSampler
		want    bool
	}{
		{"calm host", fakeSampler{cpu: 30, ram: 40, diskFree: 100}, false},
		{"cpu hot", fakeSampler{cpu: 86, ram: 40, diskFree: 100}, true},
		{"ram hot", fakeSampler{cpu: 30, ram: 90, diskFree: 100}, true},
		{"gpu hot", fakeSampler{cpu: 30, ram: 40, gpu: 95, hasGPU: true, diskFree: 100}, true},
		{"gpu hot but absent", fakeSampler{cpu: 30, ram: 40, gpu: 95, diskFree: 100}, false},
		{"disk low", fakeSampler{cpu: 30, ram: 40, diskFree: 5}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMonitor(&tc.probes)
			m.sample(context.Background())
			assert.Equal(t, tc.want, m.Throttled())
		})
	}
}

func TestMonitor_SubscribeSeesTransitions(t *testing.T) {
	probes := &fakeSampler{cpu: 30, ram: 30, diskFree: 100}
	m := newTestMonitor(probes)
	ch := m.Subscribe()
	ctx := context.Background()

	m.sample(ctx)
	select {
	case <-ch:
		t.Fatal("no transition on a calm host")
	default:
	}

	probes.cpu = 99
	m.sample(ctx)
	require.True(t, <-ch, "raise broadcast")

	probes.cpu = 20
	m.sample(ctx)
	require.False(t, <-ch, "lower broadcast")
}

func TestMonitor_RecommendedInstances(t *testing.T) {
	probes := &fakeSampler{cpu: 50, ram: 30, diskFree: 100}
	m := newTestMonitor(probes)
	m.sample(context.Background())

	// min(16/2, 64/4) = 8, scaled by (100-50)/100.
	assert.Equal(t, 4, m.RecommendedInstances())

	probes.cpu = 0
	m.sample(context.Background())
	assert.Equal(t, 8, m.RecommendedInstances())

	probes.gpu, probes.hasGPU = 99, true
	m.sample(context.Background())
	assert.Equal(t, 1, m.RecommendedInstances(), "never below one instance")
}

func TestMonitor_CurrentSnapshot(t *testing.T) {
	m := newTestMonitor(&fakeSampler{cpu: 42, ram: 24, diskFree: 77})
	m.sample(context.Background())

	snap := m.Current()
	assert.Equal(t, 42.0, snap.CPUPercent)
	assert.Equal(t, 24.0, snap.RAMPercent)
	assert.Equal(t, 77.0, snap.MinDiskFree)
	assert.False(t, snap.GPUPresent)
	assert.False(t, snap.SampledAt.IsZero())
}

package vmpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zephyr-ci/zephyr/internal/logger"
	"github.com/zephyr-ci/zephyr/internal/vmpool/hypervisor"
)

func testConfig() Config {
	return Config{
		MinIdle:             2,
		MaxIdle:             3,
		MaxTotal:            4,
		MaxIdleTime:         time.Hour,
		HealthCheckInterval: time.Hour,
		Kernel:              "vmlinux",
		Rootfs:              "rootfs.ext4",
		CPU:                 1,
		MemoryMB:            256,
		NATInterface:        "eth0",
	}
}

// newSyncPool builds a pool whose background replenish-on-acquire is
// disabled, so tests can assert exact idle/inUse counts between calls
// without racing a goroutine.
func newSyncPool(t *testing.T, cfg Config) (*Pool, *hypervisor.Fake) {
	t.Helper()
	fake := hypervisor.NewFake()
	p := New(cfg, fake, logger.NewNop(), nil)
	p.scheduleReplenish = func(context.Context) {}
	return p, fake
}

func TestPoolStartReplenishesToMinIdle(t *testing.T) {
	t.Parallel()

	p, fake := newSyncPool(t, testConfig())
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	idle, inUse := p.Stats()
	require.Equal(t, 2, idle)
	require.Equal(t, 0, inUse)
	require.Equal(t, 2, fake.Count())
}

// TestWarmPoolCyclingMatchesScenario replicates the end-to-end warm-pool
// scenario: minIdle=2, maxIdle=3, maxTotal=4. Four acquires exhaust the
// pool, a fifth fails, and releases return VMs to idle up to maxIdle.
func TestWarmPoolCyclingMatchesScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := newSyncPool(t, testConfig())
	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	var vms []string
	for i := 0; i < 4; i++ {
		vm, err := p.Acquire(ctx)
		require.NoError(t, err)
		vms = append(vms, vm.ID)
	}

	idle, inUse := p.Stats()
	require.Equal(t, 0, idle)
	require.Equal(t, 4, inUse)

	_, err := p.Acquire(ctx)
	require.Error(t, err)

	require.NoError(t, p.Release(ctx, vms[0], false))
	idle, inUse = p.Stats()
	require.Equal(t, 1, idle)
	require.Equal(t, 3, inUse)

	require.NoError(t, p.Release(ctx, vms[1], false))
	require.NoError(t, p.Release(ctx, vms[2], false))
	idle, inUse = p.Stats()
	require.Equal(t, 3, idle)
	require.Equal(t, 1, inUse)

	require.NoError(t, p.Release(ctx, vms[3], false))
	idle, inUse = p.Stats()
	require.Equal(t, 3, idle)
	require.Equal(t, 0, inUse)
}

func TestPoolAcquireFailsWithPoolExhaustedAtMaxTotal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig()
	cfg.MinIdle = 0
	p, _ := newSyncPool(t, cfg)
	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	for i := 0; i < cfg.MaxTotal; i++ {
		_, err := p.Acquire(ctx)
		require.NoError(t, err)
	}

	_, err := p.Acquire(ctx)
	require.Error(t, err)
	idle, inUse := p.Stats()
	require.Equal(t, 0, idle)
	require.Equal(t, cfg.MaxTotal, inUse)
}

func TestPoolReleaseBeyondMaxIdleDestroysVM(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig()
	cfg.MinIdle = 0
	cfg.MaxIdle = 1
	cfg.MaxTotal = 2
	p, fake := newSyncPool(t, cfg)
	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	vmA, err := p.Acquire(ctx)
	require.NoError(t, err)
	vmB, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Release(ctx, vmA.ID, false))
	idle, inUse := p.Stats()
	require.Equal(t, 1, idle)
	require.Equal(t, 1, inUse)

	require.NoError(t, p.Release(ctx, vmB.ID, false))
	idle, inUse = p.Stats()
	require.Equal(t, 1, idle)
	require.Equal(t, 0, inUse)
	require.Equal(t, 1, fake.Count())
}

func TestPoolAcquireSchedulesReplenishAfterPoppingIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, fake := newSyncPool(t, testConfig())

	var replenishedCtx context.Context
	called := make(chan struct{}, 1)
	p.scheduleReplenish = func(ctx context.Context) {
		replenishedCtx = ctx
		_ = p.replenish(ctx)
		called <- struct{}{}
	}

	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("scheduleReplenish was not invoked")
	}
	require.NotNil(t, replenishedCtx)

	idle, inUse := p.Stats()
	require.Equal(t, 2, idle)
	require.Equal(t, 1, inUse)
	require.Equal(t, 3, fake.Count())
}

func TestPoolHealthCheckEvictsVMsPastMaxIdleTimePreservingMinIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxIdleTime = 10 * time.Millisecond
	p, fake := newSyncPool(t, cfg)
	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	idle, _ := p.Stats()
	require.Equal(t, cfg.MinIdle, idle)

	var acquired []string
	for i := 0; i < cfg.MaxIdle; i++ {
		vm, err := p.Acquire(ctx)
		require.NoError(t, err)
		acquired = append(acquired, vm.ID)
	}
	for _, id := range acquired {
		require.NoError(t, p.Release(ctx, id, false))
	}
	idle, _ = p.Stats()
	require.Equal(t, cfg.MaxIdle, idle)

	for _, vm := range p.idle {
		vm.LastUsedAt = time.Now().Add(-time.Hour)
	}

	p.runHealthCheck(ctx)

	idle, _ = p.Stats()
	require.Equal(t, cfg.MinIdle, idle, "runHealthCheck must preserve at least MinIdle entries")
	require.Equal(t, cfg.MinIdle, fake.Count())
}

func TestPoolReleaseUnknownIDReturnsNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := newSyncPool(t, testConfig())
	require.NoError(t, p.Start(ctx))
	defer p.Stop(ctx)

	err := p.Release(ctx, "vm-does-not-exist", false)
	require.Error(t, err)
}

func TestPoolStopDestroysAllVMs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, fake := newSyncPool(t, testConfig())
	require.NoError(t, p.Start(ctx))

	_, err := p.Acquire(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Stop(ctx))
	require.Equal(t, 0, fake.Count())

	idle, inUse := p.Stats()
	require.Equal(t, 0, idle)
	require.Equal(t, 0, inUse)
}

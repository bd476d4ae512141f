// Package vmpool implements the warm microVM pool: a bounded set of
// pre-booted sandboxes handed out to the step executor with bounded
// latency, replenished in the background, and evicted after sitting idle
// too long.
package vmpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zephyr-ci/zephyr/internal/logger"
	"github.com/zephyr-ci/zephyr/internal/model"
	"github.com/zephyr-ci/zephyr/internal/vmpool/hypervisor"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// BootDurationObserver receives one observation per VM boot. Satisfied by
// internal/metrics.Sink; kept as a narrow local interface so the pool does
// not import the metrics package directly.
type BootDurationObserver interface {
	ObserveVMBootDuration(d time.Duration)
}

// Config bounds the pool's behaviour. MinIdle <= MaxIdle <= MaxTotal must
// hold; neither New nor Start validates this.
type Config struct {
	MinIdle             int
	MaxIdle             int
	MaxTotal            int
	MaxIdleTime         time.Duration
	HealthCheckInterval time.Duration

	Kernel       string
	Rootfs       string
	CPU          int
	MemoryMB     int
	NATInterface string
}

type poolState string

const (
	statePoolStopped  poolState = "stopped"
	statePoolStarting poolState = "starting"
	statePoolRunning  poolState = "running"
	statePoolStopping poolState = "stopping"
)

// Pool is the warm VM pool described by SPEC_FULL §4.4: two disjoint maps,
// idle and inUse, keyed by VM id.
type Pool struct {
	mu        sync.Mutex
	cfg       Config
	driver    hypervisor.Driver
	allocator *networkAllocator
	log       *logger.Logger
	obs       BootDurationObserver

	state     poolState
	idle      map[string]*model.PooledVM
	idleOrder []string
	inUse     map[string]*model.PooledVM
	nextIndex int

	replenishing bool

	stopHealth chan struct{}
	healthDone chan struct{}

	// scheduleReplenish is called after Acquire pops from idle. It
	// defaults to firing replenish in the background; tests in this
	// package may override it to make pool state transitions
	// deterministic.
	scheduleReplenish func(ctx context.Context)
}

// New constructs a Pool in the stopped state.
func New(cfg Config, driver hypervisor.Driver, log *logger.Logger, obs BootDurationObserver) *Pool {
	p := &Pool{
		cfg:       cfg,
		driver:    driver,
		allocator: newNetworkAllocator(cfg.NATInterface),
		log:       log,
		obs:       obs,
		state:     statePoolStopped,
		idle:      make(map[string]*model.PooledVM),
		inUse:     make(map[string]*model.PooledVM),
	}
	p.scheduleReplenish = func(ctx context.Context) {
		go func() { _ = p.replenish(ctx) }()
	}
	return p
}

// Start transitions stopped -> starting, replenishes to MinIdle, starts
// the health-check loop, and transitions to running.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != statePoolStopped {
		p.mu.Unlock()
		return fmt.Errorf("vmpool: start called in state %q", p.state)
	}
	p.state = statePoolStarting
	p.mu.Unlock()

	if err := p.replenish(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.state = statePoolRunning
	p.stopHealth = make(chan struct{})
	p.healthDone = make(chan struct{})
	interval := p.cfg.HealthCheckInterval
	p.mu.Unlock()

	go p.healthCheckLoop(ctx, interval)
	return nil
}

// Acquire removes one VM from service. If idle is non-empty, it pops the
// least-recently-inserted entry, marks it in use, and schedules a
// background replenish. Otherwise, if the pool has spare capacity under
// MaxTotal, it synchronously creates a new VM. At MaxTotal, it fails with
// PoolExhaustedError.
func (p *Pool) Acquire(ctx context.Context) (*model.PooledVM, error) {
	p.mu.Lock()
	if p.state != statePoolRunning {
		p.mu.Unlock()
		return nil, fmt.Errorf("vmpool: acquire called in state %q", p.state)
	}

	if len(p.idleOrder) > 0 {
		id := p.idleOrder[0]
		p.idleOrder = p.idleOrder[1:]
		vm := p.idle[id]
		p.claimLocked(vm)
		p.mu.Unlock()

		p.scheduleReplenish(context.Background())
		return vm, nil
	}

	if len(p.idle)+len(p.inUse) >= p.cfg.MaxTotal {
		p.mu.Unlock()
		return nil, streamyerrors.NewPoolExhaustedError(p.cfg.MaxTotal)
	}
	p.mu.Unlock()

	vm, err := p.createVM(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.claimLocked(vm)
	p.mu.Unlock()
	return vm, nil
}

// claimLocked moves vm from idle into inUse. Caller must hold p.mu.
func (p *Pool) claimLocked(vm *model.PooledVM) {
	delete(p.idle, vm.ID)
	p.removeFromIdleOrderLocked(vm.ID)
	vm.UseCount++
	vm.LastUsedAt = time.Now()
	vm.State = model.VMInUse
	p.inUse[vm.ID] = vm
}

func (p *Pool) removeFromIdleOrderLocked(id string) {
	for i, v := range p.idleOrder {
		if v == id {
			p.idleOrder = append(p.idleOrder[:i], p.idleOrder[i+1:]...)
			return
		}
	}
}

// Release returns a VM to service. If destroy is true, or idle is already
// at MaxIdle, the VM is destroyed instead of being returned to idle.
func (p *Pool) Release(ctx context.Context, id string, destroy bool) error {
	p.mu.Lock()
	vm, ok := p.inUse[id]
	if !ok {
		p.mu.Unlock()
		return streamyerrors.NewNotFoundError("vm", id)
	}
	delete(p.inUse, id)

	shouldDestroy := destroy || len(p.idle) >= p.cfg.MaxIdle
	if !shouldDestroy {
		vm.LastUsedAt = time.Now()
		vm.State = model.VMIdle
		p.idle[id] = vm
		p.idleOrder = append(p.idleOrder, id)
	}
	p.mu.Unlock()

	if !shouldDestroy {
		return nil
	}
	if err := p.driver.Destroy(ctx, id); err != nil {
		return streamyerrors.NewHypervisorError("destroy", id, err)
	}
	return nil
}

// Stop transitions running -> stopping, cancels the health-check loop,
// awaits any in-flight replenish, destroys every VM in both maps in
// parallel, and transitions to stopped.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != statePoolRunning {
		p.mu.Unlock()
		return fmt.Errorf("vmpool: stop called in state %q", p.state)
	}
	p.state = statePoolStopping
	stopHealth := p.stopHealth
	healthDone := p.healthDone
	p.mu.Unlock()

	close(stopHealth)
	<-healthDone

	for {
		p.mu.Lock()
		inFlight := p.replenishing
		p.mu.Unlock()
		if !inFlight {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.mu.Lock()
	ids := make([]string, 0, len(p.idle)+len(p.inUse))
	for id := range p.idle {
		ids = append(ids, id)
	}
	for id := range p.inUse {
		ids = append(ids, id)
	}
	p.idle = make(map[string]*model.PooledVM)
	p.idleOrder = nil
	p.inUse = make(map[string]*model.PooledVM)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := p.driver.Destroy(gctx, id); err != nil && p.log != nil {
				p.log.Error(err, "stop: vm destroy failed", "vm", id)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	p.state = statePoolStopped
	p.mu.Unlock()
	return nil
}

// Stats reports the current size of idle and in-use sets.
func (p *Pool) Stats() (idle, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), len(p.inUse)
}

func (p *Pool) healthCheckLoop(ctx context.Context, interval time.Duration) {
	defer close(p.healthDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.runHealthCheck(ctx)
		case <-p.stopHealth:
			return
		}
	}
}

// runHealthCheck walks idle in insertion order, destroying any entry past
// MinIdle whose idle time exceeds MaxIdleTime, then replenishes.
func (p *Pool) runHealthCheck(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	var toDestroy []string
	surviving := 0
	for _, id := range p.idleOrder {
		vm, ok := p.idle[id]
		if !ok {
			continue
		}
		if surviving < p.cfg.MinIdle {
			surviving++
			continue
		}
		if now.Sub(vm.LastUsedAt) > p.cfg.MaxIdleTime {
			toDestroy = append(toDestroy, id)
		} else {
			surviving++
		}
	}
	for _, id := range toDestroy {
		delete(p.idle, id)
		p.removeFromIdleOrderLocked(id)
	}
	p.mu.Unlock()

	for _, id := range toDestroy {
		if err := p.driver.Destroy(ctx, id); err != nil && p.log != nil {
			p.log.Error(err, "health check: vm destroy failed", "vm", id)
		}
	}

	if err := p.replenish(ctx); err != nil && p.log != nil {
		p.log.Error(err, "health check: replenish failed")
	}
}

// replenish creates min(MinIdle - |idle|, MaxTotal - |idle| - |inUse|) new
// VMs in parallel. At most one replenish runs at a time; a call while one
// is in flight is a no-op. Creation failures are logged, never returned.
func (p *Pool) replenish(ctx context.Context) error {
	p.mu.Lock()
	if p.replenishing {
		p.mu.Unlock()
		return nil
	}
	n := p.replenishCountLocked()
	if n <= 0 {
		p.mu.Unlock()
		return nil
	}
	p.replenishing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.replenishing = false
		p.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if _, err := p.createVM(gctx); err != nil && p.log != nil {
				p.log.Error(err, "replenish: vm creation failed")
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) replenishCountLocked() int {
	byMinIdle := p.cfg.MinIdle - len(p.idle)
	byMaxTotal := p.cfg.MaxTotal - len(p.idle) - len(p.inUse)
	n := byMinIdle
	if byMaxTotal < n {
		n = byMaxTotal
	}
	if n < 0 {
		n = 0
	}
	return n
}

// createVM allocates a network, instructs the hypervisor driver to create
// and start a VM, reports its boot duration, and places it in idle.
func (p *Pool) createVM(ctx context.Context) (*model.PooledVM, error) {
	p.mu.Lock()
	index := p.nextIndex
	p.nextIndex++
	p.mu.Unlock()

	id := fmt.Sprintf("vm-%d", index)
	net, err := p.allocator.allocate(index)
	if err != nil {
		return nil, err
	}

	cfg := hypervisor.Config{
		ID:       id,
		Kernel:   p.cfg.Kernel,
		Rootfs:   p.cfg.Rootfs,
		CPU:      p.cfg.CPU,
		MemoryMB: p.cfg.MemoryMB,
		Net: hypervisor.NetworkConfig{
			TAPDevice: net.TAPDevice,
			GuestMAC:  net.GuestMAC,
			GuestIP:   net.GuestIP,
			Gateway:   net.Gateway,
			Subnet:    net.Subnet,
			NATIface:  net.NATIface,
		},
	}

	started := time.Now()
	if err := p.driver.Create(ctx, cfg); err != nil {
		return nil, streamyerrors.NewHypervisorError("create", id, err)
	}
	if err := p.driver.Start(ctx, id); err != nil {
		return nil, streamyerrors.NewHypervisorError("start", id, err)
	}

	if p.obs != nil {
		p.obs.ObserveVMBootDuration(time.Since(started))
	}

	vm := &model.PooledVM{
		ID:         id,
		Network:    net,
		Index:      index,
		CreatedAt:  started,
		LastUsedAt: started,
		State:      model.VMIdle,
	}

	p.mu.Lock()
	p.idle[id] = vm
	p.idleOrder = append(p.idleOrder, id)
	p.mu.Unlock()

	return vm, nil
}

package hypervisor

import (
	"context"
	"errors"
	"sync"
)

// Fake is an in-memory Driver for tests. It records every created and
// started id and can be configured to fail a named operation for a
// specific VM id, to exercise the pool's HypervisorError handling without
// a real hypervisor.
type Fake struct {
	mu sync.Mutex

	created map[string]Config
	started map[string]bool

	FailCreate  map[string]bool
	FailStart   map[string]bool
	FailDestroy map[string]bool
}

// NewFake constructs an empty Fake driver.
func NewFake() *Fake {
	return &Fake{
		created:     make(map[string]Config),
		started:     make(map[string]bool),
		FailCreate:  make(map[string]bool),
		FailStart:   make(map[string]bool),
		FailDestroy: make(map[string]bool),
	}
}

func (f *Fake) Create(_ context.Context, cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate[cfg.ID] {
		return errors.New("hypervisor: simulated create failure")
	}
	f.created[cfg.ID] = cfg
	return nil
}

func (f *Fake) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailStart[id] {
		return errors.New("hypervisor: simulated start failure")
	}
	f.started[id] = true
	return nil
}

func (f *Fake) Destroy(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDestroy[id] {
		return errors.New("hypervisor: simulated destroy failure")
	}
	delete(f.created, id)
	delete(f.started, id)
	return nil
}

// IsRunning reports whether id was created and started and has not since
// been destroyed.
func (f *Fake) IsRunning(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[id]
}

// Count returns the number of VMs currently created (destroyed ones are
// removed).
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

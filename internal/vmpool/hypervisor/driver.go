// Package hypervisor is the boundary between the warm VM pool and
// whatever actually creates, starts, and destroys microVMs. The pool
// never talks to a hypervisor API directly, so it can be driven against
// an in-memory fake in tests.
package hypervisor

import "context"

// NetworkConfig is the network identity attached to a microVM at create
// time: a TAP device, a guest MAC, and a /30 subnet yielding a guest IP
// and gateway, with optional NAT plumbing to a host interface.
type NetworkConfig struct {
	TAPDevice string
	GuestMAC  string
	GuestIP   string
	Gateway   string
	Subnet    string
	NATIface  string
}

// Config is the composed specification for one microVM.
type Config struct {
	ID       string
	Kernel   string
	Rootfs   string
	CPU      int
	MemoryMB int
	Net      NetworkConfig
}

// Driver creates, starts, and destroys microVMs on behalf of the warm
// pool.
type Driver interface {
	Create(ctx context.Context, cfg Config) error
	Start(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
}

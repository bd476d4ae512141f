package vmpool

import (
	"fmt"
	"sync"

	"github.com/zephyr-ci/zephyr/internal/model"
	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

// networkAllocator hands out TAP devices and /30 subnets for newly
// created VMs, carved sequentially out of a private /16 so the pool never
// has to track a free list.
type networkAllocator struct {
	mu       sync.Mutex
	natIface string
	baseCIDR string
}

func newNetworkAllocator(natIface string) *networkAllocator {
	return &networkAllocator{natIface: natIface, baseCIDR: "172.30"}
}

// allocate returns the /30 subnet, TAP device, and guest MAC for the
// given monotonically increasing VM index. Index n occupies subnet
// 172.30.(n/64).((n%64)*4)/30: 64 subnets per /24, 16384 VMs total before
// exhaustion.
func (a *networkAllocator) allocate(index int) (model.VMNetwork, error) {
	if index < 0 || index > 16383 {
		return model.VMNetwork{}, streamyerrors.NewNetworkAllocError(fmt.Errorf("index %d exceeds available address space", index))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	thirdOctet := index / 64
	fourthBase := (index % 64) * 4

	return model.VMNetwork{
		TAPDevice: fmt.Sprintf("tap%d", index),
		GuestMAC:  fmt.Sprintf("02:fc:00:00:%02x:%02x", thirdOctet, fourthBase),
		GuestIP:   fmt.Sprintf("%s.%d.%d", a.baseCIDR, thirdOctet, fourthBase+2),
		Gateway:   fmt.Sprintf("%s.%d.%d", a.baseCIDR, thirdOctet, fourthBase+1),
		Subnet:    fmt.Sprintf("%s.%d.%d/30", a.baseCIDR, thirdOctet, fourthBase),
		NATIface:  a.natIface,
	}, nil
}

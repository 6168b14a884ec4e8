package instance

import (
	"fmt"
	"sync"

	"github.com/devserver-emu/devserver/internal/config"
)

// PortAllocator hands out ports for instances within a configured range,
// honoring static pins of the form devserver.<owner>.port (load balancer)
// and devserver.<owner>.<instance>.port.
type PortAllocator struct {
	mu        sync.Mutex
	basePort  int
	maxPort   int
	next      int
	allocated map[int]string // port -> owner.index
}

func NewPortAllocator() *PortAllocator {
	base := config.GetInt(config.PORTS_BASE, 8100)
	max := config.GetInt(config.PORTS_MAX, 8899)
	return &PortAllocator{
		basePort:  base,
		maxPort:   max,
		next:      base,
		allocated: make(map[int]string),
	}
}

// overrideKey returns the configuration key pinning inst to a fixed port.
func overrideKey(inst *Instance) string {
	if inst.IsLoadBalancer() {
		return fmt.Sprintf("%s.%s.port", config.PORT_OVERRIDE_PREFIX, inst.Owner)
	}
	return fmt.Sprintf("%s.%s.%d.port", config.PORT_OVERRIDE_PREFIX, inst.Owner, inst.Index)
}

// Allocate reserves a port for the instance, preferring a static pin when one
// is configured. The chosen port is stored on the instance as well.
func (p *PortAllocator) Allocate(inst *Instance) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pinned := config.GetInt(overrideKey(inst), 0); pinned > 0 {
		if owner, busy := p.allocated[pinned]; busy {
			return 0, fmt.Errorf("port %d pinned for %s is already assigned to %s", pinned, inst, owner)
		}
		p.allocated[pinned] = inst.String()
		inst.SetPort(pinned)
		return pinned, nil
	}

	for port := p.next; port <= p.maxPort; port++ {
		if _, busy := p.allocated[port]; busy {
			continue
		}
		p.allocated[port] = inst.String()
		p.next = port + 1
		inst.SetPort(port)
		return port, nil
	}
	return 0, fmt.Errorf("no available ports in range [%d, %d]", p.basePort, p.maxPort)
}

// Release frees a port for reuse. A no-op if the port is not allocated.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allocated, port)
	if port < p.next {
		p.next = port
	}
}

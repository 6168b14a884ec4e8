package backend

import (
	"errors"
	"fmt"

	"github.com/devserver-emu/devserver/internal/instance"
)

var ErrUnknownBackend = errors.New("unknown backend")
var ErrUnknownInstance = errors.New("unknown backend instance")

// Config declares one backend: a named set of instances behind a
// load-balancing pseudo-instance.
type Config struct {
	Name                  string `json:"name"`
	Instances             int    `json:"instances"`
	MaxConcurrentRequests int    `json:"maxConcurrentRequests"`
	// FailFast disables the pending queue: requests that find no free
	// instance are rejected instead of queued.
	FailFast bool `json:"failFast"`
	// MaxPendingQueueSize caps queued requests per instance; zero also
	// disables queuing.
	MaxPendingQueueSize int `json:"maxPendingQueueSize"`
}

const (
	DefaultInstances             = 1
	DefaultMaxConcurrentRequests = 10
	DefaultMaxPendingQueueSize   = 10
)

// Normalize fills defaults and rejects invalid declarations. Configuration
// errors fail fast here rather than at request time.
func (c *Config) Normalize() error {
	if c.Name == "" {
		return fmt.Errorf("backend with empty name")
	}
	if c.Instances < 0 || c.MaxConcurrentRequests < 0 || c.MaxPendingQueueSize < 0 {
		return fmt.Errorf("backend %s: negative sizing", c.Name)
	}
	if c.Instances == 0 {
		c.Instances = DefaultInstances
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.MaxPendingQueueSize == 0 && !c.FailFast {
		c.MaxPendingQueueSize = DefaultMaxPendingQueueSize
	}
	if c.FailFast {
		c.MaxPendingQueueSize = 0
	}
	return nil
}

// queuingAllowed reports whether this backend may hold a pending queue.
func (c *Config) queuingAllowed() bool {
	return !c.FailFast && c.MaxPendingQueueSize > 0
}

// backendState is one configured backend. slots[0] is the load-balancing
// pseudo-instance (external index -1); instance i lives in slots[i+1].
type backendState struct {
	cfg   Config
	slots []*instance.Instance
}

// slotFor maps an external instance index (-1 for the load balancer) onto the
// slots slice. The off-by-one here is deliberate and covered by boundary
// tests.
func (b *backendState) slotFor(externalIdx int) (*instance.Instance, error) {
	slot := externalIdx + 1
	if slot < 0 || slot >= len(b.slots) {
		return nil, fmt.Errorf("%w: %s[%d]", ErrUnknownInstance, b.cfg.Name, externalIdx)
	}
	return b.slots[slot], nil
}

// numbered returns the non-load-balancing instances.
func (b *backendState) numbered() []*instance.Instance {
	return b.slots[1:]
}

package modules

import (
	"sync"

	"github.com/devserver-emu/devserver/internal/instance"
)

// ScalingType selects how a module manages its instances.
type ScalingType string

const (
	ScalingAutomatic ScalingType = "automatic"
	ScalingManual    ScalingType = "manual"
	ScalingBasic     ScalingType = "basic"
)

// basicInstanceCap bounds basic-scaling modules to two instances regardless
// of the configured maximum: enough to exercise shared-state-across-instances
// behavior without the cost of a real fleet.
const basicInstanceCap = 2

// ScalingPolicy implements the policy-specific parts of a module: how many
// instances to build and how to reserve one for an incoming request. One
// policy value is owned by one module.
type ScalingPolicy interface {
	Type() ScalingType
	// InstanceCount decides how many numbered instances the module gets.
	InstanceCount(declared int) int
	// HasLoadBalancer reports whether a synthetic fan-out instance exists.
	HasLoadBalancer() bool
	// Reserve picks a numbered instance and takes a permit on it.
	Reserve(m *Module) (*instance.Instance, bool)
	// InitialState is the state numbered instances enter after startup.
	InitialState() instance.State
}

func policyFor(t ScalingType) ScalingPolicy {
	switch t {
	case ScalingManual:
		return &manualPolicy{}
	case ScalingBasic:
		return &basicPolicy{}
	default:
		return automaticPolicy{}
	}
}

// automaticPolicy: a single instance with no admission-control queue; the
// container bounds concurrency on its own.
type automaticPolicy struct{}

func (automaticPolicy) Type() ScalingType              { return ScalingAutomatic }
func (automaticPolicy) InstanceCount(declared int) int { return 1 }
func (automaticPolicy) HasLoadBalancer() bool          { return false }
func (automaticPolicy) InitialState() instance.State   { return instance.StateRunning }

func (automaticPolicy) Reserve(m *Module) (*instance.Instance, bool) {
	inst := m.numbered()[0]
	if !inst.State().AcceptsConnections() {
		return nil, false
	}
	return inst, true
}

// manualPolicy: a fixed fleet, reserved round-robin. The last-used instance
// is skipped when more than one exists, spreading load without bookkeeping.
type manualPolicy struct {
	mu       sync.Mutex
	lastUsed int
}

func (*manualPolicy) Type() ScalingType              { return ScalingManual }
func (*manualPolicy) InstanceCount(declared int) int { return declared }
func (*manualPolicy) HasLoadBalancer() bool          { return true }
func (*manualPolicy) InitialState() instance.State   { return instance.StateStopped }

func (p *manualPolicy) Reserve(m *Module) (*instance.Instance, bool) {
	fleet := m.numbered()

	p.mu.Lock()
	start := p.lastUsed
	p.mu.Unlock()

	for off := 1; off <= len(fleet); off++ {
		idx := (start + off) % len(fleet)
		if idx == start && len(fleet) > 1 {
			continue
		}
		inst := fleet[idx]
		if !inst.State().AcceptsConnections() {
			continue
		}
		if inst.Permits().TryAcquire() {
			p.mu.Lock()
			p.lastUsed = idx
			p.mu.Unlock()
			return inst, true
		}
	}

	// second chance for the skipped instance
	if len(fleet) > 1 {
		inst := fleet[start]
		if inst.State().AcceptsConnections() && inst.Permits().TryAcquire() {
			return inst, true
		}
	}
	return nil, false
}

// basicPolicy: instances sleep until demand wakes them, like backends.
type basicPolicy struct{}

func (*basicPolicy) Type() ScalingType { return ScalingBasic }

func (*basicPolicy) InstanceCount(declared int) int {
	if declared > basicInstanceCap {
		return basicInstanceCap
	}
	if declared < 1 {
		return 1
	}
	return declared
}

func (*basicPolicy) HasLoadBalancer() bool        { return true }
func (*basicPolicy) InitialState() instance.State { return instance.StateSleeping }

func (p *basicPolicy) Reserve(m *Module) (*instance.Instance, bool) {
	fleet := m.numbered()
	for _, inst := range fleet {
		if inst.State().AcceptsConnections() && inst.Permits().TryAcquire() {
			return inst, true
		}
	}
	// nothing serving has capacity; wake a sleeping instance and wait for
	// its start request to finish
	for _, inst := range fleet {
		var woken bool
		inst.State().Locked(func(view *instance.LockedState) {
			_, woken = view.TestAndSet(instance.StateRunningStartRequest, instance.StateSleeping)
		})
		if !woken {
			continue
		}
		instance.RunStartProbe(inst, func() {
			inst.Permits().ReleaseN(inst.MaxConcurrent)
		})
		if inst.Permits().Acquire(startRequestWait) {
			return inst, true
		}
		return nil, false
	}
	// all awake and saturated: queue on the first serving instance
	for _, inst := range fleet {
		if inst.State().AcceptsConnections() {
			if inst.Permits().Acquire(pendingQueueWait) {
				return inst, true
			}
			break
		}
	}
	return nil, false
}

package modules

import (
	"fmt"
	"time"

	"github.com/devserver-emu/devserver/internal/instance"
)

const (
	startRequestWait = 30 * time.Second
	pendingQueueWait = 10 * time.Second
	startServingWait = 30 * time.Second
)

// Config declares one module.
type Config struct {
	Name                  string      `json:"name"`
	Version               string      `json:"version"`
	Scaling               ScalingType `json:"scaling"`
	Instances             int         `json:"instances"`
	MaxConcurrentRequests int         `json:"maxConcurrentRequests"`
}

// Normalize fills defaults and rejects invalid scaling declarations.
func (c *Config) Normalize() error {
	if c.Name == "" {
		return fmt.Errorf("module with empty name")
	}
	if c.Version == "" {
		c.Version = "1"
	}
	switch c.Scaling {
	case "":
		c.Scaling = ScalingAutomatic
	case ScalingAutomatic, ScalingManual, ScalingBasic:
	default:
		return fmt.Errorf("module %s: invalid scaling type %q", c.Name, c.Scaling)
	}
	if c.Instances < 0 || c.MaxConcurrentRequests < 0 {
		return fmt.Errorf("module %s: negative sizing", c.Name)
	}
	if c.Instances == 0 {
		c.Instances = 1
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = 10
	}
	return nil
}

// InvalidStateError reports a lifecycle operation attempted from the wrong
// state. These are explicit user-driven operations, so the mismatch is an
// error, never a silent no-op.
type InvalidStateError struct {
	Module   string
	Current  instance.State
	Required instance.State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("module %s is in state %s, operation requires %s",
		e.Module, e.Current, e.Required)
}

// Module is a named group of instances sharing one scaling policy.
// slots[0] is the load-balancing pseudo-instance when the policy has one;
// instance i then lives in slots[i+1]. Automatic modules have no slot 0.
type Module struct {
	cfg    Config
	policy ScalingPolicy
	slots  []*instance.Instance
}

func newModule(cfg Config) *Module {
	m := &Module{
		cfg:    cfg,
		policy: policyFor(cfg.Scaling),
	}
	if m.policy.HasLoadBalancer() {
		m.slots = append(m.slots, instance.New(cfg.Name, instance.LoadBalancerIndex, cfg.MaxConcurrentRequests))
	}
	for idx := 0; idx < m.policy.InstanceCount(cfg.Instances); idx++ {
		m.slots = append(m.slots, instance.New(cfg.Name, idx, cfg.MaxConcurrentRequests))
	}
	return m
}

func (m *Module) Name() string {
	return m.cfg.Name
}

func (m *Module) Scaling() ScalingType {
	return m.policy.Type()
}

// NumInstances reports how many numbered instances the module runs.
func (m *Module) NumInstances() int {
	return len(m.numbered())
}

// numbered returns the non-load-balancing instances.
func (m *Module) numbered() []*instance.Instance {
	if m.policy.HasLoadBalancer() {
		return m.slots[1:]
	}
	return m.slots
}

// slotFor maps an external index (-1 = load balancer) to an instance. The
// indexing mirrors the backend layout; boundary behavior is covered by tests.
func (m *Module) slotFor(externalIdx int) (*instance.Instance, error) {
	if !m.policy.HasLoadBalancer() {
		if externalIdx < 0 || externalIdx >= len(m.slots) {
			return nil, fmt.Errorf("%w: %s[%d]", ErrUnknownInstance, m.cfg.Name, externalIdx)
		}
		return m.slots[externalIdx], nil
	}
	slot := externalIdx + 1
	if slot < 0 || slot >= len(m.slots) {
		return nil, fmt.Errorf("%w: %s[%d]", ErrUnknownInstance, m.cfg.Name, externalIdx)
	}
	return m.slots[slot], nil
}

// ExpectsGeneratedStartRequests reports whether instances of this module are
// woken by internally generated /_ah/start probes.
func (m *Module) ExpectsGeneratedStartRequests() bool {
	return m.policy.Type() != ScalingAutomatic
}

// startup brings the module to its initial posture after configuration.
func (m *Module) startup() {
	if m.policy.HasLoadBalancer() {
		lb := m.slots[0]
		lb.State().Set(instance.StateRunning)
		lb.Permits().ReleaseN(lb.MaxConcurrent)
	}
	for _, inst := range m.numbered() {
		inst.State().Set(m.policy.InitialState())
		if m.policy.InitialState() == instance.StateRunning {
			inst.Permits().ReleaseN(inst.MaxConcurrent)
		}
	}
}

// StartServing resumes a stopped module: STOPPED -> serving, failing outright
// from any other state. Manual instances wake through start requests; the
// call waits for all of them to complete.
func (m *Module) StartServing() error {
	// validate every instance before flipping any, so a mismatch leaves the
	// module untouched
	for _, inst := range m.numbered() {
		if current := inst.State().Get(); current != instance.StateStopped {
			return &InvalidStateError{Module: m.cfg.Name, Current: current, Required: instance.StateStopped}
		}
	}
	for _, inst := range m.numbered() {
		inst.State().TestAndSet(instance.StateSleeping, instance.StateStopped)
	}

	pending := make(chan struct{}, len(m.numbered()))
	for _, inst := range m.numbered() {
		target := inst
		instance.SendStartRequest(target, func() {
			target.Permits().ReleaseN(target.MaxConcurrent)
			pending <- struct{}{}
		})
	}

	deadline := time.After(startServingWait)
	for range m.numbered() {
		select {
		case <-pending:
		case <-deadline:
			return fmt.Errorf("module %s: start requests did not complete in time", m.cfg.Name)
		}
	}
	return nil
}

// StopServing stops a serving module: RUNNING -> STOPPED, failing outright
// from any other state. Instance teardown mirrors the backend behavior:
// rebuild in a stopped state so in-process state is flushed.
func (m *Module) StopServing(stopRuntime func(*instance.Instance) error) error {
	for _, inst := range m.numbered() {
		if current := inst.State().Get(); current != instance.StateRunning {
			return &InvalidStateError{Module: m.cfg.Name, Current: current, Required: instance.StateRunning}
		}
	}
	for _, inst := range m.numbered() {
		instance.Shutdown(inst, stopRuntime)
		inst.Permits().Drain()
		inst.State().Set(instance.StateStopped)
	}
	return nil
}

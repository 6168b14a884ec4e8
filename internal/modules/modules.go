// Package modules hosts the named deployable units of the app, each with its
// own scaling policy, and the dynamic-configuration operations over them.
package modules

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LK4D4/trylock"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/metrics"
	"github.com/devserver-emu/devserver/internal/runtime"
)

var ErrUnknownModule = errors.New("unknown module")
var ErrUnknownInstance = errors.New("unknown module instance")

// ErrDynamicConfiguration is surfaced when a start/stop operation cannot take
// the configuration lock in time. Reported to the caller, never retried
// silently.
var ErrDynamicConfiguration = errors.New("unexpected state: dynamic module configuration already in progress")

// dynamicLockWait bounds how long a dynamic-configuration operation waits for
// exclusivity. Concurrent reconfiguration is deliberately disallowed to avoid
// inconsistent partial states.
const dynamicLockWait = 2 * time.Second

// Registry owns every module. The module map is replaced wholesale on
// (re)configuration; instance state stays under each instance's own holder.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module

	// serializes StartModule/StopModule
	dynamic trylock.Mutex

	ports   *instance.PortAllocator
	factory runtime.Factory
}

func NewRegistry(ports *instance.PortAllocator, factory runtime.Factory) *Registry {
	return &Registry{
		modules: make(map[string]*Module),
		ports:   ports,
		factory: factory,
	}
}

// Configure builds the module set. A duplicate name+version pair is a
// configuration error.
func (r *Registry) Configure(configs []Config) error {
	fresh := make(map[string]*Module, len(configs))
	seen := make(map[string]bool, len(configs))
	for i := range configs {
		cfg := configs[i]
		if err := cfg.Normalize(); err != nil {
			return err
		}
		key := cfg.Name + ":" + cfg.Version
		if seen[key] {
			return fmt.Errorf("duplicate module version: %s", key)
		}
		seen[key] = true
		if _, dup := fresh[cfg.Name]; dup {
			return fmt.Errorf("duplicate module: %s", cfg.Name)
		}

		m := newModule(cfg)
		for _, inst := range m.slots {
			if _, err := r.ports.Allocate(inst); err != nil {
				return err
			}
		}
		fresh[cfg.Name] = m
	}

	r.mu.Lock()
	r.modules = fresh
	r.mu.Unlock()
	return nil
}

// StartupAll brings every module to its initial posture.
func (r *Registry) StartupAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		m.startup()
	}
}

func (r *Registry) Module(name string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return m, nil
}

// Names lists the configured modules.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// Instance resolves an instance of a module; index -1 is the load balancer.
func (r *Registry) Instance(name string, idx int) (*instance.Instance, error) {
	m, err := r.Module(name)
	if err != nil {
		return nil, err
	}
	return m.slotFor(idx)
}

// lockDynamic takes the global dynamic-configuration lock, bounded by
// dynamicLockWait.
func (r *Registry) lockDynamic() error {
	deadline := time.Now().Add(dynamicLockWait)
	for !r.dynamic.TryLock() {
		if time.Now().After(deadline) {
			return ErrDynamicConfiguration
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// StartModule resumes a stopped module. Serialized globally: concurrent
// dynamic reconfiguration is an error, not a queueing situation.
func (r *Registry) StartModule(name string) error {
	if err := r.lockDynamic(); err != nil {
		return err
	}
	defer r.dynamic.Unlock()

	m, err := r.Module(name)
	if err != nil {
		return err
	}
	log.Printf("starting module %s", name)
	return m.StartServing()
}

// StopModule stops a serving module.
func (r *Registry) StopModule(name string) error {
	if err := r.lockDynamic(); err != nil {
		return err
	}
	defer r.dynamic.Unlock()

	m, err := r.Module(name)
	if err != nil {
		return err
	}
	log.Printf("stopping module %s", name)
	return m.StopServing(r.destroyRuntime)
}

func (r *Registry) destroyRuntime(inst *instance.Instance) error {
	if r.factory == nil || inst.RuntimeID() == "" {
		return nil
	}
	err := r.factory.Destroy(inst.RuntimeID())
	inst.SetRuntimeID("")
	return err
}

// AcquireServingPermit admits one request onto a concrete module instance.
// Automatic modules have no admission queue; the container itself bounds
// concurrency.
func (r *Registry) AcquireServingPermit(name string, idx int) (bool, error) {
	m, err := r.Module(name)
	if err != nil {
		return false, err
	}
	if m.Scaling() == ScalingAutomatic {
		inst, err := m.slotFor(idx)
		if err != nil {
			return false, err
		}
		return inst.State().AcceptsConnections(), nil
	}

	inst, err := m.slotFor(idx)
	if err != nil {
		return false, err
	}

	var budget time.Duration
	var needProbe, admitted bool
	inst.State().Locked(func(view *instance.LockedState) {
		state := view.Get()
		if !view.AcceptsConnections() && state != instance.StateSleeping {
			return
		}
		if state == instance.StateSleeping {
			if _, ok := view.TestAndSet(instance.StateRunningStartRequest, instance.StateSleeping); ok {
				needProbe = true
			}
		}
		admitted = true
		if view.Get() == instance.StateRunningStartRequest {
			budget = startRequestWait
		} else {
			budget = pendingQueueWait
		}
	})

	if needProbe {
		instance.RunStartProbe(inst, func() {
			inst.Permits().ReleaseN(inst.MaxConcurrent)
		})
	}
	if !admitted {
		metrics.RecordAdmission(name, false)
		return false, nil
	}

	ok := inst.Permits().Acquire(budget)
	metrics.RecordAdmission(name, ok)
	return ok, nil
}

// ReleaseServingPermit returns a permit previously acquired on an instance.
func (r *Registry) ReleaseServingPermit(name string, idx int) error {
	m, err := r.Module(name)
	if err != nil {
		return err
	}
	if m.Scaling() == ScalingAutomatic {
		return nil
	}
	inst, err := m.slotFor(idx)
	if err != nil {
		return err
	}
	if inst.State().AcceptsConnections() {
		inst.Permits().Release()
	} else {
		log.Printf("release on non-serving instance %s ignored", inst)
	}
	return nil
}

// ReserveAvailableInstance picks any free instance of the module, per its
// scaling policy, and takes a permit on it. Returns the instance index.
func (r *Registry) ReserveAvailableInstance(name string) (int, bool, error) {
	m, err := r.Module(name)
	if err != nil {
		return 0, false, err
	}
	inst, ok := m.policy.Reserve(m)
	metrics.RecordAdmission(name, ok)
	if !ok {
		return 0, false, nil
	}
	return inst.Index, true, nil
}

// Shutdown tears down every instance of every module.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.modules {
		for _, inst := range m.slots {
			instance.Shutdown(inst, r.destroyRuntime)
		}
	}
}

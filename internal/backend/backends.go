// Package backend implements serving-permit admission control and lifecycle
// orchestration for backend instances.
package backend

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/metrics"
	"github.com/devserver-emu/devserver/internal/runtime"
)

const (
	// maxQueuedRequests caps the approximate pending-queue length per
	// instance; beyond it requests are rejected outright.
	maxQueuedRequests = 20
	// startRequestWait is the permit wait budget while a start request is
	// in flight.
	startRequestWait = 30 * time.Second
	// pendingQueueWait is the permit wait budget when queuing is allowed.
	pendingQueueWait = 10 * time.Second
)

// Backends orchestrates all configured backends. The backend map is replaced
// wholesale on (re)configuration so readers never observe a half-built one;
// per-instance mutable state stays under each instance's own holder.
type Backends struct {
	mu       sync.RWMutex
	backends map[string]*backendState

	ports   *instance.PortAllocator
	factory runtime.Factory // nil when instances are externally managed

	mappingMu        sync.Mutex
	mapping          map[string]string
	mappingListeners []func(map[string]string)
}

func NewBackends(ports *instance.PortAllocator, factory runtime.Factory) *Backends {
	return &Backends{
		backends: make(map[string]*backendState),
		ports:    ports,
		factory:  factory,
		mapping:  make(map[string]string),
	}
}

// Configure builds the full backend set from declarations. Duplicate names
// and invalid sizing are configuration errors.
func (s *Backends) Configure(configs []Config) error {
	fresh := make(map[string]*backendState, len(configs))
	for i := range configs {
		cfg := configs[i]
		if err := cfg.Normalize(); err != nil {
			return err
		}
		if _, dup := fresh[cfg.Name]; dup {
			return fmt.Errorf("duplicate backend: %s", cfg.Name)
		}

		b := &backendState{cfg: cfg}
		// slot 0 is the load balancer
		b.slots = append(b.slots, instance.New(cfg.Name, instance.LoadBalancerIndex, cfg.MaxConcurrentRequests))
		for idx := 0; idx < cfg.Instances; idx++ {
			b.slots = append(b.slots, instance.New(cfg.Name, idx, cfg.MaxConcurrentRequests))
		}
		for _, inst := range b.slots {
			if _, err := s.ports.Allocate(inst); err != nil {
				return err
			}
		}
		fresh[cfg.Name] = b
	}

	s.mu.Lock()
	s.backends = fresh
	s.mu.Unlock()

	s.republishMapping()
	return nil
}

// StartupAll brings every backend to its serving posture: load balancers run
// immediately, numbered instances sleep until woken by a start request.
func (s *Backends) StartupAll() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.backends {
		for _, inst := range b.slots {
			if err := s.connectInstance(inst); err != nil {
				return err
			}
			if inst.IsLoadBalancer() {
				inst.State().Set(instance.StateRunning)
				inst.Permits().ReleaseN(inst.MaxConcurrent)
			} else {
				inst.State().Set(instance.StateSleeping)
			}
		}
	}
	return nil
}

// connectInstance creates and starts the backing container, if any.
func (s *Backends) connectInstance(inst *instance.Instance) error {
	if s.factory == nil {
		return nil
	}
	image := config.GetString(config.RUNTIME_IMAGE, "")
	id, err := s.factory.Create(image, &runtime.InstanceOptions{
		Owner: inst.Owner,
		Index: inst.Index,
		Port:  inst.Port(),
	})
	if err != nil {
		return err
	}
	inst.SetRuntimeID(id)
	return s.factory.Start(id)
}

func (s *Backends) lookup(name string) (*backendState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

// Instance resolves one instance; external index -1 is the load balancer.
func (s *Backends) Instance(name string, idx int) (*instance.Instance, error) {
	b, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return b.slotFor(idx)
}

// InstanceState reports the current state of an instance, for error mapping
// at the HTTP layer.
func (s *Backends) InstanceState(name string, idx int) (instance.State, error) {
	inst, err := s.Instance(name, idx)
	if err != nil {
		return instance.StateShutdown, err
	}
	return inst.State().Get(), nil
}

// AcquireServingPermit admits one request onto a concrete instance, possibly
// waiting. The accept/queue/start decision runs under the instance's state
// monitor; the blocking semaphore wait happens outside it. Returns false when
// the instance is busy or not serving.
func (s *Backends) AcquireServingPermit(name string, idx int, allowQueueOnBackends bool) (bool, error) {
	b, err := s.lookup(name)
	if err != nil {
		return false, err
	}
	inst, err := b.slotFor(idx)
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
		if inst.Permits().QueueLength() > maxQueuedRequests {
			return
		}
		if state == instance.StateSleeping {
			// wake it; do not block in here
			if _, ok := view.TestAndSet(instance.StateRunningStartRequest, instance.StateSleeping); ok {
				needProbe = true
			}
		}
		admitted = true
		switch {
		case view.Get() == instance.StateRunningStartRequest:
			budget = startRequestWait
		case allowQueueOnBackends && b.cfg.queuingAllowed():
			budget = pendingQueueWait
		default:
			budget = 0
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
// Must be paired 1:1 with a successful acquire.
func (s *Backends) ReleaseServingPermit(name string, idx int) error {
	inst, err := s.Instance(name, idx)
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

// GetApproximateQueueLength reports the pending-queue length of an instance.
// The value is approximate by construction.
func (s *Backends) GetApproximateQueueLength(name string, idx int) (int, error) {
	inst, err := s.Instance(name, idx)
	if err != nil {
		return 0, err
	}
	return inst.Permits().QueueLength(), nil
}

// GetAndReserveFreeInstance scans the backend for a free instance with a
// zero-wait acquire; when all are busy and queuing is allowed it falls back
// to the shortest queue. Returns the reserved instance index.
func (s *Backends) GetAndReserveFreeInstance(name string) (int, bool, error) {
	b, err := s.lookup(name)
	if err != nil {
		return 0, false, err
	}

	for i, inst := range b.numbered() {
		if !inst.State().AcceptsConnections() {
			continue
		}
		if inst.Permits().TryAcquire() {
			metrics.RecordAdmission(name, true)
			return i, true, nil
		}
	}

	if !b.cfg.queuingAllowed() {
		metrics.RecordAdmission(name, false)
		return 0, false, nil
	}
	return s.addToShortestInstanceQueue(b)
}

// addToShortestInstanceQueue picks the instance with the fewest queued
// waiters and blocks on it. The scan and the acquire are not atomic, so the
// choice is best-effort: queue lengths can change in between. Documented
// behavior, not to be "fixed" into a stronger guarantee.
func (s *Backends) addToShortestInstanceQueue(b *backendState) (int, bool, error) {
	shortest := -1
	shortestLen := maxQueuedRequests + 1
	for i, inst := range b.numbered() {
		if !inst.State().AcceptsConnections() {
			continue
		}
		if qlen := inst.Permits().QueueLength(); qlen < shortestLen {
			shortest = i
			shortestLen = qlen
		}
	}
	if shortest < 0 {
		metrics.RecordAdmission(b.cfg.Name, false)
		return 0, false, nil
	}

	inst := b.numbered()[shortest]
	ok := inst.Permits().Acquire(pendingQueueWait)
	metrics.RecordAdmission(b.cfg.Name, ok)
	return shortest, ok, nil
}

// StartBackend resumes a stopped backend: the load balancer flips back to
// RUNNING and every numbered instance returns to SLEEPING, to be woken by a
// start request on first use.
func (s *Backends) StartBackend(name string) error {
	b, err := s.lookup(name)
	if err != nil {
		return err
	}

	lb := b.slots[0]
	if prior, ok := lb.State().TestAndSet(instance.StateRunning, instance.StateStopped); !ok {
		return fmt.Errorf("backend %s cannot start from state %s", name, prior)
	}
	for _, inst := range b.numbered() {
		if prior, ok := inst.State().TestAndSet(instance.StateSleeping, instance.StateStopped); !ok {
			log.Printf("instance %s not stopped (%s), leaving as is", inst, prior)
		}
	}
	return nil
}

// StopBackend stops a backend. Numbered instances are torn down and rebuilt
// in a stopped state so in-process app state is flushed, as a production
// cold redeploy would.
func (s *Backends) StopBackend(name string) error {
	b, err := s.lookup(name)
	if err != nil {
		return err
	}

	lb := b.slots[0]
	if prior, ok := lb.State().TestAndSet(instance.StateStopped, instance.StateRunning); !ok {
		return fmt.Errorf("backend %s cannot stop from state %s", name, prior)
	}

	for _, inst := range b.numbered() {
		instance.Shutdown(inst, s.destroyRuntime)
		inst.Permits().Drain()
		if err := s.connectInstance(inst); err != nil {
			return err
		}
		inst.State().Set(instance.StateStopped)
	}
	return nil
}

func (s *Backends) destroyRuntime(inst *instance.Instance) error {
	if s.factory == nil || inst.RuntimeID() == "" {
		return nil
	}
	err := s.factory.Destroy(inst.RuntimeID())
	inst.SetRuntimeID("")
	return err
}

// Shutdown tears down every instance of every backend.
func (s *Backends) Shutdown() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.backends {
		for _, inst := range b.slots {
			instance.Shutdown(inst, s.destroyRuntime)
		}
	}
}

// Names lists the configured backends.
func (s *Backends) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	return names
}

// ConfigOf returns the declaration of one backend.
func (s *Backends) ConfigOf(name string) (Config, error) {
	b, err := s.lookup(name)
	if err != nil {
		return Config{}, err
	}
	return b.cfg, nil
}

// PortMapping returns the current immutable snapshot from
// "instance.backendname" keys to "host:port" addresses.
func (s *Backends) PortMapping() map[string]string {
	s.mappingMu.Lock()
	defer s.mappingMu.Unlock()
	snapshot := make(map[string]string, len(s.mapping))
	for k, v := range s.mapping {
		snapshot[k] = v
	}
	return snapshot
}

// OnMappingChange registers a listener invoked with each fresh port-mapping
// snapshot (e.g. the etcd registry publisher).
func (s *Backends) OnMappingChange(fn func(map[string]string)) {
	s.mappingMu.Lock()
	s.mappingListeners = append(s.mappingListeners, fn)
	snapshot := make(map[string]string, len(s.mapping))
	for k, v := range s.mapping {
		snapshot[k] = v
	}
	s.mappingMu.Unlock()
	fn(snapshot)
}

// republishMapping recomputes the snapshot wholesale after (re)configuration.
func (s *Backends) republishMapping() {
	fresh := make(map[string]string)
	s.mu.RLock()
	for _, b := range s.backends {
		for _, inst := range b.slots {
			fresh[inst.MappingKey()] = inst.Address()
		}
	}
	s.mu.RUnlock()

	s.mappingMu.Lock()
	s.mapping = fresh
	listeners := append([]func(map[string]string){}, s.mappingListeners...)
	s.mappingMu.Unlock()

	for _, fn := range listeners {
		fn(fresh)
	}
}

// Package apiproxy routes "make an API call" requests to locally registered
// service implementations, enforcing request-size limits, per-call deadlines
// and a caller-supplied concurrency cap.
package apiproxy

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/devserver-emu/devserver/internal/capability"
	"github.com/devserver-emu/devserver/internal/latency"
	"github.com/devserver-emu/devserver/internal/metrics"
	"github.com/devserver-emu/devserver/internal/telemetry"
)

// MaxRequestSize bounds the serialized request payload.
const MaxRequestSize = 1048576

// MaxResponseSize bounds the serialized response payload.
const MaxResponseSize = 32 << 20

// Deadline fallbacks, in seconds, for services that declare none.
const (
	defaultDeadlineSeconds = 5.0
	maximumDeadlineSeconds = 10.0
)

type deadlineSpec struct {
	def float64
	max float64
}

// Proxy is the local API dispatch proxy. Handlers are resolved through a
// method table built at service registration; nothing is looked up
// reflectively per call.
type Proxy struct {
	regMu     sync.Mutex
	factories map[string]ServiceFactory
	services  map[string]Service
	deadlines map[string]deadlineSpec
	methods   *hashmap.Map[string, MethodFunc]

	caps    *capability.Environment
	latency *latency.Simulator
}

func NewProxy(caps *capability.Environment, sim *latency.Simulator) *Proxy {
	return &Proxy{
		factories: make(map[string]ServiceFactory),
		services:  make(map[string]Service),
		deadlines: make(map[string]deadlineSpec),
		methods:   hashmap.New[string, MethodFunc](),
		caps:      caps,
		latency:   sim,
	}
}

// RegisterFactory binds a package name to a lazily constructed service.
func (p *Proxy) RegisterFactory(pkg string, factory ServiceFactory) {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	p.factories[pkg] = factory
}

// RegisterService installs a service immediately, building its method table.
// Registration is serialized so at most one instance per package ever exists,
// even when concurrent first calls race; a duplicate instance would corrupt
// shared service state.
func (p *Proxy) RegisterService(svc Service) {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	p.installLocked(svc)
}

func (p *Proxy) installLocked(svc Service) {
	pkg := svc.Package()
	if _, exists := p.services[pkg]; exists {
		log.Printf("service '%s' already registered, keeping the first instance", pkg)
		return
	}
	p.services[pkg] = svc

	for name, fn := range svc.Methods() {
		p.methods.Set(pkg+"."+name, fn)
	}

	spec := deadlineSpec{def: defaultDeadlineSeconds, max: maximumDeadlineSeconds}
	if da, ok := svc.(DeadlineAware); ok {
		if d := da.DefaultDeadline(); d > 0 {
			spec.def = d
		}
		if m := da.MaximumDeadline(); m > 0 {
			spec.max = m
		}
	}
	p.deadlines[pkg] = spec

	if lp, ok := svc.(LatencyProfiled); ok && p.latency != nil {
		for method, profile := range lp.LatencyProfiles() {
			key := pkg
			if method != "" {
				key = pkg + "." + method
			}
			p.latency.Register(key, profile)
		}
	}
}

// resolve returns the handler for (service, method), constructing the service
// from its factory on first use.
func (p *Proxy) resolve(service, method string) (MethodFunc, bool) {
	if fn, ok := p.methods.Get(service + "." + method); ok {
		return fn, true
	}

	p.regMu.Lock()
	if _, built := p.services[service]; !built {
		if factory, ok := p.factories[service]; ok {
			p.installLocked(factory())
		}
	}
	p.regMu.Unlock()

	return p.methods.Get(service + "." + method)
}

// ResolveDeadline computes the effective deadline of one call: the explicit
// per-call override wins over the service default, clamped by the service
// maximum.
func (p *Proxy) ResolveDeadline(service string, explicitSeconds float64) time.Duration {
	p.regMu.Lock()
	spec, ok := p.deadlines[service]
	p.regMu.Unlock()
	if !ok {
		spec = deadlineSpec{def: defaultDeadlineSeconds, max: maximumDeadlineSeconds}
	}

	seconds := spec.def
	if explicitSeconds > 0 {
		seconds = explicitSeconds
	}
	if seconds > spec.max {
		seconds = spec.max
	}
	return time.Duration(seconds * float64(time.Second))
}

// MakeSyncCall dispatches and blocks on the result.
func (p *Proxy) MakeSyncCall(env *Environment, service, method string, request []byte) ([]byte, error) {
	return p.MakeAsyncCall(env, service, method, request).Wait()
}

// MakeAsyncCall dispatches on a fresh goroutine and returns the future. The
// caller's concurrency semaphore (if any) is acquired before submission and
// given back exactly once on completion or cancellation.
func (p *Proxy) MakeAsyncCall(env *Environment, service, method string, request []byte) *Call {
	deadline := p.ResolveDeadline(service, env.Deadline)

	if len(request) > MaxRequestSize {
		// rejected before a permit was acquired, so there is none to give back
		c := newCall(service, method, deadline, &releaseOnce{})
		c.complete(nil, &RequestTooLargeError{Service: service, Method: method})
		return c
	}

	if env.callPermits != nil {
		env.callPermits.AcquireBlocking()
	}

	c := newCall(service, method, deadline, &releaseOnce{sem: env.callPermits})
	go p.dispatch(env, c, request)
	return c
}

func (p *Proxy) dispatch(env *Environment, c *Call, request []byte) {
	started := time.Now()

	result, err := p.invoke(env, c.Service, c.Method, request)

	if err == nil && len(result) > MaxResponseSize {
		result = nil
		err = &ResponseTooLargeError{Service: c.Service, Method: c.Method}
	}

	if err == nil && p.latency != nil {
		p.latency.Simulate(c.Service, c.Method, time.Since(started))
	}

	metrics.RecordAPICall(c.Service, c.Method, err == nil)
	c.complete(result, err)
}

func (p *Proxy) invoke(env *Environment, service, method string, request []byte) (result []byte, err error) {
	if p.caps != nil && !p.caps.Enabled(service, method) {
		return nil, &CapabilityDisabledError{
			Service: service,
			Method:  method,
			Status:  p.caps.StatusOf(service, method).String(),
		}
	}

	fn, ok := p.resolve(service, method)
	if !ok {
		return nil, &CallNotFoundError{Service: service, Method: method}
	}

	if telemetry.DefaultTracer != nil {
		_, span := telemetry.DefaultTracer.Start(context.Background(),
			fmt.Sprintf("api/%s.%s", service, method))
		defer span.End()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &UnknownError{Service: service, Method: method, Cause: fmt.Errorf("%v", r)}
		}
	}()

	result, err = fn(env, request)
	if err != nil {
		switch err.(type) {
		case *ApplicationError, *CapabilityDisabledError:
			// typed errors pass through unchanged
		default:
			err = &UnknownError{Service: service, Method: method, Cause: err}
		}
	}
	return result, err
}

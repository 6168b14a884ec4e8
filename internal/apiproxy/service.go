package apiproxy

import (
	"github.com/devserver-emu/devserver/internal/latency"
)

// MethodFunc handles one RPC method: opaque request bytes in, opaque
// response bytes out. Implementations return *ApplicationError for
// service-level failures.
type MethodFunc func(env *Environment, request []byte) ([]byte, error)

// Service is a locally registered API implementation. The method table is
// resolved once, at registration, never per call.
type Service interface {
	// Package is the API package name calls are addressed to, e.g. "memcache".
	Package() string
	// Methods maps RPC method names to handlers.
	Methods() map[string]MethodFunc
}

// DeadlineAware lets a service declare its own deadlines, in seconds.
// Services not implementing it get the global fallbacks.
type DeadlineAware interface {
	DefaultDeadline() float64
	MaximumDeadline() float64
}

// LatencyProfiled lets a service declare production latency percentiles,
// either per method or service-wide under the empty key.
type LatencyProfiled interface {
	LatencyProfiles() map[string]latency.Percentiles
}

// ServiceFactory builds a service on first use. The proxy guarantees the
// factory runs at most once per package, even under concurrent first-call
// races; a second instance would corrupt shared service state.
type ServiceFactory func() Service

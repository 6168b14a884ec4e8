// Package router classifies inbound requests and steers them to a concrete
// (module-or-backend, instance) pair under serving-permit admission control.
package router

import (
	"net/http"
	"strconv"

	"github.com/devserver-emu/devserver/internal/instance"
)

// Redirect protocol headers. Checked on headers first, then on GET query
// parameters only; POST bodies are never consulted.
const (
	BackendHeader  = "X-AppEngine-BackendName"
	InstanceHeader = "X-AppEngine-BackendInstance"

	// markers carried by a forwarded request so the receiving instance
	// serves it directly instead of redirecting again
	RedirectedBackendHeader = "X-AppEngine-Redirected-Backend"
	RedirectedModuleHeader  = "X-AppEngine-Redirected-Module-Instance"
)

// RequestType is the 6-way classification of one inbound request.
type RequestType int

const (
	// DirectModule is served by the module instance that received it.
	DirectModule RequestType = iota
	// DirectBackend targets a concrete backend instance directly.
	DirectBackend
	// RedirectRequested must be forwarded to a chosen instance.
	RedirectRequested
	// RedirectedBackend already carries a backend-redirect marker.
	RedirectedBackend
	// RedirectedModule already carries a module-instance-redirect marker.
	RedirectedModule
	// Startup is the internally generated /_ah/start handshake.
	Startup
)

func (t RequestType) String() string {
	switch t {
	case DirectModule:
		return "DIRECT_MODULE"
	case DirectBackend:
		return "DIRECT_BACKEND"
	case RedirectRequested:
		return "REDIRECT_REQUESTED"
	case RedirectedBackend:
		return "REDIRECTED_BACKEND"
	case RedirectedModule:
		return "REDIRECTED_MODULE"
	case Startup:
		return "STARTUP"
	default:
		return "UNKNOWN"
	}
}

// GetHeaderOrParameter reads the redirect protocol value: the header wins;
// query parameters are consulted for GET requests only, so a POST body is
// never touched.
func GetHeaderOrParameter(r *http.Request, name string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	if r.Method != http.MethodGet {
		return ""
	}
	return r.URL.Query().Get(name)
}

// getInstanceIdFromRequest parses the instance-redirect value, -1 when absent
// or malformed.
func getInstanceIdFromRequest(r *http.Request) int {
	v := GetHeaderOrParameter(r, InstanceHeader)
	if v == "" {
		return -1
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return id
}

// Classify runs the decision table, first match wins.
func (rt *Router) Classify(r *http.Request) RequestType {
	if r.URL.Path == instance.StartPath && rt.expectsGeneratedStartRequests() {
		return Startup
	}
	if r.Header.Get(RedirectedBackendHeader) != "" {
		return RedirectedBackend
	}
	if r.Header.Get(RedirectedModuleHeader) != "" {
		return RedirectedModule
	}
	if rt.isBackend {
		// a backend port: the load balancer has no instance encoded
		if rt.index == instance.LoadBalancerIndex {
			return RedirectRequested
		}
		return DirectBackend
	}
	if GetHeaderOrParameter(r, BackendHeader) != "" || rt.index == instance.LoadBalancerIndex {
		return RedirectRequested
	}
	return DirectModule
}

func (rt *Router) expectsGeneratedStartRequests() bool {
	if rt.index == instance.LoadBalancerIndex {
		return false
	}
	if rt.isBackend {
		return true
	}
	m, err := rt.modules.Module(rt.owner)
	if err != nil {
		return false
	}
	return m.ExpectsGeneratedStartRequests()
}

package router

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/devserver-emu/devserver/utils"
)

func newTestTopology(t *testing.T) (*backend.Backends, *modules.Registry) {
	config.Set(config.PORTS_BASE, 38100)
	config.Set(config.PORTS_MAX, 38899)
	ports := instance.NewPortAllocator()

	backends := backend.NewBackends(ports, nil)
	utils.AssertNil(t, backends.Configure([]backend.Config{
		{Name: "workers", Instances: 2},
	}))

	registry := modules.NewRegistry(ports, nil)
	utils.AssertNil(t, registry.Configure([]modules.Config{
		{Name: "default", Scaling: modules.ScalingAutomatic},
		{Name: "api", Scaling: modules.ScalingManual, Instances: 2},
	}))
	return backends, registry
}

func request(t *testing.T, method, target string, headers map[string]string) *http.Request {
	u, err := url.Parse(target)
	utils.AssertNil(t, err)
	r := &http.Request{Method: method, URL: u, Header: make(http.Header)}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestGetHeaderOrParameter(t *testing.T) {
	r := request(t, http.MethodGet, "/path?"+BackendHeader+"=workers", nil)
	utils.AssertEquals(t, "workers", GetHeaderOrParameter(r, BackendHeader))

	// the header wins over the parameter
	r = request(t, http.MethodGet, "/path?"+BackendHeader+"=fromparam",
		map[string]string{BackendHeader: "fromheader"})
	utils.AssertEquals(t, "fromheader", GetHeaderOrParameter(r, BackendHeader))

	// POST requests never consult parameters
	r = request(t, http.MethodPost, "/path?"+BackendHeader+"=workers", nil)
	utils.AssertEquals(t, "", GetHeaderOrParameter(r, BackendHeader))

	r = request(t, http.MethodPost, "/path", map[string]string{BackendHeader: "workers"})
	utils.AssertEquals(t, "workers", GetHeaderOrParameter(r, BackendHeader))
}

func TestGetInstanceIdFromRequest(t *testing.T) {
	r := request(t, http.MethodGet, "/path", map[string]string{InstanceHeader: "2"})
	utils.AssertEquals(t, 2, getInstanceIdFromRequest(r))

	r = request(t, http.MethodGet, "/path", nil)
	utils.AssertEquals(t, -1, getInstanceIdFromRequest(r))

	r = request(t, http.MethodGet, "/path", map[string]string{InstanceHeader: "junk"})
	utils.AssertEquals(t, -1, getInstanceIdFromRequest(r))
}

func TestClassifyDecisionTable(t *testing.T) {
	backends, registry := newTestTopology(t)

	moduleInstance := New(backends, registry, "api", 0, false)
	moduleLB := New(backends, registry, "api", instance.LoadBalancerIndex, false)
	autoInstance := New(backends, registry, "default", 0, false)
	backendInstance := New(backends, registry, "workers", 1, true)
	backendLB := New(backends, registry, "workers", instance.LoadBalancerIndex, true)

	cases := []struct {
		name     string
		rt       *Router
		req      *http.Request
		expected RequestType
	}{
		{"plain request on a module instance", moduleInstance,
			request(t, http.MethodGet, "/", nil), DirectModule},
		{"plain request on a backend instance", backendInstance,
			request(t, http.MethodGet, "/", nil), DirectBackend},
		{"module load balancer redirects", moduleLB,
			request(t, http.MethodGet, "/", nil), RedirectRequested},
		{"backend load balancer redirects", backendLB,
			request(t, http.MethodGet, "/", nil), RedirectRequested},
		{"backend header on a module instance redirects", moduleInstance,
			request(t, http.MethodGet, "/", map[string]string{BackendHeader: "workers"}), RedirectRequested},
		{"redirected backend marker served directly", backendInstance,
			request(t, http.MethodGet, "/", map[string]string{RedirectedBackendHeader: "workers.1"}), RedirectedBackend},
		{"redirected module marker served directly", moduleInstance,
			request(t, http.MethodGet, "/", map[string]string{RedirectedModuleHeader: "api.0"}), RedirectedModule},
		{"startup probe on manual module instance", moduleInstance,
			request(t, http.MethodGet, instance.StartPath, nil), Startup},
		{"startup probe on backend instance", backendInstance,
			request(t, http.MethodGet, instance.StartPath, nil), Startup},
		// automatic modules never receive generated start requests, so the
		// path classifies as ordinary traffic
		{"start path on automatic module", autoInstance,
			request(t, http.MethodGet, instance.StartPath, nil), DirectModule},
		{"start path on load balancer", moduleLB,
			request(t, http.MethodGet, instance.StartPath, nil), RedirectRequested},
	}

	for _, tc := range cases {
		got := tc.rt.Classify(tc.req)
		utils.AssertEqualsMsg(t, tc.expected, got, tc.name)
	}
}

func TestRequestTypeStrings(t *testing.T) {
	utils.AssertEquals(t, "DIRECT_MODULE", DirectModule.String())
	utils.AssertEquals(t, "REDIRECT_REQUESTED", RedirectRequested.String())
	utils.AssertTrue(t, strings.HasPrefix(Startup.String(), "START"))
}

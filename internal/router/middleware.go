package router

import (
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Router is the per-server filter: one Router fronts one instance (or one
// load balancer) of a module or backend.
type Router struct {
	backends *backend.Backends
	modules  *modules.Registry

	owner     string
	index     int
	isBackend bool
}

func New(backends *backend.Backends, mods *modules.Registry, owner string, index int, isBackend bool) *Router {
	return &Router{
		backends: backends,
		modules:  mods,
		owner:    owner,
		index:    index,
		isBackend: isBackend,
	}
}

// Middleware returns the echo filter implementing classification, admission
// and forwarding.
func (rt *Router) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch rt.Classify(c.Request()) {
			case Startup:
				// the handshake bypasses admission control
				return next(c)
			case RedirectedBackend, RedirectedModule:
				// the redirecting server holds the permit
				return next(c)
			case DirectModule:
				return rt.doDirectModule(c, next)
			case DirectBackend:
				return rt.doDirectBackend(c, next)
			default:
				return rt.doRedirect(c)
			}
		}
	}
}

func (rt *Router) doDirectModule(c echo.Context, next echo.HandlerFunc) error {
	ok, err := rt.modules.AcquireServingPermit(rt.owner, rt.index)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if !ok {
		return rt.admissionFailure(rt.owner, rt.index, rt.isBackend)
	}
	defer func() {
		if err := rt.modules.ReleaseServingPermit(rt.owner, rt.index); err != nil {
			log.Printf("permit release failed: %v", err)
		}
	}()
	return next(c)
}

func (rt *Router) doDirectBackend(c echo.Context, next echo.HandlerFunc) error {
	ok, err := rt.backends.AcquireServingPermit(rt.owner, rt.index, true)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if !ok {
		return rt.admissionFailure(rt.owner, rt.index, rt.isBackend)
	}
	defer func() {
		if err := rt.backends.ReleaseServingPermit(rt.owner, rt.index); err != nil {
			log.Printf("permit release failed: %v", err)
		}
	}()
	return next(c)
}

// doRedirect resolves the target (module-or-backend, instance) pair, takes a
// permit on it, forwards, and always returns the permit, even when the
// forward fails.
func (rt *Router) doRedirect(c echo.Context) error {
	r := c.Request()

	name := GetHeaderOrParameter(r, BackendHeader)
	targetIsBackend := true
	if name == "" {
		name = rt.owner
		targetIsBackend = rt.isBackend
	}
	idx := getInstanceIdFromRequest(r)

	var reserved bool
	var err error
	if idx >= 0 {
		// explicit instance: permit-check it directly
		if targetIsBackend {
			reserved, err = rt.backends.AcquireServingPermit(name, idx, false)
		} else {
			reserved, err = rt.modules.AcquireServingPermit(name, idx)
		}
	} else {
		if targetIsBackend {
			idx, reserved, err = rt.backends.GetAndReserveFreeInstance(name)
		} else {
			idx, reserved, err = rt.modules.ReserveAvailableInstance(name)
		}
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if !reserved {
		return rt.admissionFailure(name, idx, targetIsBackend)
	}

	defer func() {
		var relErr error
		if targetIsBackend {
			relErr = rt.backends.ReleaseServingPermit(name, idx)
		} else {
			relErr = rt.modules.ReleaseServingPermit(name, idx)
		}
		if relErr != nil {
			log.Printf("permit release failed: %v", relErr)
		}
	}()

	var inst *instance.Instance
	if targetIsBackend {
		inst, err = rt.backends.Instance(name, idx)
	} else {
		inst, err = rt.modules.Instance(name, idx)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	log.Printf("forwarding request %s to %s", r.URL.Path, inst)
	if targetIsBackend {
		r.Header.Set(RedirectedBackendHeader, fmt.Sprintf("%s.%d", name, idx))
	} else {
		r.Header.Set(RedirectedModuleHeader, fmt.Sprintf("%s.%d", name, idx))
	}
	return rt.forward(c, inst)
}

// admissionFailure maps a denied permit onto the HTTP taxonomy: stopped
// instances are 404, busy ones 500.
func (rt *Router) admissionFailure(name string, idx int, targetIsBackend bool) error {
	var state instance.State
	var err error
	if targetIsBackend {
		state, err = rt.backends.InstanceState(name, idx)
	} else {
		var inst *instance.Instance
		inst, err = rt.modules.Instance(name, idx)
		if err == nil {
			state = inst.State().Get()
		}
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if state == instance.StateStopped {
		return echo.NewHTTPError(http.StatusNotFound, "instance is stopped")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "instance is busy")
}

// forward proxies the request to the chosen instance through echo's proxy
// middleware with a single-target balancer.
func (rt *Router) forward(c echo.Context, inst *instance.Instance) error {
	target, err := url.Parse(fmt.Sprintf("http://%s", inst.Address()))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	balancer := middleware.NewRoundRobinBalancer([]*middleware.ProxyTarget{
		{Name: inst.String(), URL: target},
	})
	proxy := middleware.Proxy(balancer)
	handler := proxy(func(echo.Context) error { return nil })
	return handler(c)
}

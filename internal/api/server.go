// Package api exposes the main HTTP surface: the local RPC endpoint, the
// admin lifecycle operations and the status views.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/devserver-emu/devserver/internal/apiproxy"
	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/devserver-emu/devserver/internal/registration"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server wires the HTTP surface to the core components. All collaborators
// are injected; nothing is reached through package-level state.
type Server struct {
	proxy    *apiproxy.Proxy
	modules  *modules.Registry
	backends *backend.Backends

	port               int
	maxConcurrentCalls int
}

func NewServer(proxy *apiproxy.Proxy, mods *modules.Registry, backends *backend.Backends) *Server {
	return &Server{
		proxy:              proxy,
		modules:            mods,
		backends:           backends,
		port:               config.GetInt(config.API_PORT, 1323),
		maxConcurrentCalls: config.GetInt(config.MAX_CONCURRENT_API_CALLS, 10),
	}
}

// newEnvironment builds the per-request attribute bag RPC calls run under.
func (s *Server) newEnvironment() *apiproxy.Environment {
	return apiproxy.NewEnvironment("default", instance.LoadBalancerIndex, s.port, s.maxConcurrentCalls)
}

// StartAPIServer registers the routes and blocks serving the main port.
func (s *Server) StartAPIServer(e *echo.Echo) {
	e.Use(middleware.Recover())

	// Routes
	e.POST("/rpc_http", s.HandleRPC)
	e.POST("/_ah/admin/modules/:name/start", s.StartModule)
	e.POST("/_ah/admin/modules/:name/stop", s.StopModule)
	e.POST("/_ah/admin/backends/:name/start", s.StartBackend)
	e.POST("/_ah/admin/backends/:name/stop", s.StopBackend)
	e.GET("/_ah/admin/backends", s.GetBackends)
	e.GET("/status", s.GetServerStatus)

	e.HideBanner = true

	if err := e.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.Logger.Fatal("shutting down the server")
	}
}

// RegisterTerminationHandler tears everything down on SIGINT: instances are
// shut down, the etcd registration is removed and the HTTP server drains with
// a bounded context.
func (s *Server) RegisterTerminationHandler(r *registration.Registry, e *echo.Echo) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		sig := <-c
		fmt.Printf("Got %s signal. Terminating...\n", sig)

		s.backends.Shutdown()
		s.modules.Shutdown()

		if r != nil {
			// deregister from etcd; the server should be unreachable
			if err := r.Deregister(); err != nil {
				log.Printf("deregistration failed: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}

		os.Exit(0)
	}()
}

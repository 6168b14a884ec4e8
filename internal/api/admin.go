package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/labstack/echo/v4"
)

type instanceStatus struct {
	Index int    `json:"index"`
	State string `json:"state"`
	Addr  string `json:"addr"`
}

type backendStatus struct {
	Name                  string           `json:"name"`
	Instances             int              `json:"instances"`
	MaxConcurrentRequests int              `json:"maxConcurrentRequests"`
	FailFast              bool             `json:"failFast"`
	Detail                []instanceStatus `json:"detail"`
}

// StartModule handles an admin request to resume a stopped module.
func (s *Server) StartModule(c echo.Context) error {
	name := c.Param("name")
	log.Printf("admin request: start module %s", name)
	if err := s.modules.StartModule(name); err != nil {
		return lifecycleError(c, err)
	}
	return c.JSON(http.StatusOK, struct{ Started string }{name})
}

// StopModule handles an admin request to stop a serving module.
func (s *Server) StopModule(c echo.Context) error {
	name := c.Param("name")
	log.Printf("admin request: stop module %s", name)
	if err := s.modules.StopModule(name); err != nil {
		return lifecycleError(c, err)
	}
	return c.JSON(http.StatusOK, struct{ Stopped string }{name})
}

// StartBackend handles an admin request to resume a stopped backend.
func (s *Server) StartBackend(c echo.Context) error {
	name := c.Param("name")
	log.Printf("admin request: start backend %s", name)
	if err := s.backends.StartBackend(name); err != nil {
		return lifecycleError(c, err)
	}
	return c.JSON(http.StatusOK, struct{ Started string }{name})
}

// StopBackend handles an admin request to stop a serving backend.
func (s *Server) StopBackend(c echo.Context) error {
	name := c.Param("name")
	log.Printf("admin request: stop backend %s", name)
	if err := s.backends.StopBackend(name); err != nil {
		return lifecycleError(c, err)
	}
	return c.JSON(http.StatusOK, struct{ Stopped string }{name})
}

// GetBackends lists the configured backends with per-instance detail.
func (s *Server) GetBackends(c echo.Context) error {
	var list []backendStatus
	for _, name := range s.backends.Names() {
		cfg, err := s.backends.ConfigOf(name)
		if err != nil {
			continue
		}
		status := backendStatus{
			Name:                  cfg.Name,
			Instances:             cfg.Instances,
			MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			FailFast:              cfg.FailFast,
		}
		for idx := 0; idx < cfg.Instances; idx++ {
			inst, err := s.backends.Instance(name, idx)
			if err != nil {
				continue
			}
			status.Detail = append(status.Detail, instanceStatus{
				Index: idx,
				State: inst.State().Get().String(),
				Addr:  inst.Address(),
			})
		}
		list = append(list, status)
	}
	return c.JSON(http.StatusOK, list)
}

// GetServerStatus reports a coarse view of the whole server.
func (s *Server) GetServerStatus(c echo.Context) error {
	type moduleStatus struct {
		Name      string `json:"name"`
		Scaling   string `json:"scaling"`
		Instances int    `json:"instances"`
	}
	var mods []moduleStatus
	for _, name := range s.modules.Names() {
		m, err := s.modules.Module(name)
		if err != nil {
			continue
		}
		mods = append(mods, moduleStatus{
			Name:      m.Name(),
			Scaling:   string(m.Scaling()),
			Instances: m.NumInstances(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"modules":  mods,
		"backends": s.backends.Names(),
	})
}

// lifecycleError maps dynamic-configuration failures: unknown names are 404,
// a contended configuration lock is 409, a wrong-state operation 400.
func lifecycleError(c echo.Context, err error) error {
	var stateErr *modules.InvalidStateError
	switch {
	case errors.Is(err, modules.ErrUnknownModule), errors.Is(err, backend.ErrUnknownBackend):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, modules.ErrDynamicConfiguration):
		return c.String(http.StatusConflict, err.Error())
	case errors.As(err, &stateErr):
		return c.String(http.StatusBadRequest, err.Error())
	default:
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

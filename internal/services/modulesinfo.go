package services

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/devserver-emu/devserver/internal/apiproxy"
	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/devserver-emu/devserver/utils"
)

// Application error codes of the modules service.
const (
	modulesErrInvalidModule   = 1
	modulesErrInvalidInstance = 2
	modulesErrTransientError  = 3
	modulesErrUnexpectedState = 4
)

// ModulesInfo exposes the configured topology to the app: module names,
// instance counts, hostnames and dynamic start/stop.
type ModulesInfo struct {
	registry *modules.Registry
	backends *backend.Backends
}

func NewModulesInfo(registry *modules.Registry, backends *backend.Backends) *ModulesInfo {
	return &ModulesInfo{registry: registry, backends: backends}
}

func (s *ModulesInfo) Package() string { return "modules" }

func (s *ModulesInfo) Methods() map[string]apiproxy.MethodFunc {
	return map[string]apiproxy.MethodFunc{
		"GetModules":      s.getModules,
		"GetNumInstances": s.getNumInstances,
		"GetHostname":     s.getHostname,
		"StartModule":     s.startModule,
		"StopModule":      s.stopModule,
	}
}

// moduleName resolves the addressed module: explicit in the request, else the
// calling environment's own module.
func moduleName(env *apiproxy.Environment, request []byte) string {
	if name := utils.JsonExtractStringOrDefault(request, "module", ""); name != "" {
		return name
	}
	return env.Module
}

func (s *ModulesInfo) getModules(_ *apiproxy.Environment, _ []byte) ([]byte, error) {
	names := s.registry.Names()
	sort.Strings(names)
	return json.Marshal(map[string]interface{}{"modules": names})
}

func (s *ModulesInfo) getNumInstances(env *apiproxy.Environment, request []byte) ([]byte, error) {
	m, err := s.registry.Module(moduleName(env, request))
	if err != nil {
		return nil, &apiproxy.ApplicationError{
			Code:   modulesErrInvalidModule,
			Detail: err.Error(),
		}
	}
	return json.Marshal(map[string]interface{}{"instances": m.NumInstances()})
}

func (s *ModulesInfo) getHostname(env *apiproxy.Environment, request []byte) ([]byte, error) {
	name := moduleName(env, request)
	idx := utils.JsonExtractIntOrDefault(request, "instance", instance.LoadBalancerIndex)

	inst, err := s.registry.Instance(name, idx)
	if errors.Is(err, modules.ErrUnknownModule) {
		// fall back to the backend namespace
		inst, err = s.backends.Instance(name, idx)
	}
	if err != nil {
		code := modulesErrInvalidModule
		if errors.Is(err, modules.ErrUnknownInstance) || errors.Is(err, backend.ErrUnknownInstance) {
			code = modulesErrInvalidInstance
		}
		return nil, &apiproxy.ApplicationError{Code: code, Detail: err.Error()}
	}
	return json.Marshal(map[string]interface{}{"hostname": inst.Address()})
}

func (s *ModulesInfo) startModule(env *apiproxy.Environment, request []byte) ([]byte, error) {
	name := moduleName(env, request)
	if err := s.registry.StartModule(name); err != nil {
		return nil, dynamicError(err)
	}
	return json.Marshal(map[string]interface{}{"started": name})
}

func (s *ModulesInfo) stopModule(env *apiproxy.Environment, request []byte) ([]byte, error) {
	name := moduleName(env, request)
	if err := s.registry.StopModule(name); err != nil {
		return nil, dynamicError(err)
	}
	return json.Marshal(map[string]interface{}{"stopped": name})
}

// dynamicError maps lifecycle failures onto the service's error taxonomy:
// a contended configuration lock is transient, a wrong-state operation is not.
func dynamicError(err error) error {
	code := modulesErrInvalidModule
	var stateErr *modules.InvalidStateError
	switch {
	case errors.Is(err, modules.ErrDynamicConfiguration):
		code = modulesErrTransientError
	case errors.As(err, &stateErr):
		code = modulesErrUnexpectedState
	}
	return &apiproxy.ApplicationError{Code: code, Detail: err.Error()}
}

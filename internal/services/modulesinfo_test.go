package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/devserver-emu/devserver/internal/apiproxy"
	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/capability"
	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/latency"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/devserver-emu/devserver/utils"
)

func newModulesInfoProxy(t *testing.T) (*apiproxy.Proxy, *apiproxy.Environment) {
	config.Set(config.PORTS_BASE, 48100)
	config.Set(config.PORTS_MAX, 48899)
	ports := instance.NewPortAllocator()

	registry := modules.NewRegistry(ports, nil)
	utils.AssertNil(t, registry.Configure([]modules.Config{
		{Name: "default", Scaling: modules.ScalingAutomatic},
		{Name: "api", Scaling: modules.ScalingManual, Instances: 2},
	}))
	backends := backend.NewBackends(ports, nil)
	utils.AssertNil(t, backends.Configure([]backend.Config{
		{Name: "workers", Instances: 1},
	}))

	p := apiproxy.NewProxy(capability.NewEnvironment(), latency.NewSimulator(false))
	p.RegisterService(NewModulesInfo(registry, backends))
	return p, apiproxy.NewEnvironment("default", -1, 0, 0)
}

func TestGetModules(t *testing.T) {
	p, env := newModulesInfoProxy(t)

	result, err := p.MakeSyncCall(env, "modules", "GetModules", nil)
	utils.AssertNil(t, err)

	var out struct {
		Modules []string `json:"modules"`
	}
	utils.AssertNil(t, json.Unmarshal(result, &out))
	utils.AssertSliceEquals(t, []string{"api", "default"}, out.Modules)
}

func TestGetNumInstances(t *testing.T) {
	p, env := newModulesInfoProxy(t)

	result, err := p.MakeSyncCall(env, "modules", "GetNumInstances", []byte(`{"module": "api"}`))
	utils.AssertNil(t, err)
	var out struct {
		Instances int `json:"instances"`
	}
	utils.AssertNil(t, json.Unmarshal(result, &out))
	utils.AssertEquals(t, 2, out.Instances)

	// without an explicit module the caller's own module is addressed
	result, err = p.MakeSyncCall(env, "modules", "GetNumInstances", nil)
	utils.AssertNil(t, err)
	utils.AssertNil(t, json.Unmarshal(result, &out))
	utils.AssertEquals(t, 1, out.Instances)

	_, err = p.MakeSyncCall(env, "modules", "GetNumInstances", []byte(`{"module": "nope"}`))
	var appErr *apiproxy.ApplicationError
	utils.AssertTrue(t, errors.As(err, &appErr))
	utils.AssertEquals(t, modulesErrInvalidModule, appErr.Code)
}

func TestGetHostname(t *testing.T) {
	p, env := newModulesInfoProxy(t)

	result, err := p.MakeSyncCall(env, "modules", "GetHostname", []byte(`{"module": "api", "instance": 1}`))
	utils.AssertNil(t, err)
	var out struct {
		Hostname string `json:"hostname"`
	}
	utils.AssertNil(t, json.Unmarshal(result, &out))
	utils.AssertTrue(t, out.Hostname != "")

	// backend names resolve through the backend namespace
	_, err = p.MakeSyncCall(env, "modules", "GetHostname", []byte(`{"module": "workers", "instance": 0}`))
	utils.AssertNil(t, err)

	_, err = p.MakeSyncCall(env, "modules", "GetHostname", []byte(`{"module": "api", "instance": 9}`))
	var appErr *apiproxy.ApplicationError
	utils.AssertTrue(t, errors.As(err, &appErr))
	utils.AssertEquals(t, modulesErrInvalidInstance, appErr.Code)
}

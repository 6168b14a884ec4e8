package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"golang.org/x/net/context"

	"github.com/devserver-emu/devserver/internal/api"
	"github.com/devserver-emu/devserver/internal/apiproxy"
	"github.com/devserver-emu/devserver/internal/appconfig"
	"github.com/devserver-emu/devserver/internal/backend"
	"github.com/devserver-emu/devserver/internal/capability"
	"github.com/devserver-emu/devserver/internal/config"
	"github.com/devserver-emu/devserver/internal/instance"
	"github.com/devserver-emu/devserver/internal/latency"
	"github.com/devserver-emu/devserver/internal/metrics"
	"github.com/devserver-emu/devserver/internal/modules"
	"github.com/devserver-emu/devserver/internal/registration"
	"github.com/devserver-emu/devserver/internal/router"
	devruntime "github.com/devserver-emu/devserver/internal/runtime"
	"github.com/devserver-emu/devserver/internal/services"
	"github.com/devserver-emu/devserver/internal/telemetry"
	"github.com/devserver-emu/devserver/utils"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	configFileName := ""
	if len(os.Args) > 1 {
		configFileName = os.Args[1]
	}
	config.ReadConfiguration(configFileName)

	caps, err := capability.NewEnvironmentFromConfig()
	if err != nil {
		log.Fatal(err)
	}
	sim := latency.NewSimulator(config.GetBool(config.SIMULATE_LATENCIES, false))
	proxy := apiproxy.NewProxy(caps, sim)

	factory := devruntime.NewFactoryFromConfig()
	ports := instance.NewPortAllocator()
	backends := backend.NewBackends(ports, factory)
	registry := modules.NewRegistry(ports, factory)

	doc, err := appconfig.Load(config.GetString(config.APP_CONFIG_FILE, "app.json"))
	if err != nil {
		log.Fatal(err)
	}
	if err := registry.Configure(doc.Modules); err != nil {
		log.Fatal(err)
	}
	if err := backends.Configure(doc.Backends); err != nil {
		log.Fatal(err)
	}

	// local API services behind the dispatch proxy
	proxy.RegisterFactory("memcache", func() apiproxy.Service { return services.NewMemcache() })
	proxy.RegisterService(services.NewModulesInfo(registry, backends))

	// register on etcd, making the instance address map visible to other tools
	var etcdRegistry *registration.Registry
	if config.GetBool(config.REGISTRY_ENABLED, false) {
		etcdRegistry = &registration.Registry{Area: config.GetString(config.REGISTRY_AREA, "local")}
		ip, err := utils.GetOutboundIp()
		if err != nil {
			log.Fatal(err)
		}
		url := fmt.Sprintf("http://%s:%d", ip.String(), config.GetInt(config.API_PORT, 1323))
		if err := etcdRegistry.RegisterToEtcd(url); err != nil {
			log.Fatal(err)
		}
		backends.OnMappingChange(etcdRegistry.PublishAddresses)
	}

	go metrics.Init()

	if config.GetBool(config.TRACING_ENABLED, false) {
		shutdown, err := telemetry.SetupOTelSDK(context.Background())
		if err != nil {
			log.Fatal(err)
		}
		defer shutdown(context.Background())
	}

	// emulated instance servers answer start probes and app traffic when no
	// container runtime backs the instances
	if factory == nil {
		startInstanceServers(backends, registry)
	}

	// instances start sleeping (or running, per policy) before traffic arrives
	registry.StartupAll()
	if err := backends.StartupAll(); err != nil {
		log.Fatal(err)
	}

	e := echo.New()

	server := api.NewServer(proxy, registry, backends)

	// Register a signal handler to cleanup things on termination
	server.RegisterTerminationHandler(etcdRegistry, e)

	server.StartAPIServer(e)
}

// startInstanceServers spawns one echo server per instance slot, fronted by
// the admission-control router. The terminal handler stands in for the app.
func startInstanceServers(backends *backend.Backends, registry *modules.Registry) {
	for _, name := range backends.Names() {
		cfg, err := backends.ConfigOf(name)
		if err != nil {
			continue
		}
		for idx := instance.LoadBalancerIndex; idx < cfg.Instances; idx++ {
			inst, err := backends.Instance(name, idx)
			if err != nil {
				continue
			}
			go serveInstance(inst, router.New(backends, registry, name, idx, true))
		}
	}
	for _, name := range registry.Names() {
		m, err := registry.Module(name)
		if err != nil {
			continue
		}
		for idx := instance.LoadBalancerIndex; idx < m.NumInstances(); idx++ {
			inst, err := registry.Instance(name, idx)
			if err != nil {
				// automatic modules have no load-balancer slot
				continue
			}
			go serveInstance(inst, router.New(backends, registry, name, idx, false))
		}
	}
}

func serveInstance(inst *instance.Instance, rt *router.Router) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(rt.Middleware())
	e.Any("/*", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"served-by": inst.String(),
			"path":      c.Request().URL.Path,
		})
	})
	if err := e.Start(fmt.Sprintf(":%d", inst.Port())); err != nil && err != http.ErrServerClosed {
		log.Printf("instance server %s failed: %v", inst, err)
	}
}

package config

// Hostname or address the emulated instances bind to
const BIND_ADDRESS = "server.address"

// Port of the main (default module) HTTP server
const API_PORT = "api.port"

// Path of the JSON document declaring modules and backends
const APP_CONFIG_FILE = "app.config"

// Container runtime backing the instances ("docker", "podman" or "none")
const RUNTIME_FACTORY = "runtime.factory"

// Application image used when instances run in containers
const RUNTIME_IMAGE = "runtime.image"

// Socket used to reach the podman service
const PODMAN_SOCKET = "unix://run/podman/podman.sock"

// Forces the app image to be pulled the first time it is used,
// even if it is locally available (true/false).
const FACTORY_REFRESH_IMAGES = "factory.images.refresh"

// First port assigned to dynamically allocated instances
const PORTS_BASE = "ports.base"

// Last port assignable to instances
const PORTS_MAX = "ports.max"

// Prefix pinning a specific instance to a fixed port:
// devserver.<backend>.port or devserver.<backend>.<instance>.port
const PORT_OVERRIDE_PREFIX = "devserver"

// Prefix of capability overrides:
// capability.status.<package>.<capability> = ENABLED|DISABLED|...
const CAPABILITY_PREFIX = "capability.status"

// Injects production-like latency into API dispatches (true/false)
const SIMULATE_LATENCIES = "api.simulate.latencies"

// Global cap on concurrent API calls per request environment
const MAX_CONCURRENT_API_CALLS = "api.calls.max"

// Etcd server hostname for address-map publication
const ETCD_ADDRESS = "etcd.address"

// Enables publication of the instance address map on etcd (true/false)
const REGISTRY_ENABLED = "registry.enabled"

// Logical area under which the server registers itself
const REGISTRY_AREA = "registry.area"

// Exposes prometheus metrics (true/false)
const METRICS_ENABLED = "metrics.enabled"

// Enables opentelemetry tracing of API dispatches (true/false)
const TRACING_ENABLED = "tracing.enabled"

// Size of the memcache stub, in items
const MEMCACHE_SIZE = "memcache.size"

// Expiration time for memcache stub items (seconds)
const MEMCACHE_ITEM_EXPIRATION = "memcache.expiration"

// Cleanup interval of the memcache stub janitor (seconds)
const MEMCACHE_CLEANUP = "memcache.cleanup"

package instance

import (
	"fmt"

	"github.com/devserver-emu/devserver/internal/permits"
)

// LoadBalancerIndex is the sentinel index of the synthetic load-balancing
// instance that fans requests out to the numbered ones.
const LoadBalancerIndex = -1

// Instance is one simulated server process within a module or backend.
// Mutable fields (state, port, queue) are guarded by the instance's own
// state holder and semaphore, never by a global lock.
type Instance struct {
	Owner         string // module or backend name
	Index         int    // 0-based, or LoadBalancerIndex
	Host          string
	MaxConcurrent int

	state   *StateHolder
	permits *permits.Semaphore

	port      int
	runtimeID string // container backing this instance, if any

	// ShutdownHook runs before the instance is torn down. Failures are
	// logged and do not abort the shutdown sequence.
	ShutdownHook func() error
}

func New(owner string, index int, maxConcurrent int) *Instance {
	return &Instance{
		Owner:         owner,
		Index:         index,
		Host:          "localhost",
		MaxConcurrent: maxConcurrent,
		state:         NewStateHolder(owner, index),
		permits:       permits.NewSemaphore(),
	}
}

func (i *Instance) State() *StateHolder {
	return i.state
}

func (i *Instance) Permits() *permits.Semaphore {
	return i.permits
}

func (i *Instance) IsLoadBalancer() bool {
	return i.Index == LoadBalancerIndex
}

func (i *Instance) Port() int {
	return i.port
}

func (i *Instance) SetPort(port int) {
	i.port = port
}

func (i *Instance) RuntimeID() string {
	return i.runtimeID
}

func (i *Instance) SetRuntimeID(id string) {
	i.runtimeID = id
}

// Address returns the host:port string routable to this instance.
func (i *Instance) Address() string {
	return fmt.Sprintf("%s:%d", i.Host, i.port)
}

// MappingKey is the DNS-prefix style key under which this instance is
// published, e.g. "2.mybackend". The load balancer is published under the
// bare owner name.
func (i *Instance) MappingKey() string {
	if i.IsLoadBalancer() {
		return i.Owner
	}
	return fmt.Sprintf("%d.%s", i.Index, i.Owner)
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s.%d", i.Owner, i.Index)
}

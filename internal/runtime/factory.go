// Package runtime backs simulated instances with real containers. Exactly one
// container backs each instance; tearing an instance down and rebuilding it
// flushes in-process app state the way a production cold redeploy would.
package runtime

import (
	"fmt"
	"io"

	"github.com/devserver-emu/devserver/internal/config"
)

// A Factory creates and manages instance containers.
type Factory interface {
	Create(image string, opts *InstanceOptions) (ContainerID, error)
	Start(ContainerID) error
	Destroy(ContainerID) error
	HasImage(string) bool
	PullImage(string) error
	GetIPAddress(ContainerID) (string, error)
	GetLog(ContainerID) (string, error)
}

// InstanceOptions describes the container of one instance. The app server
// inside learns its identity and listening port from the environment.
type InstanceOptions struct {
	Owner    string // module or backend name
	Index    int
	Port     int
	Env      []string
	MemoryMB int64
}

type ContainerID = string

// identityEnv is the environment handed to the app so it can discover its own
// module/instance identity (also installed for shutdown hooks).
func (o *InstanceOptions) identityEnv() []string {
	env := append([]string{}, o.Env...)
	env = append(env,
		"DEVSERVER_MODULE="+o.Owner,
		fmt.Sprintf("DEVSERVER_INSTANCE=%d", o.Index),
		fmt.Sprintf("PORT=%d", o.Port),
	)
	return env
}

// cached pulled-image markers, used with FACTORY_REFRESH_IMAGES
var refreshedImages = make(map[string]bool)

// NewFactoryFromConfig picks the configured runtime. "none" means instances
// are externally managed (tests, already-running local processes).
func NewFactoryFromConfig() Factory {
	switch config.GetString(config.RUNTIME_FACTORY, "none") {
	case "docker":
		return InitDockerFactory()
	case "podman":
		return InitPodmanFactory()
	default:
		return nil
	}
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}

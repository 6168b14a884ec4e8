package runtime

import (
	"context"
	"fmt"
	"log"
	"os/exec"

	"github.com/containers/podman/v4/libpod/define"
	"github.com/containers/podman/v4/pkg/bindings"
	"github.com/containers/podman/v4/pkg/bindings/containers"
	"github.com/containers/podman/v4/pkg/bindings/images"
	"github.com/containers/podman/v4/pkg/specgen"
	"github.com/devserver-emu/devserver/internal/config"
	nettypes "github.com/containers/common/libnetwork/types"
)

type PodmanFactory struct {
	ctx context.Context
}

func InitPodmanFactory() *PodmanFactory {
	ctx, err := bindings.NewConnection(context.Background(), config.PODMAN_SOCKET)
	if err != nil {
		panic(err)
	}
	return &PodmanFactory{ctx}
}

func (f *PodmanFactory) Create(image string, opts *InstanceOptions) (ContainerID, error) {
	if !f.HasImage(image) {
		log.Printf("Pulling image: %s", image)
		if err := f.PullImage(image); err != nil {
			log.Printf("Could not pull image: %s", image)
			// a stale copy of the image could still be available locally
		}
	}

	s := specgen.NewSpecGenerator(image, false)
	s.Image = image
	s.EnvMerge = opts.identityEnv()
	s.Terminal = false
	s.PortMappings = []nettypes.PortMapping{{
		HostIP:        "127.0.0.1",
		HostPort:      uint16(opts.Port),
		ContainerPort: 8080,
	}}
	r, err := containers.CreateWithSpec(f.ctx, s, new(containers.CreateOptions))
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (f *PodmanFactory) PullImage(image string) error {
	_, err := images.Pull(f.ctx, image, new(images.PullOptions))
	if err == nil {
		refreshedImages[image] = true
	}
	return err
}

func (f *PodmanFactory) Start(contID ContainerID) error {
	err := containers.Start(f.ctx, contID, nil)
	if err != nil {
		log.Printf("The container %s could not be started: %v", contID, err)
		return err
	}
	running := define.ContainerStateRunning
	_, err = containers.Wait(f.ctx, contID, new(containers.WaitOptions).WithCondition([]define.ContainerStatus{running}))
	return err
}

func (f *PodmanFactory) Destroy(contID ContainerID) error {
	// force set to true causes running container to be killed (and then removed)
	err := containers.Stop(f.ctx, contID, new(containers.StopOptions).WithTimeout(0))
	if err != nil {
		log.Printf("The container %s could not be stopped: %v", contID, err)
		return err
	}
	_, err = containers.Remove(f.ctx, contID, new(containers.RemoveOptions))
	return err
}

func (f *PodmanFactory) HasImage(image string) bool {
	cmd := fmt.Sprintf("podman images %s | grep -vF REPOSITORY", image)
	_, err := exec.Command("bash", "-c", cmd).Output()
	if err != nil {
		return false
	}

	// We have the image, but we may need to refresh it
	if config.GetBool(config.FACTORY_REFRESH_IMAGES, false) {
		if refreshed, ok := refreshedImages[image]; !ok || !refreshed {
			return false
		}
	}
	return true
}

func (f *PodmanFactory) GetIPAddress(contID ContainerID) (string, error) {
	contJson, err := containers.Inspect(f.ctx, contID, new(containers.InspectOptions))
	if err != nil {
		return "", err
	}
	return contJson.NetworkSettings.IPAddress, nil
}

func (f *PodmanFactory) GetLog(contID ContainerID) (string, error) {
	out, err := exec.Command("podman", "logs", contID).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("can't get the logs: %v", err)
	}
	return string(out), nil
}

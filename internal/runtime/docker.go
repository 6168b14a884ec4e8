package runtime

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/devserver-emu/devserver/internal/config"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

type DockerFactory struct {
	cli *client.Client
	ctx context.Context
}

func InitDockerFactory() *DockerFactory {
	ctx := context.Background()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		panic(err)
	}
	return &DockerFactory{cli, ctx}
}

func (f *DockerFactory) Create(image string, opts *InstanceOptions) (ContainerID, error) {
	if !f.HasImage(image) {
		log.Printf("Pulling image: %s", image)
		if err := f.PullImage(image); err != nil {
			log.Printf("Could not pull image: %s", image)
			// a stale copy of the image could still be available locally
		}
	}

	contResources := container.Resources{}
	if opts.MemoryMB > 0 {
		contResources.Memory = opts.MemoryMB * 1048576 // convert to bytes
	}

	appPort := nat.Port("8080/tcp")
	hostBinding := nat.PortBinding{
		HostIP:   "127.0.0.1",
		HostPort: fmt.Sprintf("%d", opts.Port),
	}

	resp, err := f.cli.ContainerCreate(f.ctx, &container.Config{
		Image:        image,
		Env:          opts.identityEnv(),
		ExposedPorts: nat.PortSet{appPort: struct{}{}},
		Tty:          false,
	}, &container.HostConfig{
		Resources:    contResources,
		PortBindings: nat.PortMap{appPort: []nat.PortBinding{hostBinding}},
	}, nil, nil, fmt.Sprintf("devserver-%s-%d", opts.Owner, opts.Index))
	if err != nil {
		return "", err
	}

	return resp.ID, nil
}

func (f *DockerFactory) PullImage(image string) error {
	pullResp, err := f.cli.ImagePull(f.ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer pullResp.Close()
	// necessary to wait for the image to be pulled
	drain(pullResp)
	refreshedImages[image] = true
	return nil
}

func (f *DockerFactory) Start(contID ContainerID) error {
	return f.cli.ContainerStart(f.ctx, contID, types.ContainerStartOptions{})
}

func (f *DockerFactory) Destroy(contID ContainerID) error {
	// force set to true causes running container to be killed (and then
	// removed)
	return f.cli.ContainerRemove(f.ctx, contID, types.ContainerRemoveOptions{Force: true})
}

var imageListMutex = sync.Mutex{}

func (f *DockerFactory) HasImage(image string) bool {
	imageListMutex.Lock()
	list, err := f.cli.ImageList(context.TODO(), types.ImageListOptions{
		All:     false,
		Filters: filters.Args{},
	})
	imageListMutex.Unlock()
	if err != nil {
		log.Printf("image list error: %v", err)
		return false
	}
	for _, summary := range list {
		if len(summary.RepoTags) > 0 && strings.HasPrefix(summary.RepoTags[0], image) {
			// We have the image, but we may need to refresh it
			if config.GetBool(config.FACTORY_REFRESH_IMAGES, false) {
				if refreshed, ok := refreshedImages[image]; !ok || !refreshed {
					return false
				}
			}
			return true
		}
	}
	return false
}

func (f *DockerFactory) GetIPAddress(contID ContainerID) (string, error) {
	contJson, err := f.cli.ContainerInspect(f.ctx, contID)
	if err != nil {
		return "", err
	}
	return contJson.NetworkSettings.IPAddress, nil
}

func (f *DockerFactory) GetLog(contID ContainerID) (string, error) {
	logsReader, err := f.cli.ContainerLogs(f.ctx, contID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("can't get the logs: %v", err)
	}
	defer logsReader.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := logsReader.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String(), nil
}

package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"

	"github.com/cuemby/certdeploy/pkg/errs"
)

// DockerRuntime wraps the Docker Engine API for the container and
// orchestrator_service update drivers.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime connects to the Docker daemon at url. An empty url uses
// the client library's own environment-based default (DOCKER_HOST, or the
// platform socket).
func NewDockerRuntime(url string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if url != "" {
		opts = append(opts, client.WithHost(url))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfigError, "failed constructing docker client", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Close releases the underlying HTTP client's resources.
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// RestartContainers restarts every container, running or stopped, matching
// filterArgs (e.g. {"name": "^nginx$"} or an arbitrary label filter), up to
// timeout for each. An empty match set is ContainerNotFound.
func (r *DockerRuntime) RestartContainers(ctx context.Context, filterArgs map[string]string, timeout time.Duration) error {
	args := filters.NewArgs()
	for key, value := range filterArgs {
		args.Add(key, value)
	}

	containers, err := r.client.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: args})
	if err != nil {
		return errs.Wrap(errs.KindContainerNotFound, "failed listing containers", err)
	}
	if len(containers) == 0 {
		return errs.New(errs.KindContainerNotFound, fmt.Sprintf("no container matched %v", filterArgs))
	}

	for _, c := range containers {
		if err := r.client.ContainerRestart(ctx, c.ID, &timeout); err != nil {
			return errs.Wrap(errs.KindContainerNotFound, fmt.Sprintf("failed restarting container %s", c.ID), err)
		}
	}
	return nil
}

// ForceUpdateService locates a Swarm service and rolls it by bumping the
// task template's force-update counter, without changing the image. name is
// resolved by an exact service-get first; filterArgs is only consulted when
// name is empty, since label-filtered service lookups are unreliable
// against Swarm's regex matching.
func (r *DockerRuntime) ForceUpdateService(ctx context.Context, name string, filterArgs map[string]string) error {
	var svc swarm.Service

	if name != "" {
		inspected, _, err := r.client.ServiceInspectWithRaw(ctx, name, types.ServiceInspectOptions{})
		if err != nil {
			return errs.Wrap(errs.KindServiceNotFound, fmt.Sprintf("service %s not found", name), err)
		}
		svc = inspected
	} else {
		args := filters.NewArgs()
		for key, value := range filterArgs {
			args.Add(key, value)
		}
		services, err := r.client.ServiceList(ctx, types.ServiceListOptions{Filters: args})
		if err != nil {
			return errs.Wrap(errs.KindServiceNotFound, "failed listing services", err)
		}
		if len(services) == 0 {
			return errs.New(errs.KindServiceNotFound, fmt.Sprintf("no service matched %v", filterArgs))
		}
		svc = services[0]
	}

	spec := svc.Spec
	spec.TaskTemplate.ForceUpdate++

	_, err := r.client.ServiceUpdate(ctx, svc.ID, svc.Version, spec, types.ServiceUpdateOptions{})
	if err != nil {
		return errs.Wrap(errs.KindServiceNotFound, fmt.Sprintf("failed updating service %s", svc.ID), err)
	}
	return nil
}

/*
Package runtime wraps the Docker Engine API client for certdeploy's
container and orchestrator_service update drivers (C9).

# Architecture

	┌──────────────── DOCKER RUNTIME ────────────────┐
	│  DockerRuntime                                  │
	│   - client: github.com/docker/docker/client     │
	│   - url:    docker_url, or the client's default │
	└───────────────────┬─────────────────────────────┘
	                    │
	   ┌────────────────┴────────────────┐
	   │                                  │
	RestartContainers               ForceUpdateService
	(match by name or label           (Swarm service, resolved
	 filters, restart each)            by exact name first)

Container not found and service not found are distinct, typed failures
(ContainerNotFound, ServiceNotFound) rather than a silent no-op, so a
misconfigured update_services entry is never mistaken for success.
*/
package runtime

package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/config"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

// containerInfo is the subset of a container's inspect result the "docker"
// health-check kind needs.
type containerInfo struct {
	State    string // created, running, paused, restarting, removing, exited, dead
	Health   string
	ExitCode int
}

// dockerClient wraps the Docker SDK client, trimmed to the inspect/restart
// pair the Service Supervisor's "docker" kind needs.
type dockerClient struct {
	cli    *client.Client
	logger *logger.Logger
}

func newDockerClient(cfg config.DockerConfig, log *logger.Logger) (*dockerClient, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &dockerClient{cli: cli, logger: log}, nil
}

func (d *dockerClient) Close() error {
	return d.cli.Close()
}

func (d *dockerClient) inspect(ctx context.Context, containerName string) (*containerInfo, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", containerName, err)
	}
	info := &containerInfo{State: inspect.State.Status, ExitCode: inspect.State.ExitCode}
	if inspect.State.Health != nil {
		info.Health = inspect.State.Health.Status
	}
	return info, nil
}

func (d *dockerClient) restart(ctx context.Context, containerName string, timeout time.Duration) error {
	d.logger.Info("supervisor: restarting container", zap.String("container", containerName))
	timeoutSeconds := int(timeout.Seconds())
	err := d.cli.ContainerRestart(ctx, containerName, container.StopOptions{Timeout: &timeoutSeconds})
	if err != nil {
		return fmt.Errorf("restart container %s: %w", containerName, err)
	}
	return nil
}

package channels

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// mcpContainerPrefix names the per-instance WhatsApp MCP containers.
const mcpContainerPrefix = "ligo-wa-"

// DockerRestarter restarts the MCP container behind a WhatsApp
// instance when its watcher stops hearing from it.
type DockerRestarter struct {
	cli *client.Client
	log *slog.Logger
}

// NewDockerRestarter connects to the local docker daemon.
func NewDockerRestarter(log *slog.Logger) (*DockerRestarter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &DockerRestarter{cli: cli, log: log}, nil
}

// Restart restarts the container named after the instance, waiting up
// to 15s for a clean stop before the kill.
func (d *DockerRestarter) Restart(ctx context.Context, instanceID uuid.UUID) error {
	name := mcpContainerPrefix + instanceID.String()
	timeout := 15
	d.log.Info("restarting mcp container", "container", name)
	if err := d.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("restart %s: %w", name, err)
	}
	// Give the transport a moment to resync before the next poll.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}
	return nil
}

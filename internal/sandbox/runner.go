package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/config"
)

// ExecOutput is one raw container execution result.
type ExecOutput struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	OOMKilled bool
}

// Runner executes a rendered command inside the tenant's container.
type Runner interface {
	Exec(ctx context.Context, tenantID uuid.UUID, command, workDir string, timeout time.Duration) (*ExecOutput, error)
}

// oomExitCode is what the kernel's OOM killer leaves behind.
const oomExitCode = 137

// DockerRunner keeps one warm container per tenant and execs commands
// in it. Containers are created lazily and live until the process
// stops them.
type DockerRunner struct {
	cli *client.Client
	cfg config.SandboxConfig
	log *slog.Logger

	mu         sync.Mutex
	containers map[uuid.UUID]string // tenant → container id
}

func NewDockerRunner(cfg config.SandboxConfig, log *slog.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return &DockerRunner{
		cli:        cli,
		cfg:        cfg,
		log:        log.With("component", "sandbox"),
		containers: make(map[uuid.UUID]string),
	}, nil
}

func (r *DockerRunner) Exec(ctx context.Context, tenantID uuid.UUID, command, workDir string, timeout time.Duration) (*ExecOutput, error) {
	id, err := r.ensureContainer(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execID, err := r.cli.ContainerExecCreate(execCtx, id, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}
	attach, err := r.cli.ContainerExecAttach(execCtx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr strings.Builder
	_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
	if execCtx.Err() == context.DeadlineExceeded {
		return &ExecOutput{
			Stdout: stdout.String(), Stderr: stderr.String(),
			ExitCode: -1, TimedOut: true,
		}, nil
	}
	if copyErr != nil {
		return nil, fmt.Errorf("read exec output: %w", copyErr)
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}
	return &ExecOutput{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  inspect.ExitCode,
		OOMKilled: inspect.ExitCode == oomExitCode,
	}, nil
}

// ensureContainer returns the tenant's warm container, creating and
// starting it on first use.
func (r *DockerRunner) ensureContainer(ctx context.Context, tenantID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.containers[tenantID]; ok {
		if r.ensureRunning(ctx, id) == nil {
			return id, nil
		}
		delete(r.containers, tenantID)
	}

	name := "ligo-sandbox-" + tenantID.String()
	hostWorkspace, err := filepath.Abs(filepath.Join(r.cfg.WorkspaceDir, tenantID.String()))
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      r.cfg.Image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: containerWorkspace,
			Labels:     map[string]string{"ligo.tenant": tenantID.String()},
		},
		&container.HostConfig{
			Binds: []string{hostWorkspace + ":" + containerWorkspace},
			Resources: container.Resources{
				Memory: int64(r.cfg.MemoryMB) * 1024 * 1024,
			},
		},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create sandbox container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start sandbox container: %w", err)
	}
	r.log.Info("sandbox container started", "tenant", tenantID, "container", created.ID[:12])
	r.containers[tenantID] = created.ID
	return created.ID, nil
}

func (r *DockerRunner) ensureRunning(ctx context.Context, id string) error {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return err
	}
	if inspect.State != nil && inspect.State.Running {
		return nil
	}
	return r.cli.ContainerStart(ctx, id, container.StartOptions{})
}

// Restart force-recreates a tenant's container (MCP-style recovery).
func (r *DockerRunner) Restart(ctx context.Context, tenantID uuid.UUID) error {
	r.mu.Lock()
	id, ok := r.containers[tenantID]
	delete(r.containers, tenantID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	timeout := 10
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		r.log.Warn("sandbox stop failed", "container", id[:12], "error", err)
	}
	return r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// Close stops the docker client. Containers stay warm across restarts.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

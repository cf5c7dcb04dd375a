package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/store"
)

const (
	defaultTimeoutSec = 60
	defaultOutputCap  = 5000
)

// ExecRequest is one tool-command invocation.
type ExecRequest struct {
	TenantID   uuid.UUID
	Tool       *store.SandboxedToolData
	Command    *store.SandboxedToolCommand
	Params     map[string]any
	AgentRunID *uuid.UUID
	// Recipient and Notify deliver long-running results as follow-up
	// messages on the originating channel.
	Recipient string
	Notify    bus.SendFunc
	// OnComplete receives the final output of a long-running command so
	// the caller can record it after the ack already went out.
	OnComplete func(executionID uuid.UUID, output string, failed bool)
}

// ExecResult is what the router sends back to the user.
type ExecResult struct {
	Output      string
	ExecutionID uuid.UUID
	// Background marks long-running commands: Output is only the ack,
	// the real result arrives via Notify.
	Background bool
	Failed     bool
}

// Executor renders, audits and runs sandboxed tool commands.
type Executor struct {
	cfg    config.SandboxConfig
	runner Runner
	tools  store.ToolStore
	log    *slog.Logger
}

func NewExecutor(cfg config.SandboxConfig, runner Runner, tools store.ToolStore, log *slog.Logger) *Executor {
	return &Executor{cfg: cfg, runner: runner, tools: tools, log: log.With("component", "sandbox")}
}

// Execute runs one command. Long-running commands return an immediate
// ack and deliver their result through req.Notify when done.
func (e *Executor) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	rendered, err := Render(req.Command, req.Params)
	if err != nil {
		return nil, err
	}
	workDir, err := ResolveWorkDir(req.Command.WorkDir)
	if err != nil {
		return nil, err
	}

	exec := &store.ToolExecutionData{
		ID:         uuid.Must(uuid.NewV7()),
		TenantID:   req.TenantID,
		ToolID:     req.Tool.ID,
		CommandID:  req.Command.ID,
		AgentRunID: req.AgentRunID,
		Rendered:   rendered,
		Status:     store.ExecPending,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.tools.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution row: %w", err)
	}

	if req.Command.IsLongRunning && req.Notify != nil {
		exec.Status = store.ExecRunning
		go e.runBackground(exec, req, rendered, workDir)
		return &ExecResult{
			ExecutionID: exec.ID,
			Background:  true,
			Output: fmt.Sprintf("⏳ Starting %s.%s, I will send the result when it finishes.",
				req.Tool.Name, req.Command.Name),
		}, nil
	}

	output, failed := e.run(ctx, exec, req, rendered, workDir)
	return &ExecResult{Output: output, ExecutionID: exec.ID, Failed: failed}, nil
}

// runBackground executes a long-running command detached from the
// inbound request and pushes the result through the channel callback.
func (e *Executor) runBackground(exec *store.ToolExecutionData, req ExecRequest, rendered, workDir string) {
	ctx := context.Background()
	output, failed := e.run(ctx, exec, req, rendered, workDir)
	if req.OnComplete != nil {
		req.OnComplete(exec.ID, output, failed)
	}
	text := fmt.Sprintf("Result of %s.%s:\n%s", req.Tool.Name, req.Command.Name, output)
	if err := req.Notify(req.Recipient, text, nil); err != nil {
		e.log.Warn("long-running result delivery failed",
			"execution", exec.ID, "recipient", req.Recipient, "error", err)
	}
}

// run performs the container exec and finalizes the audit row. The
// returned text is always user-presentable.
func (e *Executor) run(ctx context.Context, exec *store.ToolExecutionData, req ExecRequest, rendered, workDir string) (string, bool) {
	timeout := time.Duration(req.Command.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeoutSec * time.Second
	}

	out, err := e.runner.Exec(ctx, req.TenantID, rendered, workDir, timeout)
	now := time.Now().UTC()
	exec.FinishedAt = &now

	var text string
	failed := false
	switch {
	case err != nil:
		exec.Status = store.ExecFailed
		exec.Stderr = err.Error()
		exec.ExitCode = -1
		text = "Tool execution failed: " + err.Error()
		failed = true
	case out.TimedOut:
		exec.Status = store.ExecFailed
		exec.ExitCode = -1
		exec.Stdout, exec.Stderr = out.Stdout, out.Stderr
		text = fmt.Sprintf("Command timed out after %ds. Try reducing scope.", int(timeout.Seconds()))
		failed = true
	case out.OOMKilled:
		exec.Status = store.ExecFailed
		exec.ExitCode = out.ExitCode
		exec.Stdout, exec.Stderr = out.Stdout, out.Stderr
		text = "Command ran out of memory. Try reducing scope (smaller target set or range)."
		failed = true
	case out.ExitCode != 0:
		exec.Status = store.ExecFailed
		exec.ExitCode = out.ExitCode
		exec.Stdout, exec.Stderr = out.Stdout, out.Stderr
		text = out.Stdout
		if out.Stderr != "" {
			text += "\n" + out.Stderr
		}
		text = e.capOutput(text)
		failed = true
	default:
		exec.Status = store.ExecCompleted
		exec.ExitCode = 0
		exec.Stdout, exec.Stderr = out.Stdout, out.Stderr
		text = e.capOutput(out.Stdout)
		if text == "" {
			text = "(no output)"
		}
	}

	if ferr := e.tools.FinishExecution(ctx, exec); ferr != nil {
		e.log.Warn("finish execution row failed", "execution", exec.ID, "error", ferr)
	}
	return text, failed
}

// RunShell executes a raw command in the tenant container for the
// shell skill. No tool row backs it, so there is no audit record; the
// output cap still applies.
func (e *Executor) RunShell(ctx context.Context, tenantID uuid.UUID, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultTimeoutSec * time.Second
	}
	out, err := e.runner.Exec(ctx, tenantID, command, "", timeout)
	if err != nil {
		return "", err
	}
	switch {
	case out.TimedOut:
		return "", fmt.Errorf("command timed out after %ds", int(timeout.Seconds()))
	case out.OOMKilled:
		return "", fmt.Errorf("command ran out of memory")
	case out.ExitCode != 0:
		text := out.Stdout
		if out.Stderr != "" {
			text += "\n" + out.Stderr
		}
		return e.capOutput(text), fmt.Errorf("command exited with status %d", out.ExitCode)
	}
	return e.capOutput(out.Stdout), nil
}

// capOutput truncates past the configured limit with a note.
func (e *Executor) capOutput(s string) string {
	limit := e.cfg.OutputCap
	if limit <= 0 {
		limit = defaultOutputCap
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n[output truncated at %d characters]", limit)
}

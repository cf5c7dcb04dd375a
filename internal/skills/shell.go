package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/providers"
)

// ShellExecFn runs one command inside the tenant sandbox and returns
// its combined output.
type ShellExecFn func(ctx context.Context, tenantID uuid.UUID, command string) (string, error)

// Shell exposes a raw command tool backed by the tenant's sandbox
// container. The OS-aware usage prompt is part of the system-prompt
// assembly, not of this skill, so PromptBlock stays empty.
type Shell struct {
	exec ShellExecFn
}

func NewShell(exec ShellExecFn) *Shell { return &Shell{exec: exec} }

func (s *Shell) Name() string { return "shell" }

func (s *Shell) Tools() []providers.ToolDefinition {
	return []providers.ToolDefinition{{
		Name:        "shell",
		Description: "Run a shell command in the sandboxed workspace and return its output.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The command line to execute.",
				},
			},
			"required": []string{"command"},
		},
	}}
}

func (s *Shell) PromptBlock() string { return "" }

func (s *Shell) ExecuteTool(ctx context.Context, req *Request, name string, params map[string]any) (*ToolResult, error) {
	command := strings.TrimSpace(paramString(params, "command"))
	if command == "" {
		command = strings.TrimSpace(paramString(params, "cmd"))
	}
	if command == "" {
		return &ToolResult{Kind: KindError, Output: "shell: empty command"}, nil
	}
	out, err := s.exec(ctx, req.TenantID, command)
	if err != nil {
		return &ToolResult{Kind: KindError, Output: fmt.Sprintf("shell: %v", err)}, nil
	}
	if out == "" {
		out = "(no output)"
	}
	return &ToolResult{Kind: KindText, Output: out}, nil
}

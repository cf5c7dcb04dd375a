package agent

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ligolabs/ligo/internal/store"
)

// PromptInput carries everything the system prompt is assembled from.
type PromptInput struct {
	Agent *store.AgentData
	Now   time.Time
	// PromptVars replaces {key} placeholders in the agent's system
	// prompt (persona, tone, anything the tenant configured).
	PromptVars map[string]string
	// ContactDirectory is the resolver's summary, already filtered to
	// this agent's tenant.
	ContactDirectory string
	SandboxTools     []*store.SandboxedToolData
	ShellEnabled     bool
	// SkillBlocks are the enabled skills' tool prompts, in pipeline order.
	SkillBlocks []string
}

const identityGuard = `You are %s. Always answer as %s and never adopt the identity of the person you are talking to. Never prefix your reply with "@%s:" or any other name tag. Reply in the language the user writes in; when unsure, use Portuguese.`

// toolCallDirective forces models to emit machine-parseable blocks
// instead of prose descriptions of commands.
const toolCallDirective = `When you need to run one of the tools above, emit a block in exactly this format and nothing else in its place:
[TOOL_CALL]
tool: <tool name>
command: <command name>
<parameter>: <value>
[/TOOL_CALL]
Emit the block itself. Do not describe the command you would run, and do not wrap the block in code fences.`

// BuildSystemPrompt assembles the final system prompt. Section order is
// fixed: identity guard, agent prompt, date, contact directory,
// sandboxed tools with the call directive, shell, skill tools.
func BuildSystemPrompt(in PromptInput) string {
	name := in.Agent.Name
	sections := []string{fmt.Sprintf(identityGuard, name, name, name)}

	if p := expandPrompt(in.Agent.SystemPrompt, name, in.PromptVars); p != "" {
		sections = append(sections, p)
	}

	sections = append(sections, "Current date and time: "+in.Now.Format("Monday, 02 January 2006 15:04 (MST)"))

	if in.ContactDirectory != "" {
		sections = append(sections, "=== Contact Directory ===\n"+in.ContactDirectory)
	}

	if tools := sandboxSection(in.SandboxTools); tools != "" {
		sections = append(sections, tools, toolCallDirective)
	}

	if in.ShellEnabled {
		sections = append(sections, shellPrompt())
	}

	sections = append(sections, in.SkillBlocks...)
	return strings.Join(sections, "\n\n")
}

// expandPrompt substitutes {placeholder} tokens in the agent prompt.
// {agent_name} is always available; PromptVars adds the rest.
func expandPrompt(prompt, agentName string, vars map[string]string) string {
	prompt = strings.ReplaceAll(prompt, "{agent_name}", agentName)
	for k, v := range vars {
		prompt = strings.ReplaceAll(prompt, "{"+k+"}", v)
	}
	return strings.TrimSpace(prompt)
}

func sandboxSection(tools []*store.SandboxedToolData) string {
	var blocks []string
	for _, t := range tools {
		if t == nil || !t.Enabled || t.Prompt == "" {
			continue
		}
		blocks = append(blocks, t.Prompt)
	}
	if len(blocks) == 0 {
		return ""
	}
	return "=== Available Tools ===\n" + strings.Join(blocks, "\n\n")
}

// shellPrompt tells the model which command conventions the host obeys.
func shellPrompt() string {
	flavor := "GNU/Linux"
	switch runtime.GOOS {
	case "darwin":
		flavor = "macOS (BSD userland)"
	case "windows":
		flavor = "Windows"
	}
	return fmt.Sprintf(`You can run shell commands through the "shell" tool. The host is %s; use %s command conventions. Prefer short, non-interactive commands.`, flavor, flavor)
}

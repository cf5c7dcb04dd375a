package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

func testAgent(name string) *store.AgentData {
	return &store.AgentData{
		ID:           uuid.Must(uuid.NewV7()),
		Name:         name,
		SystemPrompt: "You are {agent_name}, acting as {persona}. Keep a {tone} tone.",
	}
}

func TestBuildSystemPromptOrder(t *testing.T) {
	in := PromptInput{
		Agent:            testAgent("Maria"),
		Now:              time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
		PromptVars:       map[string]string{"persona": "a travel planner", "tone": "warm"},
		ContactDirectory: "João (whatsapp)\nAna (telegram)",
		SandboxTools: []*store.SandboxedToolData{
			{Name: "nmap", Enabled: true, Prompt: "nmap: network scans via quick_scan(target)"},
		},
		ShellEnabled: true,
		SkillBlocks:  []string{"share_knowledge: share facts with other agents"},
	}
	got := BuildSystemPrompt(in)

	markers := []string{
		"You are Maria.",
		"acting as a travel planner",
		"Current date and time:",
		"=== Contact Directory ===",
		"nmap: network scans",
		"[TOOL_CALL]",
		"shell",
		"share_knowledge:",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(got, m)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", m, got)
		}
		if idx < last {
			t.Errorf("section %q out of order", m)
		}
		last = idx
	}
	if strings.Contains(got, "{persona}") || strings.Contains(got, "{tone}") {
		t.Error("placeholders not expanded")
	}
	if !strings.Contains(got, "10 March 2026") {
		t.Errorf("date section wrong:\n%s", got)
	}
}

func TestBuildSystemPromptMinimal(t *testing.T) {
	got := BuildSystemPrompt(PromptInput{
		Agent: &store.AgentData{ID: uuid.Must(uuid.NewV7()), Name: "Rui"},
		Now:   time.Now(),
	})
	if strings.Contains(got, "[TOOL_CALL]") {
		t.Error("tool directive emitted with no tools")
	}
	if strings.Contains(got, "Contact Directory") {
		t.Error("empty contact directory emitted")
	}
	if strings.Contains(got, "shell") {
		t.Error("shell prompt emitted with shell disabled")
	}
}

func TestBuildSystemPromptSkipsDisabledTools(t *testing.T) {
	got := BuildSystemPrompt(PromptInput{
		Agent: &store.AgentData{ID: uuid.Must(uuid.NewV7()), Name: "Rui"},
		Now:   time.Now(),
		SandboxTools: []*store.SandboxedToolData{
			{Name: "nmap", Enabled: false, Prompt: "nmap: scans"},
		},
	})
	if strings.Contains(got, "nmap") || strings.Contains(got, "[TOOL_CALL]") {
		t.Error("disabled tool leaked into the prompt")
	}
}

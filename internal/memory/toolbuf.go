package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tool-output buffer defaults.
const (
	toolBufMaxAge      = 30 * time.Minute
	toolBufMaxMessages = 20 // entries expire after this many messages pass
)

// ToolOutput is one buffered execution result.
type ToolOutput struct {
	ExecutionID string
	Tool        string
	Command     string
	Output      string
	At          time.Time
	// messageAge counts messages processed since the entry was added.
	messageAge int
}

// ToolBuffer keeps the full output of the last K tool executions per
// (agent, sender) so "explain the nmap result" works turns later
// without the raw output living in working memory.
type ToolBuffer struct {
	size int

	mu      sync.Mutex
	buffers map[string][]*ToolOutput // agentID|senderKey
}

func NewToolBuffer(size int) *ToolBuffer {
	if size <= 0 {
		size = 10
	}
	return &ToolBuffer{size: size, buffers: make(map[string][]*ToolOutput)}
}

func bufKey(agentID uuid.UUID, senderKey string) string {
	return agentID.String() + "|" + senderKey
}

// Add stores an output and returns its execution id.
func (b *ToolBuffer) Add(agentID uuid.UUID, senderKey, tool, command, output string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.Must(uuid.NewV7()).String()
	key := bufKey(agentID, senderKey)
	entries := append(b.buffers[key], &ToolOutput{
		ExecutionID: id, Tool: tool, Command: command, Output: output, At: time.Now(),
	})
	if len(entries) > b.size {
		entries = entries[len(entries)-b.size:]
	}
	b.buffers[key] = entries
	return id
}

// GetFull returns the verbatim output for an execution id, or nil.
func (b *ToolBuffer) GetFull(agentID uuid.UUID, senderKey, executionID string) *ToolOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.buffers[bufKey(agentID, senderKey)] {
		if e.ExecutionID == executionID {
			return e
		}
	}
	return nil
}

// TickMessage ages the pair's entries by one processed message and
// drops the expired ones.
func (b *ToolBuffer) TickMessage(agentID uuid.UUID, senderKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bufKey(agentID, senderKey)
	var kept []*ToolOutput
	for _, e := range b.buffers[key] {
		e.messageAge++
		if e.messageAge > toolBufMaxMessages || time.Since(e.At) > toolBufMaxAge {
			continue
		}
		kept = append(kept, e)
	}
	b.buffers[key] = kept
}

// Sweep drops age-expired entries across all pairs (maintenance).
func (b *ToolBuffer) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for key, entries := range b.buffers {
		var kept []*ToolOutput
		for _, e := range entries {
			if time.Since(e.At) > toolBufMaxAge {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(b.buffers, key)
		} else {
			b.buffers[key] = kept
		}
	}
	return removed
}

// LightweightContext is the always-injected "tools available for
// recall" summary: names and ids only, never the payloads.
func (b *ToolBuffer) LightweightContext(agentID uuid.UUID, senderKey string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.buffers[bufKey(agentID, senderKey)]
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Recent tool results available for recall:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s.%s (id %s, %s)\n",
			e.Tool, e.Command, e.ExecutionID, e.At.Format("15:04"))
	}
	return sb.String()
}

// recall keywords that mark a user message as referencing earlier tool
// output, in PT and EN.
var recallKeywords = []string{
	"resultado", "result", "scan", "saída", "output",
	"mostre", "show me", "detalhe", "details", "explique", "explain",
	"completo", "full",
}

// WantsFullContext reports whether the query references buffered
// output: an explicit /inject directive or a recall keyword naming a
// buffered tool.
func (b *ToolBuffer) WantsFullContext(agentID uuid.UUID, senderKey, query string) bool {
	lower := strings.ToLower(query)
	if strings.HasPrefix(lower, "/inject") {
		return true
	}
	b.mu.Lock()
	entries := b.buffers[bufKey(agentID, senderKey)]
	b.mu.Unlock()
	if len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		if strings.Contains(lower, strings.ToLower(e.Tool)) {
			return true
		}
	}
	for _, kw := range recallKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// InjectFullContext returns the verbatim text of the entries the query
// references, or everything buffered when the reference is generic.
func (b *ToolBuffer) InjectFullContext(agentID uuid.UUID, senderKey, query string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.buffers[bufKey(agentID, senderKey)]
	if len(entries) == 0 {
		return ""
	}
	lower := strings.ToLower(query)
	var matched []*ToolOutput
	for _, e := range entries {
		if strings.Contains(lower, strings.ToLower(e.Tool)) ||
			strings.Contains(lower, e.ExecutionID) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		matched = entries
	}
	var sb strings.Builder
	for _, e := range matched {
		fmt.Fprintf(&sb, "=== Full output of %s.%s (id %s) ===\n%s\n",
			e.Tool, e.Command, e.ExecutionID, e.Output)
	}
	return sb.String()
}

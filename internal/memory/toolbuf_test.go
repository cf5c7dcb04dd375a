package memory

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestToolBufferRecall(t *testing.T) {
	b := NewToolBuffer(10)
	agent := uuid.Must(uuid.NewV7())
	sender := "+5511"

	report := strings.Repeat("PORT 443/tcp open https\n", 100)
	id := b.Add(agent, sender, "nmap", "quick_scan", report)
	if id == "" {
		t.Fatal("Add returned empty execution id")
	}

	got := b.GetFull(agent, sender, id)
	if got == nil || got.Output != report {
		t.Fatal("GetFull lost the verbatim output")
	}

	light := b.LightweightContext(agent, sender)
	if !strings.Contains(light, "nmap.quick_scan") {
		t.Errorf("lightweight context = %q", light)
	}
	if strings.Contains(light, "PORT 443") {
		t.Error("lightweight context leaked the payload")
	}

	// Three turns later the user references the scan by name.
	if !b.WantsFullContext(agent, sender, "show me the full scan result") {
		t.Error("recall keyword not detected")
	}
	full := b.InjectFullContext(agent, sender, "explain the nmap result")
	if !strings.Contains(full, report) {
		t.Error("InjectFullContext missing the full output")
	}
}

func TestToolBufferNoFalseInjection(t *testing.T) {
	b := NewToolBuffer(10)
	agent := uuid.Must(uuid.NewV7())
	if b.WantsFullContext(agent, "+5511", "mostre o resultado") {
		t.Error("empty buffer wants injection")
	}
	b.Add(agent, "+5511", "nmap", "quick_scan", "data")
	if b.WantsFullContext(agent, "+5511", "bom dia, tudo bem?") {
		t.Error("small talk triggered injection")
	}
	if !b.WantsFullContext(agent, "+5511", "/inject nmap") {
		t.Error("slash directive ignored")
	}
}

func TestToolBufferRingBound(t *testing.T) {
	b := NewToolBuffer(3)
	agent := uuid.Must(uuid.NewV7())
	var first string
	for i := 0; i < 5; i++ {
		id := b.Add(agent, "s", "tool", "cmd", "out")
		if i == 0 {
			first = id
		}
	}
	if b.GetFull(agent, "s", first) != nil {
		t.Error("oldest entry survived past capacity")
	}
}

func TestToolBufferMessageExpiry(t *testing.T) {
	b := NewToolBuffer(10)
	agent := uuid.Must(uuid.NewV7())
	id := b.Add(agent, "s", "tool", "cmd", "out")
	for i := 0; i <= toolBufMaxMessages; i++ {
		b.TickMessage(agent, "s")
	}
	if b.GetFull(agent, "s", id) != nil {
		t.Error("entry survived message-count expiry")
	}
}

func TestToolBufferPairIsolation(t *testing.T) {
	b := NewToolBuffer(10)
	agent := uuid.Must(uuid.NewV7())
	id := b.Add(agent, "sender_a", "nmap", "scan", "secret")
	if b.GetFull(agent, "sender_b", id) != nil {
		t.Error("tool output leaked across senders")
	}
}

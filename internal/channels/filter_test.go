package channels

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/store"
)

type fakeAgentStore struct {
	names []string
}

func (f *fakeAgentStore) GetByID(ctx context.Context, id uuid.UUID) (*store.AgentData, error) {
	return nil, nil
}

func (f *fakeAgentStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*store.AgentData, error) {
	out := make([]*store.AgentData, 0, len(f.names))
	for _, name := range f.names {
		out = append(out, &store.AgentData{ID: uuid.New(), Name: name, Active: true})
	}
	return out, nil
}

func (f *fakeAgentStore) Default(ctx context.Context, tenantID uuid.UUID) (*store.AgentData, error) {
	return nil, nil
}

func baseInstance() *store.InstanceData {
	return &store.InstanceData{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Channel:        bus.ChannelWhatsapp,
		Kind:           store.InstanceAgent,
		IsGroupHandler: true,
		Active:         true,
		DMAutoMode:     true,
	}
}

func TestFilterGroupHandlerGate(t *testing.T) {
	inst := baseInstance()
	inst.IsGroupHandler = false
	f := NewFilter(inst, &fakeAgentStore{}, "")

	ok, reason := f.Allow(context.Background(), bus.InboundMessage{
		IsGroup: true,
		ChatID:  "1203630412@g.us",
		Sender:  "5511999990000@s.whatsapp.net",
	})
	if ok {
		t.Fatal("group message passed on non-handler instance")
	}
	if reason != "not group handler" {
		t.Fatalf("reason = %q", reason)
	}
}

func TestFilterGroupAllowlist(t *testing.T) {
	inst := baseInstance()
	inst.GroupAllow = []string{"1203630412@g.us"}
	f := NewFilter(inst, &fakeAgentStore{}, "")

	tests := []struct {
		name   string
		chatID string
		want   bool
	}{
		{"listed group", "1203630412@g.us", true},
		{"listed group bare form", "1203630412", true},
		{"unlisted group", "9999999999@g.us", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := f.Allow(context.Background(), bus.InboundMessage{
				IsGroup: true,
				ChatID:  tt.chatID,
				Sender:  "5511999990000@s.whatsapp.net",
			})
			if ok != tt.want {
				t.Fatalf("Allow = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestFilterNumberAllowlist(t *testing.T) {
	inst := baseInstance()
	inst.NumberAllow = []string{"+55 11 99999-0000"}
	f := NewFilter(inst, &fakeAgentStore{}, "")

	tests := []struct {
		name   string
		sender string
		want   bool
	}{
		{"jid form of listed number", "5511999990000@s.whatsapp.net", true},
		{"bare digits", "5511999990000", true},
		{"other number", "5511888880000@s.whatsapp.net", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := f.Allow(context.Background(), bus.InboundMessage{Sender: tt.sender})
			if ok != tt.want {
				t.Fatalf("Allow = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestFilterDMAutoOffRequiresMention(t *testing.T) {
	inst := baseInstance()
	inst.DMAutoMode = false
	f := NewFilter(inst, &fakeAgentStore{names: []string{"Maria"}}, "")

	ok, reason := f.Allow(context.Background(), bus.InboundMessage{
		Sender: "5511999990000@s.whatsapp.net",
		Body:   "oi, tudo bem?",
	})
	if ok {
		t.Fatal("unmentioned DM passed with DM-auto off")
	}
	if reason != "dm without agent mention" {
		t.Fatalf("reason = %q", reason)
	}

	ok, _ = f.Allow(context.Background(), bus.InboundMessage{
		Sender: "5511999990000@s.whatsapp.net",
		Body:   "oi @maria, tudo bem?",
	})
	if !ok {
		t.Fatal("mentioned DM dropped")
	}
}

func TestFilterQANumberSafeMode(t *testing.T) {
	inst := baseInstance() // DMAutoMode on
	f := NewFilter(inst, &fakeAgentStore{names: []string{"Maria"}}, "+5511777770000")

	ok, _ := f.Allow(context.Background(), bus.InboundMessage{
		Sender: "5511777770000@s.whatsapp.net",
		Body:   "teste sem mencionar",
	})
	if ok {
		t.Fatal("QA sender passed without mention")
	}

	ok, _ = f.Allow(context.Background(), bus.InboundMessage{
		Sender: "5511999990000@s.whatsapp.net",
		Body:   "teste sem mencionar",
	})
	if !ok {
		t.Fatal("regular DM dropped with DM-auto on")
	}
}

func TestFilterGroupsSkipMentionGate(t *testing.T) {
	// Group mention gating is the router's job (agent selection);
	// the watcher filter only applies the mention rule to DMs.
	inst := baseInstance()
	inst.DMAutoMode = false
	f := NewFilter(inst, &fakeAgentStore{names: []string{"Maria"}}, "")

	ok, _ := f.Allow(context.Background(), bus.InboundMessage{
		IsGroup: true,
		ChatID:  "1203630412@g.us",
		Sender:  "5511999990000@s.whatsapp.net",
		Body:    "sem mencao",
	})
	if !ok {
		t.Fatal("group message dropped by DM mention rule")
	}
}

package memory

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

func TestDeriveKey(t *testing.T) {
	agent := uuid.Must(uuid.NewV7())
	contact := uuid.Must(uuid.NewV7())
	project := uuid.Must(uuid.NewV7())

	tests := []struct {
		name string
		in   KeyInput
		want string
	}{
		{
			name: "project wins over isolation",
			in: KeyInput{AgentID: agent, Sender: "+5511", Isolation: store.IsolationShared,
				ProjectID: &project},
			want: fmt.Sprintf("project_%s:sender_+5511", project),
		},
		{
			name: "shared",
			in:   KeyInput{AgentID: agent, Sender: "+5511", Isolation: store.IsolationShared},
			want: fmt.Sprintf("agent_%s:shared", agent),
		},
		{
			name: "channel isolated uses chat discriminator",
			in: KeyInput{AgentID: agent, Sender: "+5511", Isolation: store.IsolationChannelIsolated,
				ChatOrSender: "group123@g.us"},
			want: fmt.Sprintf("agent_%s:channel_group123@g.us", agent),
		},
		{
			name: "isolated with contact",
			in: KeyInput{AgentID: agent, Sender: "+5511", Isolation: store.IsolationIsolated,
				ContactID: &contact},
			want: fmt.Sprintf("agent_%s:contact_%s", agent, contact),
		},
		{
			name: "isolated without contact falls back to sender",
			in:   KeyInput{AgentID: agent, Sender: "+5511", Isolation: store.IsolationIsolated},
			want: fmt.Sprintf("agent_%s:sender_+5511", agent),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveKey(tt.in); got != tt.want {
				t.Errorf("DeriveKey = %q, want %q", got, tt.want)
			}
			// Pure function: same input, same output.
			if again := DeriveKey(tt.in); again != DeriveKey(tt.in) {
				t.Error("DeriveKey is not deterministic")
			}
		})
	}
}

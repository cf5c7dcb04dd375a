// Package memory implements the four-layer memory system: the working
// ring, episodic vector recall, learned facts, and shared knowledge,
// multiplexed per agent under isolation-mode-derived memory keys.
package memory

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

// KeyInput carries everything key derivation may look at.
type KeyInput struct {
	AgentID   uuid.UUID
	Sender    string
	Isolation store.IsolationMode
	// ChatOrSender is the channel discriminator for channel_isolated
	// agents: the chat id for groups, the sender for DMs.
	ChatOrSender string
	ContactID    *uuid.UUID
	ProjectID    *uuid.UUID
}

// DeriveKey is a pure function of its input. Project context wins over
// everything; otherwise the agent's isolation mode decides.
func DeriveKey(in KeyInput) string {
	if in.ProjectID != nil {
		return fmt.Sprintf("project_%s:sender_%s", in.ProjectID, in.Sender)
	}
	switch in.Isolation {
	case store.IsolationShared:
		return fmt.Sprintf("agent_%s:shared", in.AgentID)
	case store.IsolationChannelIsolated:
		return fmt.Sprintf("agent_%s:channel_%s", in.AgentID, in.ChatOrSender)
	default: // isolated
		if in.ContactID != nil {
			return fmt.Sprintf("agent_%s:contact_%s", in.AgentID, in.ContactID)
		}
		return fmt.Sprintf("agent_%s:sender_%s", in.AgentID, in.Sender)
	}
}

package channels

import (
	"context"
	"strings"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/contacts"
	"github.com/ligolabs/ligo/internal/store"
)

// Filter applies per-instance inbound rules before a message reaches
// the router: group-handler election, group allowlist, sender number
// filter, and the mention requirement for DMs when DM-auto mode is off.
type Filter struct {
	inst     *store.InstanceData
	agents   store.AgentStore
	qaNumber string
}

// NewFilter builds the filter for one instance. qaNumber comes from
// config; a matching sender is handled in safe mode (mention required)
// even when the instance runs with DM-auto on.
func NewFilter(inst *store.InstanceData, agents store.AgentStore, qaNumber string) *Filter {
	return &Filter{inst: inst, agents: agents, qaNumber: qaNumber}
}

// Allow reports whether the message should reach the router, with a
// short reason when it should not.
func (f *Filter) Allow(ctx context.Context, msg bus.InboundMessage) (bool, string) {
	if msg.IsGroup {
		if !f.inst.IsGroupHandler {
			return false, "not group handler"
		}
		if !f.groupAllowed(msg.ChatID) {
			return false, "group not in allowlist"
		}
	}
	if !f.numberAllowed(msg.Sender) {
		return false, "sender not in allowlist"
	}
	if !msg.IsGroup && f.mentionRequired(msg.Sender) && !f.mentionsAgent(ctx, msg.Body) {
		return false, "dm without agent mention"
	}
	return true, ""
}

// groupAllowed: empty allowlist admits every group.
func (f *Filter) groupAllowed(chatID string) bool {
	if len(f.inst.GroupAllow) == 0 {
		return true
	}
	bare := contacts.BareID(chatID)
	for _, g := range f.inst.GroupAllow {
		if g == chatID || contacts.BareID(g) == bare {
			return true
		}
	}
	return false
}

// numberAllowed compares digit forms so "+55 11 9..." and the JID
// variant of the same number both match.
func (f *Filter) numberAllowed(sender string) bool {
	if len(f.inst.NumberAllow) == 0 {
		return true
	}
	digits := digitsOnly(contacts.BareID(sender))
	for _, n := range f.inst.NumberAllow {
		if n == sender || digitsOnly(n) == digits {
			return true
		}
	}
	return false
}

// mentionRequired: DMs need an explicit agent mention when the instance
// runs with DM-auto off, or when the sender is the QA number.
func (f *Filter) mentionRequired(sender string) bool {
	if !f.inst.DMAutoMode {
		return true
	}
	if f.qaNumber == "" {
		return false
	}
	return digitsOnly(contacts.BareID(sender)) == digitsOnly(f.qaNumber)
}

func (f *Filter) mentionsAgent(ctx context.Context, body string) bool {
	agents, err := f.agents.ListActive(ctx, f.inst.TenantID)
	if err != nil {
		// Fail open: a store hiccup must not silence every DM.
		return true
	}
	lower := strings.ToLower(body)
	for _, ag := range agents {
		if ag.Name != "" && strings.Contains(lower, "@"+strings.ToLower(ag.Name)) {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

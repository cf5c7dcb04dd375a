package router

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/store"
)

// Trigger labels persisted on agent runs.
const (
	TriggerSession = "session"
	TriggerMention = "mention"
	TriggerKeyword = "keyword"
	TriggerMapping = "mapping"
	TriggerDefault = "default"
)

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)

// selectAgent picks the agent for a message, first match wins:
// saved session, explicit @mention, keyword, contact mapping (DM),
// default agent (DM). Group messages with no mention or keyword drop.
func (r *Router) selectAgent(ctx context.Context, tenantID uuid.UUID, inst *store.InstanceData, contact *store.ContactData, agents []*store.AgentData, msg bus.InboundMessage) (*store.AgentData, string) {
	if ag := r.sessionAgent(ctx, tenantID, inst, msg); ag != nil {
		return ag, TriggerSession
	}
	if ag := r.mentionedAgent(ctx, tenantID, inst, agents, msg); ag != nil {
		return ag, TriggerMention
	}
	if ag := r.keywordAgent(inst, agents, msg); ag != nil {
		return ag, TriggerKeyword
	}
	if msg.IsGroup {
		return nil, ""
	}
	if contact != nil {
		if ag := r.mappedAgent(ctx, inst, contact, msg); ag != nil {
			return ag, TriggerMapping
		}
	}
	if ag, err := r.st.Agents.Default(ctx, tenantID); err == nil && ag != nil &&
		ag.Active && r.validForChannel(ag, inst, msg.Channel) {
		return ag, TriggerDefault
	}
	return nil, ""
}

// sessionAgent honors a saved /invoke preference while the agent is
// still active and valid for this channel and instance.
func (r *Router) sessionAgent(ctx context.Context, tenantID uuid.UUID, inst *store.InstanceData, msg bus.InboundMessage) *store.AgentData {
	sess, err := r.st.Sessions.GetUserAgent(ctx, tenantID, msg.SenderKey)
	if err != nil || sess == nil {
		return nil
	}
	ag, err := r.st.Agents.GetByID(ctx, sess.AgentID)
	if err != nil || ag == nil || !ag.Active || !r.validForChannel(ag, inst, msg.Channel) {
		return nil
	}
	return ag
}

// mentionedAgent resolves @name tokens against agent names first, then
// the contact directory's friendly names. Works in groups and DMs.
func (r *Router) mentionedAgent(ctx context.Context, tenantID uuid.UUID, inst *store.InstanceData, agents []*store.AgentData, msg bus.InboundMessage) *store.AgentData {
	for _, m := range mentionRe.FindAllStringSubmatch(msg.Body, -1) {
		name := m[1]
		if ag := findAgentByName(agents, name); ag != nil && r.validForChannel(ag, inst, msg.Channel) {
			return ag
		}
		c, err := r.resolver.ByName(ctx, tenantID, name)
		if err != nil || c == nil || c.AgentID == nil {
			continue
		}
		ag, err := r.st.Agents.GetByID(ctx, *c.AgentID)
		if err == nil && ag != nil && ag.Active && r.validForChannel(ag, inst, msg.Channel) {
			return ag
		}
	}
	return nil
}

// keywordAgent matches each agent's keywords against the body,
// case-insensitive substring.
func (r *Router) keywordAgent(inst *store.InstanceData, agents []*store.AgentData, msg bus.InboundMessage) *store.AgentData {
	body := strings.ToLower(msg.Body)
	for _, ag := range agents {
		if !r.validForChannel(ag, inst, msg.Channel) {
			continue
		}
		for _, kw := range ag.Keywords {
			if kw != "" && strings.Contains(body, strings.ToLower(kw)) {
				return ag
			}
		}
	}
	return nil
}

func (r *Router) mappedAgent(ctx context.Context, inst *store.InstanceData, contact *store.ContactData, msg bus.InboundMessage) *store.AgentData {
	id := contact.AgentID
	if id == nil {
		mapped, err := r.resolver.MappedAgent(ctx, contact.ID)
		if err != nil || mapped == nil {
			return nil
		}
		id = mapped
	}
	ag, err := r.st.Agents.GetByID(ctx, *id)
	if err != nil || ag == nil || !ag.Active || !r.validForChannel(ag, inst, msg.Channel) {
		return nil
	}
	return ag
}

// validForChannel: the channel is enabled for the agent and the
// agent's integration pin, if set, names this instance.
func (r *Router) validForChannel(ag *store.AgentData, inst *store.InstanceData, channel string) bool {
	if !ag.ChannelEnabled(channel) {
		return false
	}
	switch channel {
	case bus.ChannelWhatsapp:
		if ag.WhatsappIntegrationID != nil && *ag.WhatsappIntegrationID != inst.ID {
			return false
		}
	case bus.ChannelTelegram:
		if ag.TelegramIntegrationID != nil && *ag.TelegramIntegrationID != inst.ID {
			return false
		}
	}
	return true
}

package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/memory"
	"github.com/ligolabs/ligo/internal/store"
)

const helpText = `Comandos disponíveis:
/invoke <agente> - fixa um agente para as próximas mensagens
/project enter <nome> - entra no contexto de um projeto
/project exit - sai do contexto de projeto
/memory clear - apaga a memória de conversa do agente atual
/commands - lista as ferramentas disponíveis
/inject - reenvia a última saída completa de ferramenta
/help - esta mensagem`

// handleCommand dispatches a slash command and returns the reply text.
// Commands are always terminal: the message never reaches an agent.
func (r *Router) handleCommand(ctx context.Context, cfg *config.Config, tenantID uuid.UUID, inst *store.InstanceData, contact *store.ContactData, agents []*store.AgentData, msg bus.InboundMessage) string {
	fields := strings.Fields(strings.TrimSpace(msg.Body))
	if len(fields) == 0 {
		return ""
	}

	switch strings.ToLower(fields[0]) {
	case "/help":
		return helpText

	case "/invoke":
		if len(fields) < 2 {
			return "Uso: /invoke <agente>"
		}
		name := strings.Join(fields[1:], " ")
		ag := findAgentByName(agents, name)
		if ag == nil || !r.validForChannel(ag, inst, msg.Channel) {
			return fmt.Sprintf("Agente %q não encontrado neste canal.", name)
		}
		err := r.st.Sessions.SetUserAgent(ctx, &store.UserAgentSession{
			TenantID:  tenantID,
			SenderKey: msg.SenderKey,
			AgentID:   ag.ID,
			CreatedAt: r.now(),
		})
		if err != nil {
			r.log.Warn("set user agent failed", "agent", ag.Name, "error", err)
			return cfg.Gateway.FailureText
		}
		return fmt.Sprintf("✅ Agente %s ativado para as próximas mensagens.", ag.Name)

	case "/project":
		return r.projectCommand(ctx, tenantID, fields[1:], msg)

	case "/memory":
		if len(fields) < 2 || !strings.EqualFold(fields[1], "clear") {
			return "Uso: /memory clear"
		}
		ag, _ := r.selectAgent(ctx, tenantID, inst, contact, agents, msg)
		if ag == nil {
			return "Nenhum agente ativo para este remetente."
		}
		in := r.commandMemInput(ctx, tenantID, ag, contact, msg)
		if err := r.mem.ClearFor(ctx, in); err != nil {
			r.log.Warn("memory clear failed", "agent", ag.Name, "error", err)
			return cfg.Gateway.FailureText
		}
		return "🧹 Memória de conversa apagada."

	case "/commands":
		out := r.listCommands(ctx, tenantID)
		// The listing also lands in the tool buffer so follow-up chat
		// can reference it.
		if ag, _ := r.selectAgent(ctx, tenantID, inst, contact, agents, msg); ag != nil {
			r.mem.ToolBuffer().Add(ag.ID, msg.SenderKey, "commands", "list", out)
		}
		return out

	case "/inject":
		ag, _ := r.selectAgent(ctx, tenantID, inst, contact, agents, msg)
		if ag == nil {
			return "Nenhum agente ativo para este remetente."
		}
		full := r.mem.ToolBuffer().InjectFullContext(ag.ID, msg.SenderKey, msg.Body)
		if full == "" {
			return "Nenhuma saída de ferramenta recente."
		}
		return full

	default:
		return "Comando desconhecido. Use /help."
	}
}

func (r *Router) projectCommand(ctx context.Context, tenantID uuid.UUID, args []string, msg bus.InboundMessage) string {
	if len(args) == 0 {
		return "Uso: /project enter <nome> | /project exit"
	}
	switch strings.ToLower(args[0]) {
	case "enter":
		if len(args) < 2 {
			return "Uso: /project enter <nome>"
		}
		name := strings.Join(args[1:], " ")
		proj, err := r.st.Sessions.FindProject(ctx, tenantID, name)
		if err != nil || proj == nil {
			return fmt.Sprintf("Projeto %q não encontrado.", name)
		}
		err = r.st.Sessions.EnterProject(ctx, &store.ProjectSession{
			TenantID:    tenantID,
			SenderKey:   msg.SenderKey,
			ProjectID:   proj.ProjectID,
			ProjectName: proj.ProjectName,
			EnteredAt:   r.now(),
		})
		if err != nil {
			r.log.Warn("enter project failed", "project", name, "error", err)
			return "Não foi possível entrar no projeto."
		}
		return fmt.Sprintf("📁 Projeto %s ativado. Mensagens agora usam o contexto do projeto.", proj.ProjectName)
	case "exit":
		if err := r.st.Sessions.ExitProject(ctx, tenantID, msg.SenderKey); err != nil {
			r.log.Warn("exit project failed", "error", err)
		}
		return "📁 Contexto de projeto encerrado."
	}
	return "Uso: /project enter <nome> | /project exit"
}

// listCommands renders the enabled sandboxed tools and their commands.
func (r *Router) listCommands(ctx context.Context, tenantID uuid.UUID) string {
	if r.sandbox == nil {
		return "Nenhuma ferramenta configurada."
	}
	tools, err := r.st.Tools.ListEnabled(ctx, tenantID)
	if err != nil {
		r.log.Warn("tool list failed", "error", err)
		return "Nenhuma ferramenta configurada."
	}
	if len(tools) == 0 {
		return "Nenhuma ferramenta configurada."
	}
	var b strings.Builder
	b.WriteString("Ferramentas disponíveis:\n")
	for _, t := range tools {
		b.WriteString("• " + t.Name)
		var cmds []string
		for _, c := range t.Commands {
			cmds = append(cmds, c.Name)
		}
		if len(cmds) > 0 {
			b.WriteString(" (" + strings.Join(cmds, ", ") + ")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// commandMemInput rebuilds the memory key context a command operates
// on, including any active project scope.
func (r *Router) commandMemInput(ctx context.Context, tenantID uuid.UUID, ag *store.AgentData, contact *store.ContactData, msg bus.InboundMessage) memory.AddInput {
	var contactID *uuid.UUID
	if contact != nil {
		contactID = &contact.ID
	}
	var projectID *uuid.UUID
	if proj, err := r.st.Sessions.GetProject(ctx, tenantID, msg.SenderKey); err == nil && proj != nil {
		projectID = &proj.ProjectID
	}
	return memory.AddInput{
		Agent:        ag,
		Sender:       msg.SenderKey,
		ChatOrSender: chatOrSender(msg),
		ContactID:    contactID,
		ProjectID:    projectID,
	}
}

func findAgentByName(agents []*store.AgentData, name string) *store.AgentData {
	for _, a := range agents {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}

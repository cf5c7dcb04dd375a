package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/store"
)

// Recipient shapes per channel. A Telegram chat id must never go out
// through the WhatsApp transport and vice versa.
var (
	waJIDRe   = regexp.MustCompile(`^\d{5,20}(-\d+)?@(s\.whatsapp\.net|lid|g\.us)$`)
	waPhoneRe = regexp.MustCompile(`^\+?\d{8,15}$`)
	tgChatRe  = regexp.MustCompile(`^-?\d{1,20}$`)
	tgUserRe  = regexp.MustCompile(`^@\w{3,32}$`)
)

// ValidateRecipient rejects recipient identifiers that are wrong for
// the channel before they reach the transport.
func ValidateRecipient(channel, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("empty recipient")
	}
	switch channel {
	case bus.ChannelWhatsapp:
		if !waJIDRe.MatchString(recipient) && !waPhoneRe.MatchString(recipient) {
			return fmt.Errorf("recipient %q is not a whatsapp identifier", recipient)
		}
	case bus.ChannelTelegram:
		if !tgChatRe.MatchString(recipient) && !tgUserRe.MatchString(recipient) {
			return fmt.Errorf("recipient %q is not a telegram identifier", recipient)
		}
	case bus.ChannelPlayground:
		// Playground session ids are opaque.
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	return nil
}

// renderTemplate expands the response template placeholders.
func renderTemplate(tmpl, agentName, response string) string {
	if tmpl == "" {
		tmpl = "@{agent_name}: {response}"
	}
	out := strings.ReplaceAll(tmpl, "{agent_name}", agentName)
	return strings.ReplaceAll(out, "{response}", response)
}

func responseTemplate(cfg *config.Config, ag *store.AgentData) string {
	if ag.ResponseTemplate != "" {
		return ag.ResponseTemplate
	}
	return cfg.Gateway.ResponseTemplate
}

// sendReply formats and dispatches an agent reply, synthesizing a
// voice note when the agent has a TTS provider. Inbound temp media is
// scheduled for cleanup after the send.
func (r *Router) sendReply(ctx context.Context, cfg *config.Config, tenantID uuid.UUID, inst *store.InstanceData, ag *store.AgentData, msg bus.InboundMessage, text string, media []string, allowVoice bool) error {
	rendered := renderTemplate(responseTemplate(cfg, ag), ag.Name, text)

	asVoice := false
	if allowVoice && ag.TTSProvider != "" && r.reg != nil {
		if path, ok := r.synthesize(ctx, tenantID, ag, msg, text); ok {
			media = append(media, path)
			asVoice = true
			r.scheduleCleanup(cfg, path)
		}
	}

	if err := r.dispatch(ctx, msg.Channel, inst, replyRecipient(msg), rendered, media, asVoice); err != nil {
		return err
	}
	if msg.MediaPath != "" {
		r.scheduleCleanup(cfg, msg.MediaPath)
	}
	return nil
}

// dispatch validates the recipient and hands the message to the
// channel sender. Media goes with the message; transports send files
// first, then the text.
func (r *Router) dispatch(ctx context.Context, channel string, inst *store.InstanceData, recipient, body string, media []string, asVoice bool) error {
	if err := ValidateRecipient(channel, recipient); err != nil {
		return fmt.Errorf("recipient validation: %w", err)
	}
	return r.sender.Send(ctx, bus.OutboundMessage{
		Channel:    channel,
		InstanceID: inst.ID.String(),
		Recipient:  recipient,
		Body:       body,
		MediaPaths: media,
		AsVoice:    asVoice,
	})
}

// synthesize renders the reply as a voice note via the agent's TTS
// provider. Failures degrade to a text-only reply.
func (r *Router) synthesize(ctx context.Context, tenantID uuid.UUID, ag *store.AgentData, msg bus.InboundMessage, text string) (string, bool) {
	tts, err := r.reg.TTS.Get(ctx, ag.TTSProvider, tenantID)
	if err != nil {
		r.log.Warn("tts provider unavailable", "provider", ag.TTSProvider, "error", err)
		return "", false
	}
	res, err := tts.Synthesize(ctx, providers.TTSRequest{Text: text})
	if err != nil {
		r.log.Warn("tts synthesis failed", "provider", ag.TTSProvider, "error", err)
		return "", false
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("ligo-voice-%s.%s", uuid.Must(uuid.NewV7()), res.Format))
	if err := os.WriteFile(path, res.Audio, 0o600); err != nil {
		r.log.Warn("voice note write failed", "path", path, "error", err)
		return "", false
	}
	r.recordUsage(ctx, tenantID, store.OpTTS, ag.TTSProvider, "", ag, msg, res.Usage)
	return path, true
}

// scheduleCleanup deletes a temp media file after the upload delay.
func (r *Router) scheduleCleanup(cfg *config.Config, path string) {
	delay := time.Duration(cfg.Gateway.MediaCleanupSec) * time.Second
	if delay <= 0 {
		delay = 30 * time.Second
	}
	go func() {
		time.Sleep(delay)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.log.Debug("temp media cleanup failed", "path", path, "error", err)
		}
	}()
}

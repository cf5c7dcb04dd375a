// Package bus defines the normalized message types exchanged between
// transport watchers and the router, plus the small in-process plumbing
// (dedupe cache, per-chat debouncer) used on the inbound path.
package bus

import "time"

// Channel tags identify the transport family a message belongs to.
const (
	ChannelWhatsapp   = "whatsapp"
	ChannelTelegram   = "telegram"
	ChannelPlayground = "playground"
)

// InboundMessage is the normalized form of a message received from any
// transport. Watchers synthesize it; the router consumes it.
type InboundMessage struct {
	ID         string    `json:"id"`         // transport-native message id
	Sender     string    `json:"sender"`     // raw sender identifier (JID, phone, telegram id)
	SenderKey  string    `json:"sender_key"` // normalized origin key: chat for groups, sender for DMs
	Body       string    `json:"body"`
	ChatID     string    `json:"chat_id"`
	ChatName   string    `json:"chat_name,omitempty"`
	IsGroup    bool      `json:"is_group"`
	Timestamp  time.Time `json:"timestamp"`
	MediaType  string    `json:"media_type,omitempty"` // "audio", "image", "" for text
	MediaURL   string    `json:"media_url,omitempty"`  // provider-specific handle
	MediaPath  string    `json:"media_path,omitempty"` // local path after download
	Channel    string    `json:"channel"`              // whatsapp | telegram | playground
	InstanceID string    `json:"instance_id"`          // transport instance that observed it
	TelegramID int64     `json:"telegram_id,omitempty"`
}

// OutboundMessage is a reply to be dispatched through a transport.
type OutboundMessage struct {
	Channel    string   `json:"channel"`
	InstanceID string   `json:"instance_id,omitempty"`
	Recipient  string   `json:"recipient"`
	Body       string   `json:"body"`
	MediaPaths []string `json:"media_paths,omitempty"`
	AsVoice    bool     `json:"as_voice,omitempty"`
}

// SendFunc is the narrow channel-send capability handed to subsystems
// that must emit follow-up messages (long-running tools, thread engine)
// without owning the router.
type SendFunc func(recipient, text string, mediaPaths []string) error

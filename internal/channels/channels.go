// Package channels runs the transport watchers: one long-lived watcher
// per live instance (WhatsApp MCP container, Telegram bot, playground
// listener). Watchers poll or stream their transport, normalize messages
// into bus.InboundMessage, pass them through the per-instance filter and
// debouncer, and hand survivors to the router. Outbound replies route
// back through the WatcherManager to the instance that owns the chat.
package channels

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
)

// Handler receives filtered, debounced inbound messages. The router's
// Handle method satisfies it.
type Handler func(ctx context.Context, msg bus.InboundMessage) error

// Watcher is one live transport connection. Start must return after
// launching its goroutines; Stop blocks until they exit.
type Watcher interface {
	// InstanceID is the DB instance this watcher serves.
	InstanceID() uuid.UUID

	// Channel returns the transport family (bus.ChannelWhatsapp etc.).
	Channel() string

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Running reports whether the watcher is actively consuming.
	Running() bool

	// LastContact is the time of the last successful exchange with the
	// transport. The health monitor restarts watchers that go quiet.
	LastContact() time.Time

	// Send delivers an outbound message through this instance.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Restarter recovers an unhealthy transport backend, typically by
// restarting the MCP container behind a WhatsApp instance.
type Restarter interface {
	Restart(ctx context.Context, instanceID uuid.UUID) error
}

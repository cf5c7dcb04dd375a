package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/store"
)

// WatcherFactory builds a watcher for one instance. The manager calls
// it on hot-add and when recycling an unhealthy watcher.
type WatcherFactory func(inst *store.InstanceData) (Watcher, error)

// Manager owns the watcher set: it reconciles running watchers against
// the active instances in the DB, monitors WhatsApp keepalives, and
// routes outbound messages to the instance that owns the conversation.
type Manager struct {
	instances store.InstanceStore
	factories map[string]WatcherFactory
	pacer     *Pacer
	restarter Restarter
	keepalive time.Duration
	log       *slog.Logger

	mu       sync.RWMutex
	watchers map[uuid.UUID]Watcher
	insts    map[uuid.UUID]*store.InstanceData
	runCtx   context.Context
}

// NewManager creates a manager. restarter may be nil (health monitor
// then only recycles the watcher, never the container).
func NewManager(instances store.InstanceStore, pacer *Pacer, restarter Restarter, keepalive time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		instances: instances,
		factories: make(map[string]WatcherFactory),
		pacer:     pacer,
		restarter: restarter,
		keepalive: keepalive,
		log:       log,
		watchers:  make(map[uuid.UUID]Watcher),
		insts:     make(map[uuid.UUID]*store.InstanceData),
	}
}

// RegisterFactory installs the watcher constructor for a channel.
func (m *Manager) RegisterFactory(channel string, f WatcherFactory) {
	m.factories[channel] = f
}

// Run reconciles watchers against the DB every syncEvery until the
// context is cancelled, then stops everything. Blocking.
func (m *Manager) Run(ctx context.Context, syncEvery time.Duration) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if err := m.Sync(ctx); err != nil {
		m.log.Error("initial watcher sync failed", "error", err)
	}

	ticker := time.NewTicker(syncEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.StopAll(context.Background())
			return
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.log.Warn("watcher sync failed", "error", err)
			}
			m.checkHealth(ctx)
		}
	}
}

// Sync hot-adds watchers for new active instances and stops watchers
// whose instance was deactivated or deleted.
func (m *Manager) Sync(ctx context.Context) error {
	active, err := m.instances.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	desired := make(map[uuid.UUID]*store.InstanceData, len(active))
	for _, inst := range active {
		desired[inst.ID] = inst
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range m.watchers {
		if _, ok := desired[id]; ok {
			continue
		}
		m.log.Info("removing watcher", "instance_id", id, "channel", w.Channel())
		if err := w.Stop(ctx); err != nil {
			m.log.Warn("watcher stop failed", "instance_id", id, "error", err)
		}
		delete(m.watchers, id)
		delete(m.insts, id)
	}

	for id, inst := range desired {
		if _, ok := m.watchers[id]; ok {
			m.insts[id] = inst
			continue
		}
		factory, ok := m.factories[inst.Channel]
		if !ok {
			continue
		}
		w, err := factory(inst)
		if err != nil {
			m.log.Error("watcher create failed", "instance_id", id, "channel", inst.Channel, "error", err)
			continue
		}
		if err := w.Start(m.startCtx(ctx)); err != nil {
			m.log.Error("watcher start failed", "instance_id", id, "channel", inst.Channel, "error", err)
			continue
		}
		m.watchers[id] = w
		m.insts[id] = inst
		m.log.Info("watcher started", "instance_id", id, "channel", inst.Channel)
	}
	return nil
}

// checkHealth recycles WhatsApp watchers that went quiet past the
// keepalive window, restarting the MCP container first when possible.
func (m *Manager) checkHealth(ctx context.Context) {
	if m.keepalive <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range m.watchers {
		if w.Channel() != bus.ChannelWhatsapp || !w.Running() {
			continue
		}
		silent := time.Since(w.LastContact())
		if silent < m.keepalive {
			continue
		}
		m.log.Warn("watcher keepalive timeout", "instance_id", id, "silent", silent)

		if m.restarter != nil {
			if err := m.restarter.Restart(ctx, id); err != nil {
				m.log.Error("container restart failed", "instance_id", id, "error", err)
			}
		}

		if err := w.Stop(ctx); err != nil {
			m.log.Warn("watcher stop failed", "instance_id", id, "error", err)
		}
		inst := m.insts[id]
		factory := m.factories[inst.Channel]
		fresh, err := factory(inst)
		if err != nil {
			m.log.Error("watcher recreate failed", "instance_id", id, "error", err)
			delete(m.watchers, id)
			continue
		}
		if err := fresh.Start(m.startCtx(ctx)); err != nil {
			m.log.Error("watcher restart failed", "instance_id", id, "error", err)
			delete(m.watchers, id)
			continue
		}
		m.watchers[id] = fresh
		m.log.Info("watcher recycled", "instance_id", id)
	}
}

// StopAll stops every watcher. Used on shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.watchers {
		if err := w.Stop(ctx); err != nil {
			m.log.Warn("watcher stop failed", "instance_id", id, "error", err)
		}
		delete(m.watchers, id)
		delete(m.insts, id)
	}
}

// Send routes an outbound message to the watcher of the instance that
// observed the conversation. TESTER instances never dispatch outbound.
// Satisfies the router's Sender.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	w, inst, err := m.pick(msg)
	if err != nil {
		return err
	}
	if inst != nil && inst.Kind == store.InstanceTester {
		return fmt.Errorf("instance %s is a tester, outbound blocked", inst.ID)
	}
	if m.pacer != nil {
		if err := m.pacer.Wait(ctx, msg.Recipient); err != nil {
			return fmt.Errorf("send pacing: %w", err)
		}
	}
	return w.Send(ctx, msg)
}

func (m *Manager) pick(msg bus.OutboundMessage) (Watcher, *store.InstanceData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if msg.InstanceID != "" {
		id, err := uuid.Parse(msg.InstanceID)
		if err != nil {
			return nil, nil, fmt.Errorf("bad instance id %q: %w", msg.InstanceID, err)
		}
		w, ok := m.watchers[id]
		if !ok {
			return nil, nil, fmt.Errorf("no watcher for instance %s", id)
		}
		return w, m.insts[id], nil
	}

	// No pinned instance: any running AGENT watcher on the channel.
	for id, w := range m.watchers {
		inst := m.insts[id]
		if w.Channel() == msg.Channel && w.Running() && (inst == nil || inst.Kind != store.InstanceTester) {
			return w, inst, nil
		}
	}
	return nil, nil, fmt.Errorf("no running watcher for channel %q", msg.Channel)
}

// WatcherStatus is a point-in-time snapshot for doctor output.
type WatcherStatus struct {
	InstanceID  uuid.UUID
	Channel     string
	Running     bool
	LastContact time.Time
}

// Status snapshots every watcher.
func (m *Manager) Status() []WatcherStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WatcherStatus, 0, len(m.watchers))
	for id, w := range m.watchers {
		out = append(out, WatcherStatus{
			InstanceID:  id,
			Channel:     w.Channel(),
			Running:     w.Running(),
			LastContact: w.LastContact(),
		})
	}
	return out
}

func (m *Manager) startCtx(fallback context.Context) context.Context {
	if m.runCtx != nil {
		return m.runCtx
	}
	return fallback
}

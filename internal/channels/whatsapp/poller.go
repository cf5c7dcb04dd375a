// Package whatsapp polls a WhatsApp MCP container's HTTP API for new
// messages and sends replies through it. When the API is unreachable
// the poller falls back to reading the container's local SQLite
// message store directly.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/channels"
	"github.com/ligolabs/ligo/internal/contacts"
	"github.com/ligolabs/ligo/internal/store"
)

// historySyncWindow: instances younger than this start from their
// creation time so the transport's history sync is not replayed.
const historySyncWindow = 5 * time.Minute

const (
	dedupeTTL  = 10 * time.Minute
	dedupeSize = 2048
)

// Options configures a Poller.
type Options struct {
	Instance     *store.InstanceData
	Filter       *channels.Filter
	Handler      channels.Handler
	PollInterval time.Duration
	Debounce     time.Duration
	// FallbackDB is the path to the instance's local messages.db,
	// used read-only when the HTTP API is down.
	FallbackDB string
	HTTPClient *http.Client
	Log        *slog.Logger
}

// Poller is the watcher for one WhatsApp MCP instance.
type Poller struct {
	inst     *store.InstanceData
	filter   *channels.Filter
	handler  channels.Handler
	interval time.Duration
	httpc    *http.Client
	log      *slog.Logger

	debounce time.Duration
	deb      *bus.Debouncer
	dedupe   *bus.DedupeCache

	fallback *fallbackStore

	mu          sync.Mutex
	lastSeen    time.Time
	lastContact time.Time
	running     bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller; Start begins polling.
func New(opts Options) *Poller {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 20 * time.Second}
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		inst:     opts.Instance,
		filter:   opts.Filter,
		handler:  opts.Handler,
		interval: interval,
		httpc:    httpc,
		log:      log.With("channel", bus.ChannelWhatsapp, "instance_id", opts.Instance.ID),
		debounce: opts.Debounce,
		dedupe:   bus.NewDedupeCache(dedupeTTL, dedupeSize),
		fallback: newFallbackStore(opts.FallbackDB),
	}
}

func (p *Poller) InstanceID() uuid.UUID { return p.inst.ID }
func (p *Poller) Channel() string       { return bus.ChannelWhatsapp }

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) LastContact() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastContact
}

// Start launches the poll loop. New instances start from their
// creation time; older ones from now, so restarts do not replay the
// transport's backlog (the router's durable dedup catches stragglers).
func (p *Poller) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	start := startSince(p.inst, time.Now())

	p.mu.Lock()
	p.lastSeen = start
	p.lastContact = time.Now()
	p.running = true
	p.mu.Unlock()

	p.deb = bus.NewDebouncer(p.debounce, func(msg bus.InboundMessage) {
		if err := p.handler(pollCtx, msg); err != nil {
			p.log.Error("message handling failed", "message_id", msg.ID, "error", err)
		}
	})

	go p.loop(pollCtx)
	p.log.Info("whatsapp poller started", "api_url", p.inst.APIURL, "since", start)
	return nil
}

// startSince picks the first poll cutoff: creation time for instances
// still inside the history-sync window, otherwise now.
func startSince(inst *store.InstanceData, now time.Time) time.Time {
	if now.Sub(inst.CreatedAt) < historySyncWindow {
		return inst.CreatedAt
	}
	return now
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.deb != nil {
		p.deb.Stop()
	}
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	if p.done != nil {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			p.log.Warn("poll loop did not exit in time")
		}
	}
	return p.fallback.Close()
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll fetches messages strictly newer than lastSeen, via the HTTP API
// or the SQLite fallback, and pushes survivors into the debouncer.
func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	since := p.lastSeen
	p.mu.Unlock()

	msgs, err := p.fetchHTTP(ctx, since)
	if err != nil {
		p.log.Warn("api poll failed, trying sqlite fallback", "error", err)
		msgs, err = p.fallback.MessagesSince(ctx, since)
		if err != nil {
			p.log.Warn("sqlite fallback failed", "error", err)
			return
		}
	} else {
		p.touch()
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })

	for _, wm := range msgs {
		ts := time.Unix(wm.Timestamp, 0)
		if !ts.After(since) || wm.FromMe {
			continue
		}
		p.mu.Lock()
		if ts.After(p.lastSeen) {
			p.lastSeen = ts
		}
		p.mu.Unlock()

		if p.dedupe.IsDuplicate(bus.ChannelWhatsapp + "|" + p.inst.ID.String() + "|" + wm.ID) {
			continue
		}

		msg := p.normalize(wm, ts)
		if ok, reason := p.filter.Allow(ctx, msg); !ok {
			p.log.Debug("message filtered", "message_id", msg.ID, "reason", reason)
			continue
		}
		p.deb.Push(msg)
	}
}

func (p *Poller) touch() {
	p.mu.Lock()
	p.lastContact = time.Now()
	p.mu.Unlock()
}

// wireMessage is the MCP API message shape, shared with the SQLite
// fallback reader.
type wireMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	ChatJID   string `json:"chat_jid"`
	ChatName  string `json:"chat_name,omitempty"`
	IsGroup   bool   `json:"is_group"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	FromMe    bool   `json:"from_me,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	MediaPath string `json:"media_path,omitempty"`
}

func (p *Poller) normalize(wm wireMessage, ts time.Time) bus.InboundMessage {
	senderKey := contacts.BareID(wm.Sender)
	if wm.IsGroup {
		senderKey = wm.ChatJID
	}
	return bus.InboundMessage{
		ID:         wm.ID,
		Sender:     wm.Sender,
		SenderKey:  senderKey,
		Body:       wm.Body,
		ChatID:     wm.ChatJID,
		ChatName:   wm.ChatName,
		IsGroup:    wm.IsGroup,
		Timestamp:  ts,
		MediaType:  wm.MediaType,
		MediaURL:   wm.MediaURL,
		MediaPath:  wm.MediaPath,
		Channel:    bus.ChannelWhatsapp,
		InstanceID: p.inst.ID.String(),
	}
}

func (p *Poller) fetchHTTP(ctx context.Context, since time.Time) ([]wireMessage, error) {
	url := fmt.Sprintf("%s/api/messages?since=%d", p.inst.APIURL, since.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.inst.APISecret)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("api status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var envelope struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return envelope.Messages, nil
}

type sendPayload struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message,omitempty"`
	MediaPath string `json:"media_path,omitempty"`
	AsVoice   bool   `json:"as_voice,omitempty"`
}

// Send delivers a reply through the MCP API. Media files go out first,
// then the text body, matching transport display order.
func (p *Poller) Send(ctx context.Context, msg bus.OutboundMessage) error {
	for _, path := range msg.MediaPaths {
		if err := p.post(ctx, sendPayload{Recipient: msg.Recipient, MediaPath: path, AsVoice: msg.AsVoice}); err != nil {
			return fmt.Errorf("send media %s: %w", path, err)
		}
	}
	if msg.Body != "" {
		if err := p.post(ctx, sendPayload{Recipient: msg.Recipient, Message: msg.Body}); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}
	return nil
}

func (p *Poller) post(ctx context.Context, payload sendPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.inst.APIURL+"/api/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.inst.APISecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode send result: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("transport rejected send: %s", result.Message)
	}
	p.touch()
	return nil
}

package bus

import (
	"strings"
	"sync"
	"time"
)

// Debouncer merges rapid messages from the same chat into a single
// router turn. The last message of a burst wins the metadata; bodies are
// joined with newlines so the agent sees the full burst.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingBurst
	flush   func(InboundMessage)
	stopped bool
}

type pendingBurst struct {
	last   InboundMessage
	bodies []string
	timer  *time.Timer
}

// NewDebouncer creates a debouncer flushing merged bursts via fn.
func NewDebouncer(window time.Duration, fn func(InboundMessage)) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingBurst),
		flush:   fn,
	}
}

// Push queues a message; the burst flushes window after the last push.
// Messages with media bypass debouncing: merging would drop media handles.
func (d *Debouncer) Push(msg InboundMessage) {
	if d.window <= 0 || msg.MediaType != "" {
		d.flush(msg)
		return
	}

	key := msg.Channel + "|" + msg.ChatID + "|" + msg.Sender

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if burst, ok := d.pending[key]; ok {
		burst.last = msg
		burst.bodies = append(burst.bodies, msg.Body)
		burst.timer.Reset(d.window)
		return
	}

	burst := &pendingBurst{last: msg, bodies: []string{msg.Body}}
	burst.timer = time.AfterFunc(d.window, func() { d.fire(key) })
	d.pending[key] = burst
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	burst, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	msg := burst.last
	if len(burst.bodies) > 1 {
		msg.Body = strings.Join(burst.bodies, "\n")
	}
	d.flush(msg)
}

// Stop flushes nothing and discards pending bursts.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, burst := range d.pending {
		burst.timer.Stop()
		delete(d.pending, key)
	}
}

package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxPacedChats caps the number of tracked recipients so rotating chat
// ids cannot exhaust memory.
const maxPacedChats = 4096

// Pacer spaces outbound sends per recipient so a burst of replies to
// one chat does not trip transport anti-spam limits.
type Pacer struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*pacedChat
}

type pacedChat struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewPacer allows perMin sends per recipient per minute. perMin <= 0
// disables pacing.
func NewPacer(perMin int) *Pacer {
	return &Pacer{perMin: perMin, limiters: make(map[string]*pacedChat)}
}

// Wait blocks until the recipient's limiter admits one send or the
// context is cancelled.
func (p *Pacer) Wait(ctx context.Context, recipient string) error {
	if p.perMin <= 0 {
		return nil
	}
	p.mu.Lock()
	pc, ok := p.limiters[recipient]
	if !ok {
		if len(p.limiters) >= maxPacedChats {
			p.evictStale()
		}
		pc = &pacedChat{lim: rate.NewLimiter(rate.Limit(float64(p.perMin)/60.0), p.perMin)}
		p.limiters[recipient] = pc
	}
	pc.lastSeen = time.Now()
	p.mu.Unlock()
	return pc.lim.Wait(ctx)
}

// evictStale drops recipients idle for over an hour; if none qualify,
// arbitrary entries go (caller holds the lock).
func (p *Pacer) evictStale() {
	cutoff := time.Now().Add(-time.Hour)
	for key, pc := range p.limiters {
		if pc.lastSeen.Before(cutoff) {
			delete(p.limiters, key)
		}
	}
	for len(p.limiters) >= maxPacedChats {
		for key := range p.limiters {
			delete(p.limiters, key)
			break
		}
	}
}

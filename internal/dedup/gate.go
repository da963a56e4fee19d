// Package dedup suppresses duplicate webhook deliveries. Chat platforms
// retry delivery within seconds when the handler is slow to acknowledge;
// without this gate a single operator command would trigger the
// downstream job multiple times.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultWindow is how long a message id is remembered.
	DefaultWindow = 5 * time.Minute
	// sweepEvery bounds how often the background sweeper runs.
	sweepEvery = time.Minute
)

// Gate is a time-bounded set of recently seen message ids. It guarantees
// at-most-once processing within the retention window; a duplicate
// arriving after the window re-executes, which is an accepted tradeoff.
type Gate struct {
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	lastSweep time.Time
}

func NewGate(window time.Duration, logger *slog.Logger) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		window: window,
		logger: logger,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// SeenOrRecord atomically checks membership and records first sight.
// Returns true when the id is a duplicate and the caller must stop.
// Ids are also swept opportunistically so the gate stays bounded even
// without the background sweeper.
func (g *Gate) SeenOrRecord(messageID string) bool {
	if messageID == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= g.window {
		g.sweepLocked(now)
	}

	if seenAt, ok := g.seen[messageID]; ok && now.Sub(seenAt) <= g.window {
		return true
	}
	g.seen[messageID] = now
	return false
}

// Run sweeps expired entries periodically until ctx is cancelled.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// Sweep removes entries older than the retention window.
func (g *Gate) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked(g.now())
}

func (g *Gate) sweepLocked(now time.Time) {
	removed := 0
	for id, seenAt := range g.seen {
		if now.Sub(seenAt) > g.window {
			delete(g.seen, id)
			removed++
		}
	}
	g.lastSweep = now
	if removed > 0 {
		g.logger.Debug("dedup sweep", "removed", removed, "remaining", len(g.seen))
	}
}

// Len reports the number of remembered ids.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

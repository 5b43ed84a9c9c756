package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// MemoryReplayGuard is a process-local domain.ReplayGuard for single-instance
// deployments without Redis.
type MemoryReplayGuard struct {
	mu        sync.Mutex
	now       func() time.Time
	seen      map[string]time.Time
	nextSweep time.Time
}

// NewMemoryReplayGuard creates an empty guard. now may be nil.
func NewMemoryReplayGuard(now func() time.Time) *MemoryReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayGuard{now: now, seen: make(map[string]time.Time)}
}

// Claim marks key as used until now+ttl and reports whether it was unused.
func (g *MemoryReplayGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !now.Before(g.nextSweep) {
		for k, exp := range g.seen {
			if !now.Before(exp) {
				delete(g.seen, k)
			}
		}
		g.nextSweep = now.Add(ttl)
	}
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

var _ domain.ReplayGuard = (*MemoryReplayGuard)(nil)

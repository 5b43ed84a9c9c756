package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX PX, so a signed
// request is accepted by at most one replica.
type ReplayGuard struct {
	c *Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{c: c}
}

// Claim marks key as used for ttl and reports whether it was unused.
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.c.rdb.SetNX(ctx, g.c.Key("replay", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay claim: %w", err)
	}
	return ok, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)

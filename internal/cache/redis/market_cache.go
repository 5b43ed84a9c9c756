package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

const (
	defaultMarketTTL = 30 * time.Second
	// generationTTL outlives any in-flight fill by a wide margin.
	generationTTL = 24 * time.Hour
)

// setIfGenLua stores ARGV[2] at KEYS[2] for ARGV[3] ms when the generation at
// KEYS[1] (missing reads as 0) still equals ARGV[1].
const setIfGenLua = `
local cur = redis.call('GET', KEYS[1]) or '0'
if cur ~= ARGV[1] then
    return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`

// MarketCache implements domain.MarketCache. Snapshots are stored as JSON
// under market:{id} next to a generation counter at market-gen:{id} that
// Invalidate increments.
type MarketCache struct {
	c     *Client
	ttl   time.Duration
	setSc *redis.Script
}

// NewMarketCache creates a MarketCache. A zero ttl uses 30s.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl, setSc: redis.NewScript(setIfGenLua)}
}

func (mc *MarketCache) key(id uint64) string {
	return mc.c.Key("market", strconv.FormatUint(id, 10))
}

func (mc *MarketCache) genKey(id uint64) string {
	return mc.c.Key("market-gen", strconv.FormatUint(id, 10))
}

// Generation returns the market's current invalidation count.
func (mc *MarketCache) Generation(ctx context.Context, id uint64) (uint64, error) {
	gen, err := mc.c.rdb.Get(ctx, mc.genKey(id)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: market %d generation: %w", id, err)
	}
	return gen, nil
}

// Set stores a snapshot read at generation gen. It reports false when the
// market was invalidated since.
func (mc *MarketCache) Set(ctx context.Context, snap domain.MarketSnapshot, gen uint64) (bool, error) {
	id := snap.Market.ID
	data, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("redis: marshal market %d: %w", id, err)
	}
	stored, err := mc.setSc.Run(ctx, mc.c.rdb,
		[]string{mc.genKey(id), mc.key(id)},
		strconv.FormatUint(gen, 10), data, mc.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: set market %d: %w", id, err)
	}
	return stored == 1, nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (mc *MarketCache) Get(ctx context.Context, id uint64) (domain.MarketSnapshot, error) {
	data, err := mc.c.rdb.Get(ctx, mc.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}
	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return snap, nil
}

// Invalidate bumps the generation and drops the cached snapshot.
func (mc *MarketCache) Invalidate(ctx context.Context, id uint64) error {
	_, err := mc.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, mc.genKey(id))
		p.Expire(ctx, mc.genKey(id), generationTTL)
		p.Del(ctx, mc.key(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)

package rates

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/warp/expense-engine/approval"
)

// Cached memoizes successful lookups of an underlying RateLookup for ttl.
// Failures are not cached, so a provider that recovers is picked up on the
// next call.
type Cached struct {
	next  approval.RateLookup
	cache *cache.Cache
}

var _ approval.RateLookup = (*Cached)(nil)

func NewCached(next approval.RateLookup, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Rate(from, to approval.Currency) (decimal.Decimal, error) {
	key := pair{from, to}.String()
	if v, ok := c.cache.Get(key); ok {
		return v.(decimal.Decimal), nil
	}

	r, err := c.next.Rate(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.SetDefault(key, r)
	return r, nil
}

// Flush drops every cached rate.
func (c *Cached) Flush() { c.cache.Flush() }

package oracle

import (
	"context"
	"time"

	"comptoir/internal/domain"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// sharedLookupTimeout bounds an upstream call no single caller owns.
const sharedLookupTimeout = 15 * time.Second

// Cached wraps an oracle with a TTL cache. Concurrent misses for the same
// mint share one upstream call, which outlives any one caller's context.
// Failures are not cached.
type Cached struct {
	next  domain.MetadataOracle
	cache *cache.Cache
	group singleflight.Group
}

func NewCached(next domain.MetadataOracle, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Lookup(ctx context.Context, mint string) (*domain.ItemMetadata, error) {
	if v, ok := c.cache.Get(mint); ok {
		return clone(v.(*domain.ItemMetadata)), nil
	}

	ch := c.group.DoChan(mint, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()

		md, err := c.next.Lookup(shared, mint)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(mint, md)
		return md, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.(*domain.ItemMetadata)), nil
	}
}

// Forget drops a cached entry.
func (c *Cached) Forget(mint string) {
	c.cache.Delete(mint)
}

func clone(md *domain.ItemMetadata) *domain.ItemMetadata {
	out := *md
	out.Creators = append([]domain.Creator(nil), md.Creators...)
	return &out
}

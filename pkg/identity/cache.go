// Package identity provides the process-wide gamertag/XUID resolution cache.
//
// The cache is a bidirectional in-memory mapping. Hits are served without a
// network call; concurrent misses for the same tag collapse to a single
// in-flight resolution. An optional Store persists the mapping across
// process restarts, loaded at start and saved at stop.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/conan-hawkins/halo-stats-for-discord/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for identity cache operations.
var (
	identityCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_cache_hits_total",
		Help: "Total identity cache hits",
	})

	identityCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_cache_misses_total",
		Help: "Total identity cache misses",
	})

	identityCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "identity_cache_entries",
		Help: "Current number of cached identities",
	})
)

// PlayerIdentity is a resolved player reference. XUID is immutable once
// resolved; Gamertag is the current tag at resolution time.
type PlayerIdentity struct {
	Gamertag string `json:"gamertag"`
	XUID     string `json:"xuid"`
}

// Resolver performs the network resolution on a cache miss.
type Resolver interface {
	// ResolveGamertag resolves a gamertag to its XUID.
	ResolveGamertag(ctx context.Context, gamertag string) (string, error)

	// ResolveXUID resolves a XUID back to its current gamertag.
	ResolveXUID(ctx context.Context, xuid string) (string, error)
}

// Store persists the identity mapping across process restarts. Load is
// invoked at process start, Save at stop; the cache never touches the store
// in between.
type Store interface {
	Load(ctx context.Context) (map[string]PlayerIdentity, error)
	Save(ctx context.Context, identities map[string]PlayerIdentity) error
}

// Cache is the identity resolution cache. Safe for concurrent use; the
// single-writer-per-key discipline is enforced by the singleflight group,
// which guards only the check-or-register step, never the network call.
type Cache struct {
	mu sync.RWMutex
	// byTag maps lowercased gamertag to identity. Historical tags may alias
	// the same XUID after a tag change; each tag has one current mapping.
	byTag map[string]PlayerIdentity
	// byXUID maps XUID to the identity carrying its current tag.
	byXUID map[string]PlayerIdentity

	group    singleflight.Group
	resolver Resolver
	store    Store
	logger   zerolog.Logger
}

// NewCache creates an identity cache backed by the given resolver.
// store may be nil, in which case the mapping lives only for the process.
func NewCache(resolver Resolver, store Store) *Cache {
	return &Cache{
		byTag:    make(map[string]PlayerIdentity),
		byXUID:   make(map[string]PlayerIdentity),
		resolver: resolver,
		store:    store,
		logger:   logging.NewLogger("identity-cache"),
	}
}

func tagKey(gamertag string) string {
	return strings.ToLower(gamertag)
}

// Resolve returns the identity for a gamertag, consulting the cache before
// the network. Concurrent misses for the same tag trigger at most one
// resolution; every waiter receives the same result.
func (c *Cache) Resolve(ctx context.Context, gamertag string) (PlayerIdentity, error) {
	key := tagKey(gamertag)

	c.mu.RLock()
	id, ok := c.byTag[key]
	c.mu.RUnlock()
	if ok {
		identityCacheHits.Inc()
		c.logger.Debug().Str("gamertag", gamertag).Str("xuid", id.XUID).Msg("Cache hit")
		return id, nil
	}

	identityCacheMisses.Inc()

	result, err, shared := c.group.Do("tag:"+key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent resolution may have
		// landed between the read above and this call.
		c.mu.RLock()
		id, ok := c.byTag[key]
		c.mu.RUnlock()
		if ok {
			return id, nil
		}

		xuid, err := c.resolver.ResolveGamertag(ctx, gamertag)
		if err != nil {
			return PlayerIdentity{}, err
		}

		resolved := PlayerIdentity{Gamertag: gamertag, XUID: xuid}
		c.Insert(resolved)
		return resolved, nil
	})
	if err != nil {
		return PlayerIdentity{}, err
	}

	if shared {
		c.logger.Debug().Str("gamertag", gamertag).Msg("Resolution shared with concurrent caller")
	}

	return result.(PlayerIdentity), nil
}

// ResolveXUID returns the identity for a XUID, consulting the cache first.
// Used by the populate workflow to warm the cache with opponents.
func (c *Cache) ResolveXUID(ctx context.Context, xuid string) (PlayerIdentity, error) {
	c.mu.RLock()
	id, ok := c.byXUID[xuid]
	c.mu.RUnlock()
	if ok {
		identityCacheHits.Inc()
		return id, nil
	}

	identityCacheMisses.Inc()

	result, err, _ := c.group.Do("xuid:"+xuid, func() (interface{}, error) {
		c.mu.RLock()
		id, ok := c.byXUID[xuid]
		c.mu.RUnlock()
		if ok {
			return id, nil
		}

		gamertag, err := c.resolver.ResolveXUID(ctx, xuid)
		if err != nil {
			return PlayerIdentity{}, err
		}

		resolved := PlayerIdentity{Gamertag: gamertag, XUID: xuid}
		c.Insert(resolved)
		return resolved, nil
	})
	if err != nil {
		return PlayerIdentity{}, err
	}

	return result.(PlayerIdentity), nil
}

// Insert records an identity. When the XUID already has a different current
// tag, the old tag mapping is kept as a historical alias and the current tag
// moves to the new value.
func (c *Cache) Insert(id PlayerIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byTag[tagKey(id.Gamertag)] = id
	c.byXUID[id.XUID] = id
	identityCacheSize.Set(float64(len(c.byXUID)))
}

// ContainsXUID reports whether the XUID is already cached.
func (c *Cache) ContainsXUID(xuid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byXUID[xuid]
	return ok
}

// Len returns the number of distinct cached identities.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byXUID)
}

// Restore loads the persisted mapping into the cache. A nil store is a no-op.
// Called once at process start, before any resolution traffic.
func (c *Cache) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	identities, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for key, id := range identities {
		c.byTag[key] = id
		c.byXUID[id.XUID] = id
	}
	size := len(c.byXUID)
	c.mu.Unlock()

	identityCacheSize.Set(float64(size))
	c.logger.Info().Int("entries", size).Msg("Identity cache restored")
	return nil
}

// Persist writes the current mapping to the store. A nil store is a no-op.
// Called once at process stop.
func (c *Cache) Persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.mu.RLock()
	snapshot := make(map[string]PlayerIdentity, len(c.byTag))
	for key, id := range c.byTag {
		snapshot[key] = id
	}
	c.mu.RUnlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		return err
	}

	c.logger.Info().Int("entries", len(snapshot)).Msg("Identity cache persisted")
	return nil
}

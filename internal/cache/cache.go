// Package cache caches image service metadata and query responses across
// runs. An in-process LRU sits in front of an optional Redis tier.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/clipship/internal/core/observability"
)

// Store is what the image service client needs from a cache. A miss is
// ok=false with a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Remote is the shared tier; redisstore.Client satisfies it.
type Remote interface {
	Store
	Close() error
}

type entry struct {
	val     []byte
	expires time.Time
}

// Tiered answers from the LRU first, then the remote tier, and fills the
// LRU on remote hits. Remote errors are logged and treated as misses so a
// flaky cache never fails a run.
type Tiered struct {
	logger    *slog.Logger
	mu        sync.Mutex
	local     *lru.Cache[string, entry]
	remote    Store
	opTimeout time.Duration
	now       func() time.Time
}

func NewTiered(logger *slog.Logger, size int, remote Store, opTimeout time.Duration) *Tiered {
	if size <= 0 {
		size = 64
	}
	c, _ := lru.New[string, entry](size)
	return &Tiered{
		logger:    logger,
		local:     c,
		remote:    remote,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	t.mu.Lock()
	e, ok := t.local.Get(key)
	if ok && !e.expires.IsZero() && t.now().After(e.expires) {
		t.local.Remove(key)
		ok = false
	}
	t.mu.Unlock()
	if ok {
		observability.IncCacheHit("lru")
		return e.val, true, nil
	}
	observability.IncCacheMiss("lru")

	if t.remote == nil {
		return nil, false, nil
	}
	rctx, cancel := t.withTimeout(ctx)
	defer cancel()
	val, ok, err := t.remote.Get(rctx, key)
	if err != nil {
		t.logger.Warn("cache remote get failed", "key", key, "err", err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	t.putLocal(key, val, 0)
	return val, true, nil
}

func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	t.putLocal(key, val, ttl)
	if t.remote == nil {
		return nil
	}
	rctx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.remote.Set(rctx, key, val, ttl); err != nil {
		t.logger.Warn("cache remote set failed", "key", key, "err", err)
	}
	return nil
}

func (t *Tiered) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local.Len()
}

func (t *Tiered) putLocal(key string, val []byte, ttl time.Duration) {
	e := entry{val: val}
	if ttl > 0 {
		e.expires = t.now().Add(ttl)
	}
	t.mu.Lock()
	t.local.Add(key, e)
	t.mu.Unlock()
}

func (t *Tiered) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.opTimeout)
}

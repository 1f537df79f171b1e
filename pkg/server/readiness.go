package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	readyCacheKey    = "store"
	readyPingTimeout = 5 * time.Second
)

type readiness struct {
	err       error
	checkedAt time.Time
}

// readinessProbe pings the store at most once per TTL and shares the outcome
// between concurrent probes.
type readinessProbe struct {
	log   *slog.Logger
	cfg   Config
	cache *ttlcache.Cache[string, readiness]
	mu    sync.Mutex
}

func newReadinessProbe(log *slog.Logger, cfg Config) *readinessProbe {
	return &readinessProbe{
		log: log,
		cfg: cfg,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, readiness](cfg.ReadyCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, readiness](),
		),
	}
}

func (p *readinessProbe) check(ctx context.Context) readiness {
	if item := p.cache.Get(readyCacheKey); item != nil {
		return item.Value()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if item := p.cache.Get(readyCacheKey); item != nil {
		return item.Value()
	}

	// Detached from the caller; the result is cached for every probe.
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readyPingTimeout)
	defer cancel()
	res := readiness{err: p.cfg.Store.Ping(pingCtx), checkedAt: p.cfg.Clock.Now()}
	if res.err != nil {
		p.log.Warn("server: store ping failed", "error", res.err)
	}
	p.cache.Set(readyCacheKey, res, ttlcache.DefaultTTL)
	return res
}

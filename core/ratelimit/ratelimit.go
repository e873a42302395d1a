// Package ratelimit throttles API callers with per-client token buckets.
// Clients are keyed by network address plus owner user id, so one user
// hammering the API cannot exhaust another's budget from the same NAT, and
// one address cannot spread load across invented user ids indefinitely:
// the limiter cache itself is bounded.
package ratelimit

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	apperr "github.com/movegrid/movegrid/core/errors"
)

// Tier selects which budget applies to a request.
type Tier int

const (
	// TierStandard covers routine traffic: messaging, listing, history.
	TierStandard Tier = iota

	// TierSensitive covers agent create and remove, which are far more
	// expensive and abuse-prone than a chat turn.
	TierSensitive
)

const (
	DefaultRequestsPerSecond          = 10.0
	DefaultBurst                      = 20
	DefaultSensitiveRequestsPerSecond = 1.0
	DefaultSensitiveBurst             = 3
	DefaultMaxKeys                    = 4096
)

// Config tunes the limiter; zero values take defaults.
type Config struct {
	RequestsPerSecond          float64
	Burst                      int
	SensitiveRequestsPerSecond float64
	SensitiveBurst             int
	MaxKeys                    int
}

// Limiter enforces two budgets over composite client keys.
type Limiter struct {
	standard  *tierLimiter
	sensitive *tierLimiter
}

// New builds a limiter. The per-key bucket caches are bounded LRUs; a key
// evicted under pressure simply starts over with a full bucket.
func New(cfg Config) (*Limiter, error) {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.SensitiveRequestsPerSecond <= 0 {
		cfg.SensitiveRequestsPerSecond = DefaultSensitiveRequestsPerSecond
	}
	if cfg.SensitiveBurst <= 0 {
		cfg.SensitiveBurst = DefaultSensitiveBurst
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}

	standard, err := newTierLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst, cfg.MaxKeys)
	if err != nil {
		return nil, err
	}
	sensitive, err := newTierLimiter(rate.Limit(cfg.SensitiveRequestsPerSecond), cfg.SensitiveBurst, cfg.MaxKeys)
	if err != nil {
		return nil, err
	}
	return &Limiter{standard: standard, sensitive: sensitive}, nil
}

// Allow reports whether a request from (clientAddr, ownerID) may proceed
// under the given tier. Missing owner ids collapse to the address alone.
func (l *Limiter) Allow(tier Tier, clientAddr, ownerID string) bool {
	key := clientAddr + "|" + ownerID
	if tier == TierSensitive {
		return l.sensitive.allow(key)
	}
	return l.standard.allow(key)
}

// Check returns a typed error when the request is over budget, for direct
// mapping to an HTTP 429.
func (l *Limiter) Check(tier Tier, clientAddr, ownerID string) error {
	if l.Allow(tier, clientAddr, ownerID) {
		return nil
	}
	return apperr.New(apperr.KindRateLimited, "ratelimit.Check", "rate limit exceeded")
}

type tierLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

func newTierLimiter(limit rate.Limit, burst, maxKeys int) (*tierLimiter, error) {
	buckets, err := lru.New[string, *rate.Limiter](maxKeys)
	if err != nil {
		return nil, err
	}
	return &tierLimiter{limit: limit, burst: burst, buckets: buckets}, nil
}

func (t *tierLimiter) allow(key string) bool {
	// Get-or-create under one lock so racing requests share a bucket.
	t.mu.Lock()
	bucket, ok := t.buckets.Get(key)
	if !ok {
		bucket = rate.NewLimiter(t.limit, t.burst)
		t.buckets.Add(key, bucket)
	}
	t.mu.Unlock()

	return bucket.Allow()
}

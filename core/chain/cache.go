package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 1 << 20
	defaultBufferItems = 64
	defaultBalanceTTL  = 5 * time.Second
)

// BalanceCache memoizes balance reads across signers for a short TTL so
// status endpoints polled by UIs do not hammer the fullnode. Writes
// (transfers) bypass the cache entirely; a few seconds of staleness on reads
// is acceptable, a cached transfer is not.
type BalanceCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// BalanceCacheConfig tunes the cache; zero values take defaults.
type BalanceCacheConfig struct {
	NumCounters int64
	MaxCost     int64
	TTL         time.Duration
}

// NewBalanceCache builds the shared read cache.
func NewBalanceCache(cfg BalanceCacheConfig) (*BalanceCache, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaultMaxCost
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultBalanceTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &BalanceCache{cache: cache, ttl: cfg.TTL}, nil
}

// Close releases the cache.
func (c *BalanceCache) Close() {
	c.cache.Close()
}

// WrapSigner decorates a signer with cached balance reads. All other
// operations pass through untouched.
func (c *BalanceCache) WrapSigner(s Signer) Signer {
	return &cachedSigner{inner: s, cache: c}
}

type cachedSigner struct {
	inner Signer
	cache *BalanceCache
}

func (s *cachedSigner) Address() string { return s.inner.Address() }

func (s *cachedSigner) NativeBalance(ctx context.Context) (uint64, error) {
	key := fmt.Sprintf("apt:%s", s.inner.Address())
	if v, ok := s.cache.cache.Get(key); ok {
		return v.(uint64), nil
	}

	amount, err := s.inner.NativeBalance(ctx)
	if err != nil {
		return 0, err
	}
	s.cache.cache.SetWithTTL(key, amount, 1, s.cache.ttl)
	return amount, nil
}

func (s *cachedSigner) AssetBalance(ctx context.Context, asset string) (uint64, error) {
	key := fmt.Sprintf("fa:%s:%s", s.inner.Address(), asset)
	if v, ok := s.cache.cache.Get(key); ok {
		return v.(uint64), nil
	}

	amount, err := s.inner.AssetBalance(ctx, asset)
	if err != nil {
		return 0, err
	}
	s.cache.cache.SetWithTTL(key, amount, 1, s.cache.ttl)
	return amount, nil
}

func (s *cachedSigner) Transfer(ctx context.Context, to string, amount uint64, asset string) (string, error) {
	hash, err := s.inner.Transfer(ctx, to, amount, asset)
	if err != nil {
		return "", err
	}

	// The transfer changed the sender's balance; drop stale reads now
	// rather than waiting out the TTL.
	s.cache.cache.Del(fmt.Sprintf("apt:%s", s.inner.Address()))
	if asset != "" {
		s.cache.cache.Del(fmt.Sprintf("fa:%s:%s", s.inner.Address(), asset))
	}
	return hash, nil
}

func (s *cachedSigner) VerifySignature(message, signature []byte) (bool, error) {
	return s.inner.VerifySignature(message, signature)
}

var _ Signer = (*cachedSigner)(nil)

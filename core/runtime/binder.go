// Package runtime lazily materializes the two handles an agent record needs
// before it can serve a request: the chain signer derived from its secret,
// and the conversational runtime built on top of that signer. Binding is
// idempotent and races to first-bind resolve to a single construction.
package runtime

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/movegrid/movegrid/core/chain"
	apperr "github.com/movegrid/movegrid/core/errors"
	"github.com/movegrid/movegrid/core/providers"
	"github.com/movegrid/movegrid/core/registry"
)

// Binder constructs and caches runtime handles on agent records.
type Binder struct {
	chain   chain.Runtime
	builder providers.Builder
	cache   *chain.BalanceCache

	// group deduplicates concurrent first binds across goroutines that
	// reach the record before either takes its bind lock.
	group singleflight.Group
}

// New builds a binder. cache may be nil to disable balance caching.
func New(chainRuntime chain.Runtime, builder providers.Builder, cache *chain.BalanceCache) *Binder {
	return &Binder{chain: chainRuntime, builder: builder, cache: cache}
}

// EnsureSigner returns the record's chain signer, constructing and caching
// it on first use. Construction is expensive (network handshake), so
// concurrent first callers share one construction: the losers of the race
// find the cached handle instead of building a duplicate.
func (b *Binder) EnsureSigner(ctx context.Context, record *registry.AgentRecord) (chain.Signer, error) {
	if signer := record.Signer(); signer != nil {
		return signer, nil
	}

	// The construction is shared by every waiter, so it must not die with
	// the first caller's request: run it detached from cancellation and
	// let the chain client's own timeouts bound it.
	bindCtx := context.WithoutCancel(ctx)

	v, err, _ := b.group.Do("signer:"+record.ID(), func() (any, error) {
		record.BindLock().Lock()
		defer record.BindLock().Unlock()

		// Re-check under the lock: another caller may have completed the
		// bind while we queued.
		if signer := record.Signer(); signer != nil {
			return signer, nil
		}

		signer, err := b.chain.BindSigner(bindCtx, record.Secret())
		if err != nil {
			if apperr.KindOf(err) != apperr.KindUnknown {
				return nil, err
			}
			return nil, apperr.Wrap(apperr.KindRuntimeInit, "binder.EnsureSigner", err)
		}

		if b.cache != nil {
			signer = b.cache.WrapSigner(signer)
		}
		record.SetSigner(signer)
		return signer, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(chain.Signer), nil
}

// EnsureConvRuntime returns the record's conversational runtime, binding the
// signer first if necessary. The same single-construction discipline
// applies.
func (b *Binder) EnsureConvRuntime(ctx context.Context, record *registry.AgentRecord) (providers.ConvRuntime, error) {
	if rt := record.ConvRuntime(); rt != nil {
		return rt, nil
	}

	signer, err := b.EnsureSigner(ctx, record)
	if err != nil {
		return nil, err
	}

	buildCtx := context.WithoutCancel(ctx)

	v, err, _ := b.group.Do("conv:"+record.ID(), func() (any, error) {
		record.BindLock().Lock()
		defer record.BindLock().Unlock()

		if rt := record.ConvRuntime(); rt != nil {
			return rt, nil
		}

		rt, err := b.builder.Build(buildCtx, signer, record.ID())
		if err != nil {
			if apperr.KindOf(err) != apperr.KindUnknown {
				return nil, err
			}
			return nil, apperr.Wrap(apperr.KindRuntimeInit, "binder.EnsureConvRuntime", err)
		}

		record.SetConvRuntime(rt)
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(providers.ConvRuntime), nil
}

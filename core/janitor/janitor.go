// Package janitor evicts agent records left inactive beyond a configured
// age. It runs on a fixed interval and on demand, and never holds the
// registry lock for the duration of a scan: candidates are snapshotted
// first, then removed one by one through the ordinary removal path.
package janitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/movegrid/movegrid/core/registry"
)

const (
	DefaultMaxAge   = 24 * time.Hour
	DefaultInterval = 10 * time.Minute
)

// Store is the slice of the registry the janitor needs: a snapshot of all
// records and per-record removal.
type Store interface {
	ListAll() []registry.Summary
	Remove(ctx context.Context, agentID string) (bool, error)
}

// Janitor sweeps stale agents out of the registry.
type Janitor struct {
	registry Store
	maxAge   atomic.Int64
	interval time.Duration
	logger   *slog.Logger

	// now is swapped in tests to pin the sweep cutoff.
	now func() time.Time
}

// Config tunes the janitor; zero values take defaults.
type Config struct {
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

// New builds a janitor over the registry.
func New(reg Store, cfg Config) *Janitor {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	j := &Janitor{
		registry: reg,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	j.maxAge.Store(int64(cfg.MaxAge))
	return j
}

// MaxAge returns the current staleness threshold for interval sweeps.
func (j *Janitor) MaxAge() time.Duration {
	return time.Duration(j.maxAge.Load())
}

// SetMaxAge retunes the threshold; the next interval sweep uses it.
// Non-positive values are ignored.
func (j *Janitor) SetMaxAge(maxAge time.Duration) {
	if maxAge > 0 {
		j.maxAge.Store(int64(maxAge))
	}
}

// Sweep removes every record whose last activity is strictly older than
// now - maxAge and returns the count removed. A record exactly at the
// boundary survives. A failure removing one record is logged and the sweep
// continues; the last such error is returned after the full pass.
func (j *Janitor) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := j.now().Add(-maxAge)

	// Snapshot, then remove: Remove takes the registry write lock per
	// record, so routing never stalls behind a full scan.
	var stale []string
	for _, summary := range j.registry.ListAll() {
		if summary.LastActiveAt.Before(cutoff) {
			stale = append(stale, summary.AgentID)
		}
	}

	removed := 0
	var lastErr error
	for _, agentID := range stale {
		ok, err := j.registry.Remove(ctx, agentID)
		if err != nil {
			j.logger.Error("sweep failed to remove agent", "agent_id", agentID, "error", err)
			lastErr = err
		}
		// A failed cascade can still have deleted the record; count what
		// actually left the registry.
		if ok {
			removed++
		}
	}

	if removed > 0 {
		j.logger.Info("liveness sweep complete", "removed", removed, "max_age", maxAge)
	}
	return removed, lastErr
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx, j.MaxAge()); err != nil {
				j.logger.Error("interval sweep finished with errors", "error", err)
			}
		}
	}
}

package janitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movegrid/movegrid/core/identity"
	"github.com/movegrid/movegrid/core/registry"
)

// fakeStore lets tests place lastActiveAt anywhere in the past, which the
// real registry deliberately forbids.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]registry.Summary
	failIDs map[string]bool
	removed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]registry.Summary),
		failIDs: make(map[string]bool),
	}
}

func (s *fakeStore) add(agentID string, lastActive time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[agentID] = registry.Summary{
		AgentID:      agentID,
		OwnerID:      "userA",
		LastActiveAt: lastActive,
	}
}

func (s *fakeStore) ListAll() []registry.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]registry.Summary, 0, len(s.records))
	for _, summary := range s.records {
		out = append(out, summary)
	}
	return out
}

func (s *fakeStore) Remove(_ context.Context, agentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[agentID]; !ok {
		return false, nil
	}
	delete(s.records, agentID)
	s.removed = append(s.removed, agentID)
	if s.failIDs[agentID] {
		// The record is gone but its conversation cascade failed, the
		// same shape the real registry reports.
		return true, errors.New("cascade failed")
	}
	return true, nil
}

func TestSweepRemovesOnlyStrictlyOlder(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	store.add("agent-25h", now.Add(-25*time.Hour))
	store.add("agent-1h", now.Add(-time.Hour))

	j := New(store, Config{})
	removed, err := j.Sweep(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"agent-25h"}, store.removed)
	assert.Len(t, store.ListAll(), 1)
}

func TestSweepBoundaryIsExclusive(t *testing.T) {
	store := newFakeStore()
	maxAge := 24 * time.Hour
	now := time.Now().UTC()

	// Pin the sweep clock so "exactly at the boundary" is exact.
	j := New(store, Config{})
	j.now = func() time.Time { return now }

	// Precisely maxAge old: not strictly older than the cutoff, survives.
	store.add("agent-exact", now.Add(-maxAge))
	// One microsecond older: removed.
	store.add("agent-past", now.Add(-maxAge).Add(-time.Microsecond))

	removed, err := j.Sweep(context.Background(), maxAge)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"agent-past"}, store.removed)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	store := newFakeStore()
	old := time.Now().UTC().Add(-48 * time.Hour)
	store.add("agent-a", old)
	store.add("agent-b", old)
	store.add("agent-c", old)
	store.failIDs["agent-b"] = true

	j := New(store, Config{})
	removed, err := j.Sweep(context.Background(), 24*time.Hour)

	// One cascade failed but the sweep finished the pass, and the record
	// the failing cascade belonged to still left the registry.
	require.Error(t, err)
	assert.Equal(t, 3, removed)
	assert.Empty(t, store.ListAll())
}

func TestSetMaxAgeRetunesIntervalSweeps(t *testing.T) {
	store := newFakeStore()
	store.add("agent-2h", time.Now().UTC().Add(-2*time.Hour))

	j := New(store, Config{MaxAge: 24 * time.Hour, Interval: 20 * time.Millisecond})
	require.Equal(t, 24*time.Hour, j.MaxAge())

	// Ignored: the threshold must stay positive.
	j.SetMaxAge(0)
	require.Equal(t, 24*time.Hour, j.MaxAge())

	j.SetMaxAge(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	// The interval loop picks up the retuned threshold without a restart.
	assert.Eventually(t, func() bool {
		return len(store.ListAll()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSweepEmptyRegistry(t *testing.T) {
	j := New(newFakeStore(), Config{})
	removed, err := j.Sweep(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRunSweepsOnInterval(t *testing.T) {
	store := newFakeStore()
	store.add("agent-old", time.Now().UTC().Add(-48*time.Hour))

	j := New(store, Config{MaxAge: 24 * time.Hour, Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(store.ListAll()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

// The janitor against the real registry: stale records found by activity
// snapshot are removed through the ordinary cascade path.
func TestSweepAgainstRealRegistryLeavesFreshAgents(t *testing.T) {
	reg := newTestRegistry(t)
	fresh, err := reg.Create("userA", "secret", "Fresh")
	require.NoError(t, err)

	j := New(reg, Config{})
	removed, err := j.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Zero(t, removed)
	_, err = reg.Get(fresh.AgentID)
	assert.NoError(t, err)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(identity.UUIDGenerator{}, nil, nil)
}

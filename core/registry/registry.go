// Package registry is the in-process source of truth for agent records. It
// owns the primary agentId map and the owner index, keeps them consistent
// under one lock, and cascades conversation deletion through a collaborator
// interface so removal always leaves no orphaned state.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/movegrid/movegrid/core/conversation"
	apperr "github.com/movegrid/movegrid/core/errors"
	"github.com/movegrid/movegrid/core/identity"
)

// Cascade removes an agent's dependent state when the agent is removed.
type Cascade interface {
	DeleteForAgent(ctx context.Context, ref conversation.EntryRef) error
}

// Registry maps agent identifiers to records and maintains the secondary
// owner index in lockstep. All multi-step operations hold mu so a reader can
// never observe a record present in one map and absent from the other.
type Registry struct {
	ids     identity.Generator
	cascade Cascade
	logger  *slog.Logger

	mu      sync.RWMutex
	records map[string]*AgentRecord
	byOwner map[string]map[string]struct{}
}

// New builds an empty registry. cascade may be nil in tests that do not
// exercise removal.
func New(ids identity.Generator, cascade Cascade, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		ids:     ids,
		cascade: cascade,
		logger:  logger,
		records: make(map[string]*AgentRecord),
		byOwner: make(map[string]map[string]struct{}),
	}
}

// Create allocates a fresh identifier, inserts an unbound record into both
// maps, and returns its summary.
func (g *Registry) Create(ownerID, secret, displayName string) (Summary, error) {
	const op = "registry.Create"

	if ownerID == "" {
		return Summary{}, apperr.New(apperr.KindInvalidInput, op, "owner user id is required")
	}
	if secret == "" {
		return Summary{}, apperr.New(apperr.KindInvalidInput, op, "secret material is required")
	}

	id := g.ids.NewAgentID()
	if displayName == "" {
		displayName = identity.PlaceholderName(id)
	}

	now := time.Now().UTC()
	record := &AgentRecord{
		id:           id,
		ownerID:      ownerID,
		secret:       secret,
		createdAt:    now,
		displayName:  displayName,
		lastActiveAt: now,
	}

	g.mu.Lock()
	g.records[id] = record
	owned, ok := g.byOwner[ownerID]
	if !ok {
		owned = make(map[string]struct{})
		g.byOwner[ownerID] = owned
	}
	owned[id] = struct{}{}
	g.mu.Unlock()

	g.logger.Info("agent created", "agent_id", id, "owner_id", ownerID)
	return record.Summarize(), nil
}

// Get returns the record for an agent identifier.
func (g *Registry) Get(agentID string) (*AgentRecord, error) {
	g.mu.RLock()
	record, ok := g.records[agentID]
	g.mu.RUnlock()

	if !ok {
		return nil, apperr.New(apperr.KindAgentNotFound, "registry.Get", "agent does not exist")
	}
	return record, nil
}

// ListByOwner returns summaries for every agent the owner has, oldest first.
// An owner with no agents gets an empty slice, not an error.
func (g *Registry) ListByOwner(ownerID string) []Summary {
	g.mu.RLock()
	owned := g.byOwner[ownerID]
	records := make([]*AgentRecord, 0, len(owned))
	for id := range owned {
		if record, ok := g.records[id]; ok {
			records = append(records, record)
		}
	}
	g.mu.RUnlock()

	return summarize(records)
}

// ListAll returns summaries for every record. Administrative.
func (g *Registry) ListAll() []Summary {
	g.mu.RLock()
	records := make([]*AgentRecord, 0, len(g.records))
	for _, record := range g.records {
		records = append(records, record)
	}
	g.mu.RUnlock()

	return summarize(records)
}

func summarize(records []*AgentRecord) []Summary {
	out := make([]Summary, 0, len(records))
	for _, record := range records {
		out = append(out, record.Summarize())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Rename updates the display name and returns the updated summary.
func (g *Registry) Rename(agentID, newDisplayName string) (Summary, error) {
	const op = "registry.Rename"

	if newDisplayName == "" {
		return Summary{}, apperr.New(apperr.KindInvalidInput, op, "display name is required")
	}

	record, err := g.Get(agentID)
	if err != nil {
		return Summary{}, err
	}

	record.setDisplayName(newDisplayName)
	return record.Summarize(), nil
}

// TouchActivity updates lastActiveAt to now. Silently no-ops if the agent no
// longer exists; a race between routing and removal is not an error.
func (g *Registry) TouchActivity(agentID string) {
	g.mu.RLock()
	record, ok := g.records[agentID]
	g.mu.RUnlock()

	if ok {
		record.touch(time.Now().UTC())
	}
}

// Remove deletes one agent from both maps and cascades its conversation.
// Returns true if a record was deleted.
func (g *Registry) Remove(ctx context.Context, agentID string) (bool, error) {
	g.mu.Lock()
	record, ok := g.records[agentID]
	if ok {
		g.deleteLocked(record)
	}
	g.mu.Unlock()

	if !ok {
		return false, nil
	}

	if err := g.runCascade(ctx, record); err != nil {
		return true, err
	}

	g.logger.Info("agent removed", "agent_id", agentID, "owner_id", record.OwnerID())
	return true, nil
}

// RemoveAllForOwner deletes every agent the owner has, with the same cascade
// per agent, and returns the count removed.
func (g *Registry) RemoveAllForOwner(ctx context.Context, ownerID string) (int, error) {
	g.mu.Lock()
	owned := g.byOwner[ownerID]
	doomed := make([]*AgentRecord, 0, len(owned))
	for id := range owned {
		if record, ok := g.records[id]; ok {
			doomed = append(doomed, record)
			g.deleteLocked(record)
		}
	}
	g.mu.Unlock()

	var firstErr error
	for _, record := range doomed {
		if err := g.runCascade(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(doomed) > 0 {
		g.logger.Info("agents removed for owner", "owner_id", ownerID, "count", len(doomed))
	}
	return len(doomed), firstErr
}

// deleteLocked removes the record from both maps. Caller holds mu. An owner
// index entry left empty is deleted, never left dangling.
func (g *Registry) deleteLocked(record *AgentRecord) {
	delete(g.records, record.id)
	if owned, ok := g.byOwner[record.ownerID]; ok {
		delete(owned, record.id)
		if len(owned) == 0 {
			delete(g.byOwner, record.ownerID)
		}
	}
}

func (g *Registry) runCascade(ctx context.Context, record *AgentRecord) error {
	if g.cascade == nil {
		return nil
	}
	ref := conversation.EntryRef{OwnerID: record.ownerID, AgentID: record.id}
	if err := g.cascade.DeleteForAgent(ctx, ref); err != nil {
		g.logger.Error("conversation cascade failed", "agent_id", record.id, "error", err)
		return err
	}
	return nil
}

// Count returns the number of live records.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

package registry

import (
	"sync"
	"time"

	"github.com/movegrid/movegrid/core/chain"
	"github.com/movegrid/movegrid/core/providers"
)

// AgentRecord is the authoritative state for one agent: immutable identity,
// the write-only secret, and the lazily bound runtime handles. Records are
// shared between the registry, binder, and router; all mutable fields are
// guarded by mu.
type AgentRecord struct {
	id        string
	ownerID   string
	secret    string
	createdAt time.Time

	mu           sync.RWMutex
	displayName  string
	lastActiveAt time.Time
	signer       chain.Signer
	convRuntime  providers.ConvRuntime

	// bindMu serializes first-bind construction so concurrent callers
	// converge on a single runtime instance (see runtime.Binder).
	bindMu sync.Mutex
}

// ID returns the immutable agent identifier.
func (r *AgentRecord) ID() string { return r.id }

// OwnerID returns the owning user's identifier.
func (r *AgentRecord) OwnerID() string { return r.ownerID }

// Secret returns the stored secret material. Callers must never place it in
// logs, errors, or read projections.
func (r *AgentRecord) Secret() string { return r.secret }

// CreatedAt returns the record creation time.
func (r *AgentRecord) CreatedAt() time.Time { return r.createdAt }

// DisplayName returns the current display name.
func (r *AgentRecord) DisplayName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.displayName
}

func (r *AgentRecord) setDisplayName(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.displayName = name
}

// LastActiveAt returns the last successful routing time.
func (r *AgentRecord) LastActiveAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActiveAt
}

func (r *AgentRecord) touch(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.After(r.lastActiveAt) {
		r.lastActiveAt = now
	}
}

// Signer returns the bound chain signer, or nil before first bind.
func (r *AgentRecord) Signer() chain.Signer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.signer
}

// SetSigner caches the bound signer on the record.
func (r *AgentRecord) SetSigner(s chain.Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signer = s
}

// ConvRuntime returns the bound conversational runtime, or nil before first
// bind.
func (r *AgentRecord) ConvRuntime() providers.ConvRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.convRuntime
}

// SetConvRuntime caches the bound conversational runtime. It panics if the
// signer is not bound yet: binding order is a registry invariant, not a
// caller convention.
func (r *AgentRecord) SetConvRuntime(rt providers.ConvRuntime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.signer == nil {
		panic("registry: conversational runtime bound before chain signer")
	}
	r.convRuntime = rt
}

// BindLock serializes runtime construction for this record.
func (r *AgentRecord) BindLock() *sync.Mutex { return &r.bindMu }

// Summary is the read projection of a record. It never includes the secret.
type Summary struct {
	AgentID      string    `json:"agent_id"`
	OwnerID      string    `json:"owner_id"`
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Bound        bool      `json:"bound"`
	Address      string    `json:"address,omitempty"`
}

// Summarize builds the read projection under the record lock.
func (r *AgentRecord) Summarize() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Summary{
		AgentID:      r.id,
		OwnerID:      r.ownerID,
		DisplayName:  r.displayName,
		CreatedAt:    r.createdAt,
		LastActiveAt: r.lastActiveAt,
		Bound:        r.signer != nil,
	}
	if r.signer != nil {
		s.Address = r.signer.Address()
	}
	return s
}

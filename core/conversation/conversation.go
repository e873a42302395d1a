// Package conversation maintains the ordered message log kept per
// (owner, agent) pair. Insertion order is the dialogue order fed back to the
// conversational runtime, so implementations must never reorder entries.
package conversation

import (
	"context"
	"time"

	apperr "github.com/movegrid/movegrid/core/errors"
)

// Role identifies the author of a message. It is a closed set; Validate
// rejects anything outside it at the store boundary.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Validate reports whether the role is one of the three permitted values.
func (r Role) Validate() error {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	default:
		return apperr.New(apperr.KindInvalidInput, "conversation.Role",
			"role must be one of user, assistant, system")
	}
}

// Message is a single turn in a conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryRef identifies one conversation log.
type EntryRef struct {
	OwnerID string
	AgentID string
}

// Store is the persistence contract for conversation logs. All operations
// are safe for concurrent use; append ordering per ref is the caller's
// responsibility (the router serializes turns per agent).
type Store interface {
	// GetOrCreate ensures a log exists for the ref and returns it.
	GetOrCreate(ctx context.Context, ref EntryRef) (EntryRef, error)

	// Append adds one message with a server-assigned timestamp. The role is
	// validated; unknown roles fail with an invalid-input error.
	Append(ctx context.Context, ref EntryRef, role Role, content string) error

	// ReadRecent returns at most limit messages taken from the tail of the
	// log, oldest-first among themselves. It never mutates the stored log.
	ReadRecent(ctx context.Context, ref EntryRef, limit int) ([]Message, error)

	// DeleteForAgent removes the log for the ref. Idempotent no-op if the
	// log does not exist.
	DeleteForAgent(ctx context.Context, ref EntryRef) error

	// DeleteOlderThan removes logs whose most recent message predates the
	// cutoff. Administrative sweep; returns the number of logs removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases store resources.
	Close() error
}

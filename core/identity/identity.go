// Package identity produces the opaque identifiers handed out for newly
// created agents.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

const agentPrefix = "agent"

// Generator allocates collision-resistant agent identifiers. Implementations
// must be safe for concurrent use.
type Generator interface {
	NewAgentID() string
}

// UUIDGenerator generates prefixed random UUIDs.
type UUIDGenerator struct{}

// NewAgentID returns a fresh identifier of the form "agent-<uuid>".
func (UUIDGenerator) NewAgentID() string {
	return fmt.Sprintf("%s-%s", agentPrefix, uuid.NewString())
}

// PlaceholderName derives a default display name from an agent identifier,
// used when the caller creates an agent without naming it.
func PlaceholderName(agentID string) string {
	const short = 8
	suffix := agentID
	if len(agentID) > len(agentPrefix)+1+short {
		suffix = agentID[len(agentPrefix)+1 : len(agentPrefix)+1+short]
	}
	return fmt.Sprintf("Agent %s", suffix)
}

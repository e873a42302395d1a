// Package router coordinates one chat turn: look up the agent, ensure its
// runtimes are bound, append the user message, invoke the conversational
// runtime with a bounded history window, and persist the reply. The router
// owns no state of its own; it borrows the registry, binder, and
// conversation store per call.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/movegrid/movegrid/core/conversation"
	apperr "github.com/movegrid/movegrid/core/errors"
	"github.com/movegrid/movegrid/core/registry"
	"github.com/movegrid/movegrid/core/runtime"
)

// DefaultHistoryWindow bounds how many recent messages are handed to the
// conversational runtime per turn.
const DefaultHistoryWindow = 10

// Router routes inbound messages to agent runtimes.
type Router struct {
	registry      *registry.Registry
	binder        *runtime.Binder
	conversations conversation.Store
	window        atomic.Int64
	logger        *slog.Logger

	// turnLocks serializes appends per agent so concurrent messages to the
	// same agent keep arrival order in the log. Different agents proceed
	// independently.
	turnMu    sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// Config configures a Router.
type Config struct {
	// HistoryWindow overrides DefaultHistoryWindow when positive.
	HistoryWindow int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New builds a router over its collaborators.
func New(reg *registry.Registry, binder *runtime.Binder, store conversation.Store, cfg Config) *Router {
	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		registry:      reg,
		binder:        binder,
		conversations: store,
		logger:        logger,
		turnLocks:     make(map[string]*sync.Mutex),
	}
	r.window.Store(int64(window))
	return r
}

// HistoryWindow returns the current per-turn history bound.
func (r *Router) HistoryWindow() int {
	return int(r.window.Load())
}

// SetHistoryWindow retunes the history bound for subsequent turns.
// Non-positive values are ignored.
func (r *Router) SetHistoryWindow(window int) {
	if window > 0 {
		r.window.Store(int64(window))
	}
}

// Route handles one non-streaming turn and returns the assistant reply.
func (r *Router) Route(ctx context.Context, agentID, ownerID, message string) (string, error) {
	return r.route(ctx, agentID, ownerID, message, nil)
}

// RouteStream handles one streaming turn, invoking emit for every reply
// fragment as it arrives. The full reply is persisted only after the stream
// completes cleanly; fragments already emitted before a mid-stream failure
// stand, but no partial assistant message is stored.
func (r *Router) RouteStream(ctx context.Context, agentID, ownerID, message string, emit func(fragment string) error) (string, error) {
	if emit == nil {
		return "", apperr.New(apperr.KindInvalidInput, "router.RouteStream", "fragment sink is required")
	}
	return r.route(ctx, agentID, ownerID, message, emit)
}

func (r *Router) route(ctx context.Context, agentID, ownerID, message string, emit func(string) error) (string, error) {
	const op = "router.Route"

	if message == "" {
		return "", apperr.New(apperr.KindInvalidInput, op, "message is required")
	}
	if ownerID == "" {
		return "", apperr.New(apperr.KindInvalidInput, op, "owner user id is required")
	}

	record, err := r.registry.Get(agentID)
	if err != nil {
		return "", err
	}
	if record.OwnerID() != ownerID {
		// Another user's agent is indistinguishable from a missing one.
		return "", apperr.New(apperr.KindAgentNotFound, op, "agent does not exist")
	}

	// Bind before touching the conversation: a bind failure must leave the
	// log untouched.
	convRuntime, err := r.binder.EnsureConvRuntime(ctx, record)
	if err != nil {
		return "", err
	}

	r.registry.TouchActivity(agentID)

	unlock := r.lockTurn(agentID)
	defer unlock()

	ref, err := r.conversations.GetOrCreate(ctx, conversation.EntryRef{OwnerID: ownerID, AgentID: agentID})
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnknown, op, err)
	}

	if err := r.conversations.Append(ctx, ref, conversation.RoleUser, message); err != nil {
		return "", err
	}

	history, err := r.conversations.ReadRecent(ctx, ref, r.HistoryWindow())
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnknown, op, err)
	}

	var reply string
	if emit != nil {
		reply, err = convRuntime.ReplyStream(ctx, history, emit)
	} else {
		reply, err = convRuntime.Reply(ctx, history)
	}
	if err != nil {
		// The user message stays persisted: the user did send it. Only the
		// assistant side of the turn is missing.
		r.logger.Warn("conversational runtime failed",
			"agent_id", agentID, "error_kind", apperr.KindOf(err).String())
		return "", apperr.ClassifyUpstream(op, err)
	}

	if err := r.conversations.Append(ctx, ref, conversation.RoleAssistant, reply); err != nil {
		return "", err
	}

	return reply, nil
}

// History returns the most recent limit messages for an agent's log.
func (r *Router) History(ctx context.Context, agentID, ownerID string, limit int) ([]conversation.Message, error) {
	record, err := r.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	if record.OwnerID() != ownerID {
		return nil, apperr.New(apperr.KindAgentNotFound, "router.History", "agent does not exist")
	}

	if limit <= 0 {
		limit = r.HistoryWindow()
	}
	ref := conversation.EntryRef{OwnerID: ownerID, AgentID: agentID}
	return r.conversations.ReadRecent(ctx, ref, limit)
}

// ClearHistory deletes an agent's conversation log without removing the
// agent. Idempotent.
func (r *Router) ClearHistory(ctx context.Context, agentID, ownerID string) error {
	record, err := r.registry.Get(agentID)
	if err != nil {
		return err
	}
	if record.OwnerID() != ownerID {
		return apperr.New(apperr.KindAgentNotFound, "router.ClearHistory", "agent does not exist")
	}

	unlock := r.lockTurn(agentID)
	defer unlock()

	return r.conversations.DeleteForAgent(ctx, conversation.EntryRef{OwnerID: ownerID, AgentID: agentID})
}

func (r *Router) lockTurn(agentID string) func() {
	r.turnMu.Lock()
	lock, ok := r.turnLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		r.turnLocks[agentID] = lock
	}
	r.turnMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

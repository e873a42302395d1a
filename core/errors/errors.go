// Package errors implements the typed error taxonomy shared by the agent
// registry, message router, and HTTP surface. Every failure path in the core
// carries one of these kinds so the boundary can map it to a stable status
// code without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for handling and HTTP mapping.
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal failure.
	KindUnknown Kind = iota

	// KindInvalidInput indicates caller-supplied data failed validation.
	// Caller-fixable, never retried automatically.
	KindInvalidInput

	// KindAgentNotFound indicates the referenced agent does not exist,
	// possibly due to a race with concurrent removal.
	KindAgentNotFound

	// KindConversationNotFound indicates the referenced conversation log
	// does not exist.
	KindConversationNotFound

	// KindRuntimeInit indicates binding a chain signer or conversational
	// runtime failed (bad secret, upstream rejected credential, upstream
	// unreachable). Not retried by the core.
	KindRuntimeInit

	// KindUpstreamTimeout indicates a bound runtime's call exceeded its
	// deadline. Distinct from KindRuntimeInit: the agent was successfully
	// initialized and the caller may retry the same message.
	KindUpstreamTimeout

	// KindUpstreamFailure indicates a bound runtime's call failed for a
	// reason other than a deadline.
	KindUpstreamFailure

	// KindRateLimited indicates admission control rejected the request.
	KindRateLimited
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindInvalidInput:         "invalid_input",
	KindAgentNotFound:        "agent_not_found",
	KindConversationNotFound: "conversation_not_found",
	KindRuntimeInit:          "runtime_init",
	KindUpstreamTimeout:      "upstream_timeout",
	KindUpstreamFailure:      "upstream_failure",
	KindRateLimited:          "rate_limited",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// HTTPStatus returns the status code the HTTP boundary reports for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindAgentNotFound, KindConversationNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindRuntimeInit, KindUpstreamFailure:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured error carried across the core. Op names the
// operation that failed ("registry.Create", "router.Route"), Message is safe
// to surface to callers, and Err holds the wrapped cause. Secret material
// must never appear in Message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match with errors.Is against a
// sentinel of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a typed error with a caller-safe message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds a typed error around an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrapf builds a typed error around a cause with a caller-safe message.
func Wrapf(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

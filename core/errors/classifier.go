package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyUpstream maps an error returned by a bound runtime call into the
// timeout/failure split the router surfaces. Deadline errors become
// KindUpstreamTimeout so callers can distinguish "the agent is slow" from
// "the agent is broken"; everything else is KindUpstreamFailure. Errors
// already carrying a kind pass through unchanged.
func ClassifyUpstream(op string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	if isTimeout(err) {
		return Wrap(KindUpstreamTimeout, op, err)
	}
	return Wrap(KindUpstreamFailure, op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Some SDK transports flatten the deadline error into a string.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timed out")
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	apperr "github.com/movegrid/movegrid/core/errors"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a typed error onto its HTTP status. Untyped errors get a
// 500 with a generic message so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()

	message := kindMessage(kind)
	var typed *apperr.Error
	if errors.As(err, &typed) && typed.Message != "" {
		message = typed.Message
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:    kind.String(),
		Message: message,
	}})
}

// kindMessage is the caller-facing text for errors that carry a kind but no
// message of their own, e.g. wrapped upstream causes.
func kindMessage(kind apperr.Kind) string {
	switch kind {
	case apperr.KindInvalidInput:
		return "invalid request"
	case apperr.KindAgentNotFound:
		return "agent does not exist"
	case apperr.KindConversationNotFound:
		return "conversation does not exist"
	case apperr.KindRuntimeInit:
		return "agent runtime failed to initialize; check the configured secret"
	case apperr.KindUpstreamTimeout:
		return "upstream provider timed out"
	case apperr.KindUpstreamFailure:
		return "upstream provider failed"
	case apperr.KindRateLimited:
		return "rate limit exceeded"
	default:
		return "internal error"
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.New(apperr.KindInvalidInput, "server.decode", "request body is not valid JSON")
	}
	return nil
}

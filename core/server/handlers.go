package server

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/movegrid/movegrid/core/chain"
	"github.com/movegrid/movegrid/core/conversation"
	apperr "github.com/movegrid/movegrid/core/errors"
	"github.com/movegrid/movegrid/core/ratelimit"
)

type createAgentRequest struct {
	Secret string `json:"secret"`
	Name   string `json:"name"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["userID"]
	if err := s.checkLimit(r, ratelimit.TierSensitive, ownerID); err != nil {
		writeError(w, err)
		return
	}

	var req createAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	secret := req.Secret
	if secret == "" && s.cfg.DevFallbackSecret != "" {
		secret = s.cfg.DevFallbackSecret
	}

	summary, err := s.registry.Create(ownerID, secret, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["userID"]
	if err := s.checkLimit(r, ratelimit.TierStandard, ownerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": s.registry.ListByOwner(ownerID),
	})
}

func (s *Server) handleRemoveAllAgents(w http.ResponseWriter, r *http.Request) {
	ownerID := mux.Vars(r)["userID"]
	if err := s.checkLimit(r, ratelimit.TierSensitive, ownerID); err != nil {
		writeError(w, err)
		return
	}

	removed, err := s.registry.RemoveAllForOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleListAllAgents(w http.ResponseWriter, r *http.Request) {
	if err := s.checkLimit(r, ratelimit.TierStandard, ""); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": s.registry.ListAll(),
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.checkLimit(r, ratelimit.TierStandard, ""); err != nil {
		writeError(w, err)
		return
	}

	record, err := s.registry.Get(mux.Vars(r)["agentID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record.Summarize())
}

type renameAgentRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.checkLimit(r, ratelimit.TierStandard, ""); err != nil {
		writeError(w, err)
		return
	}

	var req renameAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	summary, err := s.registry.Rename(mux.Vars(r)["agentID"], req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRemoveAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.checkLimit(r, ratelimit.TierSensitive, ""); err != nil {
		writeError(w, err)
		return
	}

	removed, err := s.registry.Remove(r.Context(), mux.Vars(r)["agentID"])
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeError(w, apperr.New(apperr.KindAgentNotFound, "server.remove", "agent does not exist"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]

	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkLimit(r, ratelimit.TierStandard, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	if req.Stream {
		s.streamMessage(w, r, agentID, req)
		return
	}

	reply, err := s.router.Route(r.Context(), agentID, req.UserID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// streamMessage delivers reply fragments as server-sent events. Fragments
// already flushed stand even if the stream dies partway; the error event
// tells the client the turn did not complete.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request, agentID string, req messageRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperr.New(apperr.KindInvalidInput, "server.stream", "streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, err := s.router.RouteStream(r.Context(), agentID, req.UserID, req.Message, func(fragment string) error {
		if werr := writeSSEData(w, fragment); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", apperr.KindOf(err).String())
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "event: done\ndata: \n\n")
	flusher.Flush()
}

// writeSSEData frames one fragment as a single SSE event. A fragment with
// embedded newlines becomes one data line per piece; clients reassemble the
// lines of an event joined by newline, so the fragment round-trips exactly.
func writeSSEData(w io.Writer, fragment string) error {
	for _, line := range strings.Split(fragment, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]
	ownerID := r.URL.Query().Get("userID")
	if err := s.checkLimit(r, ratelimit.TierStandard, ownerID); err != nil {
		writeError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apperr.New(apperr.KindInvalidInput, "server.history", "limit must be an integer"))
			return
		}
		limit = n
	}

	msgs, err := s.router.History(r.Context(), agentID, ownerID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]
	ownerID := r.URL.Query().Get("userID")
	if err := s.checkLimit(r, ratelimit.TierStandard, ownerID); err != nil {
		writeError(w, err)
		return
	}

	if err := s.router.ClearHistory(r.Context(), agentID, ownerID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// signerFor resolves the agent's bound signer, enforcing ownership the same
// way the router does: another user's agent reads as missing.
func (s *Server) signerFor(r *http.Request, agentID, ownerID string) (chain.Signer, error) {
	const op = "server.signer"

	if ownerID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, op, "userID is required")
	}
	record, err := s.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	if record.OwnerID() != ownerID {
		return nil, apperr.New(apperr.KindAgentNotFound, op, "agent does not exist")
	}
	return s.binder.EnsureSigner(r.Context(), record)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]
	ownerID := r.URL.Query().Get("userID")
	if err := s.checkLimit(r, ratelimit.TierStandard, ownerID); err != nil {
		writeError(w, err)
		return
	}

	signer, err := s.signerFor(r, agentID, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}

	asset := r.URL.Query().Get("asset")
	var balance uint64
	if asset == "" {
		balance, err = signer.NativeBalance(r.Context())
	} else {
		balance, err = signer.AssetBalance(r.Context(), asset)
	}
	if err != nil {
		writeError(w, apperr.ClassifyUpstream("server.balance", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": signer.Address(),
		"asset":   asset,
		"balance": strconv.FormatUint(balance, 10),
	})
}

type transferRequest struct {
	UserID string `json:"user_id"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
	Asset  string `json:"asset"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]

	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkLimit(r, ratelimit.TierSensitive, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	if req.To == "" || req.Amount == 0 {
		writeError(w, apperr.New(apperr.KindInvalidInput, "server.transfer", "recipient and positive amount are required"))
		return
	}

	signer, err := s.signerFor(r, agentID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	txHash, err := signer.Transfer(r.Context(), req.To, req.Amount, req.Asset)
	if err != nil {
		writeError(w, apperr.ClassifyUpstream("server.transfer", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tx_hash": txHash})
}

type verifyRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]

	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkLimit(r, ratelimit.TierStandard, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	signature, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		writeError(w, apperr.New(apperr.KindInvalidInput, "server.verify", "signature must be hex"))
		return
	}

	signer, err := s.signerFor(r, agentID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	valid, err := signer.VerifySignature([]byte(req.Message), signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type sweepRequest struct {
	MaxAgeHours int `json:"max_age_hours"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := s.checkLimit(r, ratelimit.TierSensitive, "admin"); err != nil {
		writeError(w, err)
		return
	}

	var req sweepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MaxAgeHours < 0 {
		writeError(w, apperr.New(apperr.KindInvalidInput, "server.sweep", "max_age_hours must not be negative"))
		return
	}
	maxAge := time.Duration(req.MaxAgeHours) * time.Hour
	if maxAge == 0 {
		maxAge = 24 * time.Hour
	}

	removed, err := s.janitor.Sweep(r.Context(), maxAge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movegrid/movegrid/core/chain"
	"github.com/movegrid/movegrid/core/conversation"
	apperr "github.com/movegrid/movegrid/core/errors"
	"github.com/movegrid/movegrid/core/identity"
	"github.com/movegrid/movegrid/core/janitor"
	"github.com/movegrid/movegrid/core/providers"
	"github.com/movegrid/movegrid/core/ratelimit"
	"github.com/movegrid/movegrid/core/registry"
	"github.com/movegrid/movegrid/core/router"
	"github.com/movegrid/movegrid/core/runtime"
)

type stubSigner struct {
	address string
}

func (s *stubSigner) Address() string                               { return s.address }
func (s *stubSigner) NativeBalance(context.Context) (uint64, error) { return 1000, nil }
func (s *stubSigner) AssetBalance(context.Context, string) (uint64, error) {
	return 42, nil
}
func (s *stubSigner) Transfer(context.Context, string, uint64, string) (string, error) {
	return "0xhash", nil
}
func (s *stubSigner) VerifySignature(_ []byte, sig []byte) (bool, error) {
	return bytes.Equal(sig, []byte("good")), nil
}

type stubChainRuntime struct{}

func (stubChainRuntime) BindSigner(_ context.Context, secret string) (chain.Signer, error) {
	if secret == "malformed" {
		return nil, apperr.New(apperr.KindRuntimeInit, "chain.BindSigner", "bad secret")
	}
	return &stubSigner{address: "0x" + secret}, nil
}

type echoRuntime struct{}

func (echoRuntime) Reply(_ context.Context, history []conversation.Message) (string, error) {
	return "echo: " + history[len(history)-1].Content, nil
}

func (echoRuntime) ReplyStream(ctx context.Context, history []conversation.Message, emit func(string) error) (string, error) {
	reply, _ := echoRuntime{}.Reply(ctx, history)
	for _, fragment := range strings.SplitAfter(reply, " ") {
		if err := emit(fragment); err != nil {
			return "", err
		}
	}
	return reply, nil
}

type stubBuilder struct {
	runtime providers.ConvRuntime
}

func (b stubBuilder) Build(context.Context, chain.Signer, string) (providers.ConvRuntime, error) {
	if b.runtime != nil {
		return b.runtime, nil
	}
	return echoRuntime{}, nil
}

// multilineRuntime replies with newline-bearing text, streamed as a plain
// fragment, a bare newline, and another fragment.
type multilineRuntime struct{}

func (multilineRuntime) Reply(context.Context, []conversation.Message) (string, error) {
	return "first line\nsecond line", nil
}

func (multilineRuntime) ReplyStream(_ context.Context, _ []conversation.Message, emit func(string) error) (string, error) {
	for _, fragment := range []string{"first line", "\n", "second line"} {
		if err := emit(fragment); err != nil {
			return "", err
		}
	}
	return "first line\nsecond line", nil
}

type fixture struct {
	server   *Server
	registry *registry.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	return newFixtureWithRuntime(t, cfg, nil)
}

func newFixtureWithRuntime(t *testing.T, cfg Config, convRT providers.ConvRuntime) *fixture {
	t.Helper()

	store := conversation.NewMemoryStore()
	reg := registry.New(identity.UUIDGenerator{}, store, nil)
	binder := runtime.New(stubChainRuntime{}, stubBuilder{runtime: convRT}, nil)
	rt := router.New(reg, binder, store, router.Config{})
	jan := janitor.New(reg, janitor.Config{})

	limiter, err := ratelimit.New(ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000,
		SensitiveRequestsPerSecond: 1000, SensitiveBurst: 1000})
	require.NoError(t, err)

	return &fixture{
		server:   New(reg, rt, binder, jan, limiter, cfg),
		registry: reg,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (f *fixture) createAgent(t *testing.T, owner, secret string) registry.Summary {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/users/"+owner+"/agents",
		map[string]string{"secret": secret})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[registry.Summary](t, rec)
}

func TestCreateAgent(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/v1/users/userA/agents",
		map[string]string{"secret": "hunter2", "name": "Trader"})
	require.Equal(t, http.StatusCreated, rec.Code)

	summary := decode[registry.Summary](t, rec)
	assert.Equal(t, "userA", summary.OwnerID)
	assert.Equal(t, "Trader", summary.DisplayName)
	assert.NotContains(t, rec.Body.String(), "hunter2", "secret never echoed")
}

func TestCreateAgentRequiresSecret(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/v1/users/userA/agents", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAgentDevFallbackSecret(t *testing.T) {
	f := newFixture(t, Config{DevFallbackSecret: "0xdev"})

	rec := f.do(t, http.MethodPost, "/v1/users/userA/agents", map[string]string{})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestListAgentsByOwner(t *testing.T) {
	f := newFixture(t, Config{})
	f.createAgent(t, "userA", "aaaa")
	f.createAgent(t, "userA", "bbbb")
	f.createAgent(t, "userB", "cccc")

	rec := f.do(t, http.MethodGet, "/v1/users/userA/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string][]registry.Summary](t, rec)
	assert.Len(t, body["agents"], 2)
}

func TestGetAgentNotFound(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/v1/agents/agent-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "agent_not_found", body["error"]["kind"])
}

func TestRenameAgent(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPatch, "/v1/agents/"+summary.AgentID,
		map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", decode[registry.Summary](t, rec).DisplayName)

	rec = f.do(t, http.MethodPatch, "/v1/agents/"+summary.AgentID, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveAgent(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodDelete, "/v1/agents/"+summary.AgentID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/agents/"+summary.AgentID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveAllForOwner(t *testing.T) {
	f := newFixture(t, Config{})
	f.createAgent(t, "userA", "aaaa")
	f.createAgent(t, "userA", "bbbb")

	rec := f.do(t, http.MethodDelete, "/v1/users/userA/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[map[string]int](t, rec)["removed"])
	assert.Zero(t, f.registry.Count())
}

func TestMessageRoundTrip(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/messages",
		map[string]any{"user_id": "userA", "message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "echo: hello", decode[map[string]string](t, rec)["reply"])
}

func TestMessageWrongOwnerReadsAsMissing(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/messages",
		map[string]any{"user_id": "userB", "message": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessageBindFailureMapsToBadGateway(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "malformed")

	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/messages",
		map[string]any{"user_id": "userA", "message": "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMessageStreamSSE(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/messages",
		map[string]any{"user_id": "userA", "message": "stream me", "stream": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: done")

	// Reassemble the data events into the full reply.
	var joined strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") && line != "data: " {
			joined.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "echo: stream me", joined.String())
}

func TestMessageStreamMultiLineFragments(t *testing.T) {
	f := newFixtureWithRuntime(t, Config{}, multilineRuntime{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/messages",
		map[string]any{"user_id": "userA", "message": "go", "stream": true})
	require.Equal(t, http.StatusOK, rec.Code)

	// Reassemble exactly the way an SSE client does: the data lines of one
	// event join with a newline, so a fragment with embedded newlines must
	// survive the trip.
	var joined strings.Builder
	for _, event := range strings.Split(rec.Body.String(), "\n\n") {
		if strings.Contains(event, "event: done") {
			continue
		}
		var lines []string
		for _, line := range strings.Split(event, "\n") {
			if strings.HasPrefix(line, "data:") {
				lines = append(lines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		joined.WriteString(strings.Join(lines, "\n"))
	}
	assert.Equal(t, "first line\nsecond line", joined.String())
}

func TestHistoryAndClear(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/messages",
		map[string]any{"user_id": "userA", "message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/agents/"+summary.AgentID+"/conversation?userID=userA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]conversation.Message](t, rec)
	assert.Len(t, body["messages"], 2)

	rec = f.do(t, http.MethodDelete, "/v1/agents/"+summary.AgentID+"/conversation?userID=userA", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/agents/"+summary.AgentID+"/conversation?userID=userA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[map[string][]conversation.Message](t, rec)
	assert.Empty(t, body["messages"])
}

func TestBalanceEndpoints(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodGet, "/v1/agents/"+summary.AgentID+"/balance?userID=userA", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "0xaaaa", body["address"])
	assert.Equal(t, "1000", body["balance"])

	rec = f.do(t, http.MethodGet, "/v1/agents/"+summary.AgentID+"/balance?userID=userA&asset=0xusdc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", decode[map[string]any](t, rec)["balance"])

	// Missing owner is invalid, wrong owner is indistinguishable from a
	// missing agent.
	rec = f.do(t, http.MethodGet, "/v1/agents/"+summary.AgentID+"/balance", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/v1/agents/"+summary.AgentID+"/balance?userID=userB", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/transfer",
		map[string]any{"user_id": "userA", "to": "0xbeef", "amount": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "0xhash", decode[map[string]string](t, rec)["tx_hash"])

	rec = f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/transfer",
		map[string]any{"user_id": "userA", "to": "", "amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifySignature(t *testing.T) {
	f := newFixture(t, Config{})
	summary := f.createAgent(t, "userA", "aaaa")

	good := hex.EncodeToString([]byte("good"))
	rec := f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/verify",
		map[string]any{"user_id": "userA", "message": "msg", "signature": good})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["valid"])

	// A 0x prefix is accepted, matching the wallet tool's decoding.
	rec = f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/verify",
		map[string]any{"user_id": "userA", "message": "msg", "signature": "0x" + good})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["valid"])

	rec = f.do(t, http.MethodPost, "/v1/agents/"+summary.AgentID+"/verify",
		map[string]any{"user_id": "userA", "message": "msg", "signature": "not-hex!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSweepEndpoint(t *testing.T) {
	f := newFixture(t, Config{})
	f.createAgent(t, "userA", "aaaa")

	rec := f.do(t, http.MethodPost, "/v1/admin/sweep", map[string]int{"max_age_hours": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[map[string]int](t, rec)["removed"], "fresh agents survive")

	rec = f.do(t, http.MethodPost, "/v1/admin/sweep", map[string]int{"max_age_hours": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteErrorKindFallbackMessage(t *testing.T) {
	// A wrapped cause carries no message of its own; the response falls
	// back to the kind's text instead of going out empty, and the cause
	// never leaks.
	rec := httptest.NewRecorder()
	writeError(rec, apperr.Wrap(apperr.KindUpstreamFailure, "providers.openai.Reply", errors.New("boom")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[map[string]map[string]string](t, rec)
	assert.Equal(t, "upstream provider failed", body["error"]["message"])
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestSensitiveRateLimit(t *testing.T) {
	store := conversation.NewMemoryStore()
	reg := registry.New(identity.UUIDGenerator{}, store, nil)
	binder := runtime.New(stubChainRuntime{}, stubBuilder{}, nil)
	rt := router.New(reg, binder, store, router.Config{})
	jan := janitor.New(reg, janitor.Config{})

	limiter, err := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: 1000, Burst: 1000,
		SensitiveRequestsPerSecond: 1, SensitiveBurst: 1,
	})
	require.NoError(t, err)

	f := &fixture{server: New(reg, rt, binder, jan, limiter, Config{}), registry: reg}

	rec := f.do(t, http.MethodPost, "/v1/users/userA/agents", map[string]string{"secret": "aaaa"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/users/userA/agents", map[string]string{"secret": "bbbb"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Ordinary traffic for the same client is still admitted.
	rec = f.do(t, http.MethodGet, "/v1/users/userA/agents", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGracefulShutdown(t *testing.T) {
	f := newFixture(t, Config{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

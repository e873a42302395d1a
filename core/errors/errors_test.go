package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindAgentNotFound, http.StatusNotFound},
		{KindConversationNotFound, http.StatusNotFound},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindRuntimeInit, http.StatusBadGateway},
		{KindUpstreamFailure, http.StatusBadGateway},
		{KindUpstreamTimeout, http.StatusGatewayTimeout},
		{KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.HTTPStatus())
		})
	}
}

func TestErrorWrappingPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(KindRuntimeInit, "binder.EnsureSigner", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindRuntimeInit, KindOf(err))
}

func TestKindOfThroughFmtWrapping(t *testing.T) {
	inner := New(KindAgentNotFound, "registry.Get", "no such agent")
	outer := fmt.Errorf("route failed: %w", inner)

	assert.Equal(t, KindAgentNotFound, KindOf(outer))
	assert.True(t, IsKind(outer, KindAgentNotFound))
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(KindInvalidInput, "store.Append", "bad role")
	b := New(KindInvalidInput, "registry.Rename", "empty name")

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, New(KindAgentNotFound, "x", "y")))
}

func TestClassifyUpstream(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, ClassifyUpstream("router.Route", nil))
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		err := ClassifyUpstream("router.Route", context.DeadlineExceeded)
		assert.Equal(t, KindUpstreamTimeout, KindOf(err))
	})

	t.Run("flattened deadline string becomes timeout", func(t *testing.T) {
		err := ClassifyUpstream("router.Route", stderrors.New("request timed out after 30s"))
		assert.Equal(t, KindUpstreamTimeout, KindOf(err))
	})

	t.Run("other errors become failure", func(t *testing.T) {
		err := ClassifyUpstream("router.Route", stderrors.New("500 internal error"))
		assert.Equal(t, KindUpstreamFailure, KindOf(err))
	})

	t.Run("typed errors pass through unchanged", func(t *testing.T) {
		typed := New(KindRuntimeInit, "binder.EnsureConvRuntime", "missing credential")
		err := ClassifyUpstream("router.Route", typed)
		assert.Equal(t, KindRuntimeInit, KindOf(err))
	})
}

package providers

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolExecutorDispatch(t *testing.T) {
	signer := &fakeSigner{address: "0xa11ce", balance: 250}
	exec := &toolExecutor{signer: signer}
	ctx := context.Background()

	t.Run("get_address", func(t *testing.T) {
		out := exec.execute(ctx, ToolCall{Name: "get_address", Arguments: "{}"})
		assert.JSONEq(t, `{"address": "0xa11ce"}`, out)
	})

	t.Run("get_native_balance", func(t *testing.T) {
		out := exec.execute(ctx, ToolCall{Name: "get_native_balance"})
		assert.JSONEq(t, `{"balance_octas": 250}`, out)
	})

	t.Run("get_asset_balance", func(t *testing.T) {
		out := exec.execute(ctx, ToolCall{Name: "get_asset_balance", Arguments: `{"asset": "0xfeed"}`})
		assert.JSONEq(t, `{"asset": "0xfeed", "balance": 7}`, out)
	})

	t.Run("transfer", func(t *testing.T) {
		out := exec.execute(ctx, ToolCall{Name: "transfer", Arguments: `{"to": "0xb0b", "amount": 100}`})
		assert.JSONEq(t, `{"tx_hash": "0xdeadbeef"}`, out)
		assert.Equal(t, []string{"0xb0b"}, signer.transfers)
	})

	t.Run("verify_signature", func(t *testing.T) {
		sig := hex.EncodeToString([]byte("some signature bytes"))
		out := exec.execute(ctx, ToolCall{Name: "verify_signature",
			Arguments: `{"message": "hello", "signature": "` + sig + `"}`})
		assert.JSONEq(t, `{"valid": true}`, out)
	})

	t.Run("unknown tool becomes error payload", func(t *testing.T) {
		out := exec.execute(ctx, ToolCall{Name: "mint_unicorns"})
		assert.Contains(t, out, "error")
	})

	t.Run("malformed arguments become error payload", func(t *testing.T) {
		out := exec.execute(ctx, ToolCall{Name: "transfer", Arguments: `{"to":`})
		assert.Contains(t, out, "error")
	})
}

func TestWalletToolSchemas(t *testing.T) {
	tools := walletTools()
	require.Len(t, tools, 5)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.Parameters["type"])
	}

	for _, want := range []string{"get_address", "get_native_balance", "get_asset_balance", "transfer", "verify_signature"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

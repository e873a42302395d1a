package providers

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/movegrid/movegrid/core/chain"
)

// walletTools is the toolset every agent runtime exposes to the model. The
// schemas follow the JSON Schema object form both vendors accept.
func walletTools() []Tool {
	return []Tool{
		{
			Name:        "get_address",
			Description: "Return the wallet address this agent controls.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_native_balance",
			Description: "Return the wallet's APT balance in octas.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_asset_balance",
			Description: "Return the wallet's balance of a fungible asset, addressed by its metadata object address.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"asset": map[string]any{
						"type":        "string",
						"description": "Fungible asset metadata address, e.g. 0x...",
					},
				},
				"required": []any{"asset"},
			},
		},
		{
			Name:        "transfer",
			Description: "Send funds from this wallet to another address. Returns the transaction hash.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to": map[string]any{
						"type":        "string",
						"description": "Destination account address.",
					},
					"amount": map[string]any{
						"type":        "integer",
						"description": "Amount in the asset's base units (octas for APT).",
					},
					"asset": map[string]any{
						"type":        "string",
						"description": "Optional fungible asset metadata address; omit for native APT.",
					},
				},
				"required": []any{"to", "amount"},
			},
		},
		{
			Name:        "verify_signature",
			Description: "Verify that a hex-encoded ed25519 signature over a message was produced by this wallet's key.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The signed message text.",
					},
					"signature": map[string]any{
						"type":        "string",
						"description": "Hex-encoded signature.",
					},
				},
				"required": []any{"message", "signature"},
			},
		},
	}
}

// toolExecutor runs model-requested tool calls against the bound signer and
// renders results as JSON strings fed back into the conversation.
type toolExecutor struct {
	signer chain.Signer
}

func (e *toolExecutor) execute(ctx context.Context, call ToolCall) string {
	result, err := e.dispatch(ctx, call)
	if err != nil {
		// Tool failures go back to the model as content, not up the stack:
		// the model decides how to phrase the failure for the user.
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return result
}

func (e *toolExecutor) dispatch(ctx context.Context, call ToolCall) (string, error) {
	switch call.Name {
	case "get_address":
		return fmt.Sprintf(`{"address": %q}`, e.signer.Address()), nil

	case "get_native_balance":
		amount, err := e.signer.NativeBalance(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"balance_octas": %d}`, amount), nil

	case "get_asset_balance":
		var args struct {
			Asset string `json:"asset"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return "", err
		}
		amount, err := e.signer.AssetBalance(ctx, args.Asset)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"asset": %q, "balance": %d}`, args.Asset, amount), nil

	case "transfer":
		var args struct {
			To     string `json:"to"`
			Amount uint64 `json:"amount"`
			Asset  string `json:"asset"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return "", err
		}
		hash, err := e.signer.Transfer(ctx, args.To, args.Amount, args.Asset)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"tx_hash": %q}`, hash), nil

	case "verify_signature":
		var args struct {
			Message   string `json:"message"`
			Signature string `json:"signature"`
		}
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return "", err
		}
		sig, err := hex.DecodeString(strings.TrimPrefix(args.Signature, "0x"))
		if err != nil {
			return "", fmt.Errorf("signature is not valid hex: %w", err)
		}
		ok, err := e.signer.VerifySignature([]byte(args.Message), sig)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"valid": %t}`, ok), nil

	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

func decodeArgs(raw string, into any) error {
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return fmt.Errorf("malformed tool arguments: %w", err)
	}
	return nil
}

// Package chain wraps the Aptos network access the agent runtime needs:
// turning stored secret material into a live signer bound to one address,
// querying balances, submitting transfers, and verifying signatures. The rest
// of the core consumes the Runtime and Signer interfaces only, so tests run
// against fakes and the SDK stays at the edge.
package chain

import "context"

// Signer is a live signing context bound to exactly one address.
type Signer interface {
	// Address returns the account address this signer controls.
	Address() string

	// NativeBalance returns the APT balance in octas.
	NativeBalance(ctx context.Context) (uint64, error)

	// AssetBalance returns the balance of a fungible asset, addressed by its
	// metadata object address.
	AssetBalance(ctx context.Context, asset string) (uint64, error)

	// Transfer submits a transfer of amount to the destination address and
	// returns the transaction hash. An empty asset means native APT.
	Transfer(ctx context.Context, to string, amount uint64, asset string) (string, error)

	// VerifySignature reports whether signature is a valid signature of
	// message by this signer's public key.
	VerifySignature(message, signature []byte) (bool, error)
}

// Runtime binds secret material into signers against a shared network client.
type Runtime interface {
	// BindSigner parses the secret and returns a signer bound to the derived
	// address. A malformed secret fails with a runtime-init error.
	BindSigner(ctx context.Context, secret string) (Signer, error)
}

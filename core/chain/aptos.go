package chain

import (
	"context"
	"fmt"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/crypto"

	apperr "github.com/movegrid/movegrid/core/errors"
)

// Network names accepted in configuration.
const (
	NetworkMainnet  = "mainnet"
	NetworkTestnet  = "testnet"
	NetworkDevnet   = "devnet"
	NetworkLocalnet = "localnet"
)

// AptosRuntime is the production Runtime backed by a shared Aptos fullnode
// client. Safe for concurrent use; all signers share the one client.
type AptosRuntime struct {
	client *aptos.Client
}

// NewAptosRuntime connects to the named network. An explicit node URL
// overrides the network's default fullnode endpoint.
func NewAptosRuntime(network, nodeURL string) (*AptosRuntime, error) {
	cfg, err := networkConfig(network)
	if err != nil {
		return nil, err
	}
	if nodeURL != "" {
		cfg.NodeUrl = nodeURL
	}

	client, err := aptos.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aptos client: %w", err)
	}
	return &AptosRuntime{client: client}, nil
}

func networkConfig(network string) (aptos.NetworkConfig, error) {
	switch network {
	case NetworkMainnet:
		return aptos.MainnetConfig, nil
	case NetworkTestnet:
		return aptos.TestnetConfig, nil
	case NetworkDevnet, "":
		return aptos.DevnetConfig, nil
	case NetworkLocalnet:
		return aptos.LocalnetConfig, nil
	default:
		return aptos.NetworkConfig{}, fmt.Errorf("unknown aptos network %q", network)
	}
}

// BindSigner parses an ed25519 private key (hex, with or without 0x prefix)
// and binds it to an account on the shared client.
func (r *AptosRuntime) BindSigner(_ context.Context, secret string) (Signer, error) {
	const op = "chain.BindSigner"

	if secret == "" {
		return nil, apperr.New(apperr.KindRuntimeInit, op, "secret material is required")
	}

	priv := &crypto.Ed25519PrivateKey{}
	if err := priv.FromHex(secret); err != nil {
		// Deliberately drop the cause: it can echo fragments of the key.
		return nil, apperr.New(apperr.KindRuntimeInit, op, "secret material is not a valid ed25519 private key")
	}

	account, err := aptos.NewAccountFromSigner(priv)
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindRuntimeInit, op, err, "failed to derive account from key")
	}

	return &aptosSigner{client: r.client, account: account}, nil
}

type aptosSigner struct {
	client  *aptos.Client
	account *aptos.Account
}

func (s *aptosSigner) Address() string {
	return s.account.Address.String()
}

func (s *aptosSigner) NativeBalance(_ context.Context) (uint64, error) {
	amount, err := s.client.AccountAPTBalance(s.account.Address)
	if err != nil {
		return 0, fmt.Errorf("failed to query native balance: %w", err)
	}
	return amount, nil
}

func (s *aptosSigner) AssetBalance(_ context.Context, asset string) (uint64, error) {
	metadata := &aptos.AccountAddress{}
	if err := metadata.ParseStringRelaxed(asset); err != nil {
		return 0, apperr.New(apperr.KindInvalidInput, "chain.AssetBalance",
			"asset must be a fungible asset metadata address")
	}

	fa, err := aptos.NewFungibleAssetClient(s.client, metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve fungible asset: %w", err)
	}

	balance, err := fa.PrimaryBalance(&s.account.Address)
	if err != nil {
		return 0, fmt.Errorf("failed to query asset balance: %w", err)
	}
	return balance, nil
}

func (s *aptosSigner) Transfer(_ context.Context, to string, amount uint64, asset string) (string, error) {
	dest := aptos.AccountAddress{}
	if err := dest.ParseStringRelaxed(to); err != nil {
		return "", apperr.New(apperr.KindInvalidInput, "chain.Transfer", "destination address is malformed")
	}

	var payload *aptos.EntryFunction
	var err error
	if asset == "" {
		payload, err = aptos.CoinTransferPayload(nil, dest, amount)
	} else {
		metadata := &aptos.AccountAddress{}
		if parseErr := metadata.ParseStringRelaxed(asset); parseErr != nil {
			return "", apperr.New(apperr.KindInvalidInput, "chain.Transfer",
				"asset must be a fungible asset metadata address")
		}
		payload, err = aptos.FungibleAssetPrimaryStoreTransferPayload(metadata, dest, amount)
	}
	if err != nil {
		return "", fmt.Errorf("failed to build transfer payload: %w", err)
	}

	pending, err := s.client.BuildSignAndSubmitTransaction(s.account,
		aptos.TransactionPayload{Payload: payload})
	if err != nil {
		return "", fmt.Errorf("failed to submit transfer: %w", err)
	}
	return pending.Hash, nil
}

func (s *aptosSigner) VerifySignature(message, signature []byte) (bool, error) {
	sig := &crypto.Ed25519Signature{}
	if err := sig.FromBytes(signature); err != nil {
		return false, apperr.New(apperr.KindInvalidInput, "chain.VerifySignature",
			"signature is not a valid ed25519 signature")
	}
	return s.account.Signer.PubKey().Verify(message, sig), nil
}

var _ Runtime = (*AptosRuntime)(nil)
var _ Signer = (*aptosSigner)(nil)

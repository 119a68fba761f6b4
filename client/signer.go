package client

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// Signer is the external wallet capability: it owns the paying key and signs
// transactions out of process. Key management never lives in this module.
type Signer interface {
	// PublicKey returns the paying wallet's address.
	PublicKey() solana.PublicKey

	// SignTransaction signs the transaction in place with the paying key.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// SignTransactionFunc adapts a signing callback to the Signer interface.
type callbackSigner struct {
	publicKey solana.PublicKey
	sign      func(ctx context.Context, tx *solana.Transaction) error
}

// NewSigner creates a signer from a public key and a signing callback, for
// wallets whose keys live behind an external interface.
func NewSigner(publicKey solana.PublicKey, sign func(ctx context.Context, tx *solana.Transaction) error) (Signer, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if sign == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &callbackSigner{publicKey: publicKey, sign: sign}, nil
}

func (s *callbackSigner) PublicKey() solana.PublicKey { return s.publicKey }

func (s *callbackSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.sign(ctx, tx)
}

// localSigner signs with an in-process private key. Intended for tooling and
// tests, not for production merchant deployments.
type localSigner struct {
	key solana.PrivateKey
}

// NewLocalSignerFromBase58 creates a signer from a base58-encoded private key.
func NewLocalSignerFromBase58(privateKeyBase58 string) (Signer, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &localSigner{key: key}, nil
}

func (s *localSigner) PublicKey() solana.PublicKey { return s.key.PublicKey() }

func (s *localSigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	return err
}

// Package chain implements the chain access capability over a Solana RPC
// node. It converts RPC transaction responses into the flat TransactionRecord
// the verifier consumes, so nothing above this package depends on the RPC
// client's response envelope.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
)

// SolanaReader reads confirmed transactions and balances from a Solana RPC
// endpoint. Construct one per process and inject it; it holds no hidden
// global state.
type SolanaReader struct {
	client *rpc.Client
}

// NewSolanaReader creates a reader against the given RPC URL.
func NewSolanaReader(rpcURL string) *SolanaReader {
	return &SolanaReader{client: rpc.New(rpcURL)}
}

// NewSolanaReaderWithClient wraps an existing RPC client.
func NewSolanaReaderWithClient(client *rpc.Client) *SolanaReader {
	return &SolanaReader{client: client}
}

// GetTransaction fetches a confirmed transaction by signature and flattens it
// into a TransactionRecord. Returns (nil, nil) while the transaction is not
// yet visible on-chain.
func (r *SolanaReader) GetTransaction(ctx context.Context, signature string) (*pbtcpay.TransactionRecord, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature: %w", err)
	}

	maxVersion := uint64(0)
	out, err := r.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("rpc getTransaction: %w", err)
	}
	if out == nil {
		return nil, nil
	}

	return recordFromResult(out)
}

// GetBalance returns the lamport balance of an account at confirmed
// commitment.
func (r *SolanaReader) GetBalance(ctx context.Context, address string) (uint64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid account address: %w", err)
	}

	out, err := r.client.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("rpc getBalance: %w", err)
	}
	return out.Value, nil
}

func recordFromResult(out *rpc.GetTransactionResult) (*pbtcpay.TransactionRecord, error) {
	if out.Meta == nil || out.Transaction == nil {
		return nil, fmt.Errorf("transaction response missing meta")
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	record := &pbtcpay.TransactionRecord{
		Slot:              out.Slot,
		Failed:            out.Meta.Err != nil,
		Accounts:          accountList(tx, out.Meta),
		PreBalances:       out.Meta.PreBalances,
		PostBalances:      out.Meta.PostBalances,
		PreTokenBalances:  tokenBalances(out.Meta.PreTokenBalances),
		PostTokenBalances: tokenBalances(out.Meta.PostTokenBalances),
	}
	if out.BlockTime != nil {
		record.BlockTime = out.BlockTime.Time()
	}
	return record, nil
}

// accountList assembles the full touched-accounts set in balance-table order:
// static message keys first, then addresses loaded through lookup tables
// (writable before read-only). Pre/post balance arrays are indexed against
// exactly this ordering.
func accountList(tx *solana.Transaction, meta *rpc.TransactionMeta) []string {
	accounts := make([]string, 0,
		len(tx.Message.AccountKeys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	for _, key := range tx.Message.AccountKeys {
		accounts = append(accounts, key.String())
	}
	for _, key := range meta.LoadedAddresses.Writable {
		accounts = append(accounts, key.String())
	}
	for _, key := range meta.LoadedAddresses.ReadOnly {
		accounts = append(accounts, key.String())
	}
	return accounts
}

func tokenBalances(balances []rpc.TokenBalance) []pbtcpay.TokenBalance {
	converted := make([]pbtcpay.TokenBalance, 0, len(balances))
	for _, b := range balances {
		entry := pbtcpay.TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
			UIAmount:     tokenAmount(b.UiTokenAmount),
		}
		if b.Owner != nil {
			entry.Owner = b.Owner.String()
		}
		converted = append(converted, entry)
	}
	return converted
}

// tokenAmount extracts the display-unit amount from a UI token amount,
// preferring the string form the node formats from raw units.
func tokenAmount(amount *rpc.UiTokenAmount) float64 {
	if amount == nil {
		return 0
	}
	if amount.UiAmountString != "" {
		if parsed, err := strconv.ParseFloat(amount.UiAmountString, 64); err == nil {
			return parsed
		}
	}
	if amount.UiAmount != nil {
		return *amount.UiAmount
	}
	return 0
}

// WaitForConfirmation polls until the transaction is visible and final or the
// context expires. Interval defaults to one second when zero.
func (r *SolanaReader) WaitForConfirmation(ctx context.Context, signature string, interval time.Duration) (*pbtcpay.TransactionRecord, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := r.GetTransaction(ctx, signature)
		if err != nil {
			return nil, err
		}
		if record != nil {
			return record, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ pbtcpay.ChainReader = (*SolanaReader)(nil)

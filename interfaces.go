package pbtcpay

import "context"

// Ledger is the durable, concurrency-safe store of payment requests, with two
// lookup paths: by reference (primary key) and by settlement signature
// (secondary index).
//
// Implementations must serialize mutations per reference: of two concurrent
// MarkConfirmed calls for the same reference, exactly one may win; the loser
// must observe the confirmed state and report it. The signature index must be
// updated atomically with the status transition.
//
// Records are never deleted; the ledger is an append-only audit trail.
type Ledger interface {
	// Create stores a new pending request, or returns the existing one for
	// the same reference. The boolean is false when an existing record was
	// returned.
	//
	// Fails with ErrCodeTerminal if the existing record is already
	// confirmed. If params carry an ExpectedPayer and the existing record
	// has none, the lock is merged; a differing existing lock fails with
	// ErrCodeConflict and is never overwritten.
	Create(ctx context.Context, params CreateParams) (*PaymentRequest, bool, error)

	// GetByReference looks up a request by its reference.
	// Fails with ErrCodeNotFound if absent.
	GetByReference(ctx context.Context, reference string) (*PaymentRequest, error)

	// GetBySignature looks up a request through the signature index.
	// Fails with ErrCodeNotFound if the signature is unbound.
	GetBySignature(ctx context.Context, signature string) (*PaymentRequest, error)

	// LockPayer binds the request to a payer wallet. Idempotent for the
	// same wallet; fails with ErrCodeConflict for a different one and with
	// ErrCodeTerminal if the request is already confirmed.
	LockPayer(ctx context.Context, reference, payerWallet string) (*PaymentRequest, error)

	// MarkConfirmed transitions the request to StatusConfirmed, sets its
	// signature and inserts the signature into the secondary index, all
	// atomically. Calling it again with the same signature returns the
	// confirmed record unchanged; a different signature fails with
	// ErrCodeTerminal. A signature already bound to another reference
	// fails with ErrCodeConflict.
	MarkConfirmed(ctx context.Context, reference, signature string) (*PaymentRequest, error)

	// ListByMerchant returns all requests destined for a merchant wallet,
	// in insertion order.
	ListByMerchant(ctx context.Context, merchantWallet string) ([]*PaymentRequest, error)
}

// ChainReader is the read-only chain access capability the verifier depends
// on. Implementations wrap a blockchain RPC endpoint; tests substitute fakes.
type ChainReader interface {
	// GetTransaction fetches the confirmed transaction record for a
	// settlement signature. Returns (nil, nil) when the transaction is not
	// (yet) visible on-chain; a non-nil error means the node could not be
	// reached and the call may be retried.
	GetTransaction(ctx context.Context, signature string) (*TransactionRecord, error)

	// GetBalance returns an account's balance in lamports.
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// Verifier decides whether a settlement signature represents a genuine,
// sufficient transfer to the merchant, using only on-chain data. It never
// trusts the caller's claim and never caches verdicts: the chain, not the
// ledger, is the authority.
type Verifier interface {
	// Verify inspects the transaction's balance deltas for the asset.
	// expectedSender may be empty, in which case sender matching is
	// skipped.
	//
	// A non-nil error is an ErrCodeAdapterUnavailable condition; any
	// definitive verdict, including "not found", comes back as a
	// VerificationResult with Valid=false and a Reason.
	Verify(ctx context.Context, signature, merchantWallet string, expectedAmount float64, asset Asset, expectedSender string) (VerificationResult, error)
}

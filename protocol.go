package pbtcpay

import (
	"context"
	"strings"
	"time"

	"github.com/purplebtc/pbtc-payments-go/logger"
	"github.com/purplebtc/pbtc-payments-go/metrics"
)

// Protocol orchestrates the payment request lifecycle against the ledger:
// create, lock to a payer wallet, and confirm a claimed settlement after
// on-chain verification. All methods are safe for concurrent use; ordering
// across references is not defined, ordering per reference is the ledger's
// responsibility.
type Protocol struct {
	ledger   Ledger
	verifier Verifier
	resolve  AssetResolver
	log      logger.Logger
	metrics  metrics.Recorder
}

// New builds a Protocol over a ledger and a chain reader. The reader is only
// used through the verifier; pass WithVerifier to substitute one.
func New(ledger Ledger, reader ChainReader, opts ...Option) *Protocol {
	p := &Protocol{
		ledger:   ledger,
		verifier: NewOnChainVerifier(reader),
		resolve:  defaultResolveAsset,
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// defaultResolveAsset is the built-in token identifier resolution: "SOL" or
// empty means the native coin, anything else is taken to be a token mint with
// 9 decimals. Deployments install a registry-backed resolver via options.
func defaultResolveAsset(tokenID string) (Asset, error) {
	if tokenID == "" || strings.EqualFold(tokenID, "SOL") {
		return NativeAsset(), nil
	}
	return TokenAsset(tokenID, 9, tokenID), nil
}

// Create registers a payment request, idempotently on reference. When a
// payer wallet is supplied and the record is not yet locked, the lock is
// taken as part of creation; a lock held by a different wallet is surfaced
// as a conflict and never overwritten.
//
// The boolean is false when an existing pending record was returned.
func (p *Protocol) Create(ctx context.Context, params CreateParams) (*PaymentRequest, bool, error) {
	if params.Reference == "" {
		return nil, false, Errorf(ErrCodeInvalidInput, "reference is required")
	}
	if params.MerchantWallet == "" {
		return nil, false, Errorf(ErrCodeInvalidInput, "merchant wallet is required")
	}
	if params.Amount <= 0 {
		return nil, false, Errorf(ErrCodeInvalidInput, "amount must be positive")
	}

	start := time.Now()
	payment, created, err := p.ledger.Create(ctx, params)
	if err != nil {
		return nil, false, err
	}

	p.metrics.IncCounter(metrics.EventPaymentCreated, map[string]string{"token": payment.TokenID})
	p.metrics.ObserveLatency("create", time.Since(start), map[string]string{"token": payment.TokenID})
	p.log.Info("payment request created", map[string]any{
		"reference": payment.Reference,
		"amount":    payment.Amount,
		"token":     payment.TokenID,
		"existing":  !created,
	})
	return payment, created, nil
}

// Lock binds a pending payment request to a payer wallet so only that wallet
// can confirm it. Idempotent for the same wallet.
func (p *Protocol) Lock(ctx context.Context, reference, payerWallet string) (*PaymentRequest, error) {
	if reference == "" || payerWallet == "" {
		return nil, Errorf(ErrCodeInvalidInput, "reference and payer wallet are required")
	}

	payment, err := p.ledger.LockPayer(ctx, reference, payerWallet)
	if err != nil {
		return nil, err
	}

	p.metrics.IncCounter(metrics.EventPaymentLocked, map[string]string{"token": payment.TokenID})
	p.log.Info("payment locked to payer", map[string]any{
		"reference": reference,
		"payer":     TruncateAddress(payerWallet),
	})
	return payment, nil
}

// Confirm is the critical path: it accepts a settlement claim, verifies the
// transaction on-chain and commits the confirmed state exactly once.
//
// Retrying with the signature of an already-confirmed request succeeds
// idempotently without re-verification. A failed verification leaves the
// record pending so the client can retry with a corrected signature.
func (p *Protocol) Confirm(ctx context.Context, params ConfirmParams) (*ConfirmResult, error) {
	if params.Reference == "" || params.Signature == "" {
		return nil, Errorf(ErrCodeInvalidInput, "reference and signature are required")
	}
	if params.SenderWallet == "" {
		return nil, Errorf(ErrCodeInvalidInput, "sender wallet is required to verify the payment")
	}

	start := time.Now()
	payment, err := p.ledger.GetByReference(ctx, params.Reference)
	if err != nil {
		return nil, err
	}

	// Safe retry of a completed confirmation. An unlocked record has no
	// stored payer, but the original success already proved the chain
	// sender matched the caller's wallet, so the retry reports that.
	if payment.Status == StatusConfirmed && payment.Signature == params.Signature {
		verifiedSender := payment.ExpectedPayer
		if verifiedSender == "" {
			verifiedSender = params.SenderWallet
		}
		return &ConfirmResult{
			Payment:        payment,
			Verified:       true,
			ReceivedAmount: payment.Amount,
			VerifiedSender: verifiedSender,
		}, nil
	}

	if payment.Status == StatusConfirmed {
		return nil, Errorf(ErrCodeTerminal, "payment was already completed with a different transaction")
	}

	// Cheap reject before touching the chain.
	if payment.ExpectedPayer != "" && payment.ExpectedPayer != params.SenderWallet {
		return nil, Errorf(ErrCodeConflict,
			"payment is locked to wallet %s but confirmation was attempted from %s",
			TruncateAddress(payment.ExpectedPayer), TruncateAddress(params.SenderWallet))
	}

	// Anti-replay: one settlement signature satisfies at most one request.
	if other, err := p.ledger.GetBySignature(ctx, params.Signature); err == nil {
		if other.Reference != payment.Reference && other.Status == StatusConfirmed {
			p.metrics.IncCounter(metrics.EventSignatureReplay, map[string]string{"token": payment.TokenID})
			return nil, Errorf(ErrCodeConflict, "transaction has already been used for another payment")
		}
	} else if !IsCode(err, ErrCodeNotFound) {
		return nil, err
	}

	tokenID := params.TokenID
	if tokenID == "" {
		tokenID = payment.TokenID
	}
	asset, err := p.resolve(tokenID)
	if err != nil {
		return nil, Errorf(ErrCodeInvalidInput, "unknown token identifier %q: %v", tokenID, err)
	}

	expectedSender := payment.ExpectedPayer
	if expectedSender == "" {
		expectedSender = params.SenderWallet
	}

	verification, err := p.verifier.Verify(ctx, params.Signature, payment.MerchantWallet, payment.Amount, asset, expectedSender)
	if err != nil {
		p.metrics.IncCounter(metrics.EventAdapterError, map[string]string{"token": payment.TokenID})
		return nil, err
	}

	if !verification.Valid {
		p.metrics.IncCounter(metrics.EventVerificationFailed, map[string]string{"token": payment.TokenID})
		p.log.Warn("settlement verification failed", map[string]any{
			"reference": params.Reference,
			"signature": TruncateAddress(params.Signature),
			"reason":    verification.Reason,
		})
		return nil, NewPaymentError(ErrCodeUnverified, verification.Reason, map[string]interface{}{
			"hint": "the transaction could not be verified; it may still be processing, or the sender or amount did not match",
		})
	}

	confirmed, err := p.ledger.MarkConfirmed(ctx, params.Reference, params.Signature)
	if err != nil {
		return nil, err
	}

	p.metrics.IncCounter(metrics.EventPaymentConfirmed, map[string]string{"token": confirmed.TokenID})
	p.metrics.ObserveLatency("confirm", time.Since(start), map[string]string{"token": confirmed.TokenID})
	p.log.Info("payment confirmed", map[string]any{
		"reference": confirmed.Reference,
		"signature": TruncateAddress(confirmed.Signature),
		"amount":    verification.ReceivedAmount,
		"sender":    TruncateAddress(verification.SenderAddress),
	})

	return &ConfirmResult{
		Payment:        confirmed,
		Verified:       true,
		ReceivedAmount: verification.ReceivedAmount,
		VerifiedSender: verification.SenderAddress,
	}, nil
}

// Query answers a read-only reconciliation check. A confirmed record is
// re-verified against its stored signature before being reported as paid;
// a re-verification failure downgrades to paid=false instead of erroring,
// without touching the stored status.
func (p *Protocol) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	if params.Reference == "" {
		return nil, Errorf(ErrCodeInvalidInput, "reference is required")
	}

	payment, err := p.ledger.GetByReference(ctx, params.Reference)
	if err != nil {
		if IsCode(err, ErrCodeNotFound) {
			return &QueryResult{Paid: false, Error: "payment not found"}, nil
		}
		return nil, err
	}

	if params.MerchantWallet != "" && payment.MerchantWallet != params.MerchantWallet {
		return &QueryResult{Paid: false, Error: "merchant wallet mismatch"}, nil
	}
	if params.ExpectedAmount != nil && payment.Amount != *params.ExpectedAmount {
		return &QueryResult{Paid: false, Error: "amount mismatch"}, nil
	}

	result := &QueryResult{
		Signature: payment.Signature,
		Amount:    payment.Amount,
		Status:    payment.Status,
		Timestamp: payment.CreatedAt.UTC().Format(time.RFC3339),
		Payer:     payment.ExpectedPayer,
	}

	if payment.Status != StatusConfirmed || payment.Signature == "" {
		return result, nil
	}

	asset, err := p.resolve(payment.TokenID)
	if err != nil {
		result.VerificationError = err.Error()
		return result, nil
	}

	verification, err := p.verifier.Verify(ctx, payment.Signature, payment.MerchantWallet, payment.Amount, asset, payment.ExpectedPayer)
	if err != nil {
		// Read path must not fail the caller for transient chain issues,
		// but must not claim success either.
		result.VerificationError = err.Error()
		return result, nil
	}

	result.Paid = verification.Valid
	result.Verified = verification.Valid
	result.VerificationError = verification.Reason
	return result, nil
}

// VerifyOnChain runs the verifier directly against a signature without
// consulting the ledger. Used by the raw verification endpoint.
func (p *Protocol) VerifyOnChain(ctx context.Context, signature, merchantWallet string, expectedAmount float64, tokenID, expectedSender string) (VerificationResult, error) {
	if signature == "" || merchantWallet == "" {
		return VerificationResult{}, Errorf(ErrCodeInvalidInput, "signature and merchant wallet are required")
	}
	asset, err := p.resolve(tokenID)
	if err != nil {
		return VerificationResult{}, Errorf(ErrCodeInvalidInput, "unknown token identifier %q: %v", tokenID, err)
	}
	return p.verifier.Verify(ctx, signature, merchantWallet, expectedAmount, asset, expectedSender)
}

// Get returns a payment request by reference.
func (p *Protocol) Get(ctx context.Context, reference string) (*PaymentRequest, error) {
	if reference == "" {
		return nil, Errorf(ErrCodeInvalidInput, "reference is required")
	}
	return p.ledger.GetByReference(ctx, reference)
}

// ListByMerchant returns all payment requests destined for a merchant wallet
// in insertion order.
func (p *Protocol) ListByMerchant(ctx context.Context, merchantWallet string) ([]*PaymentRequest, error) {
	return p.ledger.ListByMerchant(ctx, merchantWallet)
}

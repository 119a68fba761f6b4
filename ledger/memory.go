// Package ledger provides Ledger implementations: an in-memory store for
// single-instance deployments and tests, and a Postgres store where the
// confirm transition and the signature index are one transactional commit.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
)

// MemoryLedger is an in-memory Ledger suitable for single-instance
// deployments where records do not need to survive a restart.
//
// A single mutex guards the reference table and the signature index, which
// serializes mutations per reference and makes MarkConfirmed plus the index
// insert one atomic step. Records are returned as copies so callers can never
// mutate stored state.
type MemoryLedger struct {
	mu       sync.RWMutex
	payments map[string]*pbtcpay.PaymentRequest
	// signature -> reference, written only by MarkConfirmed
	signatureIndex map[string]string
	// insertion order for ListByMerchant
	order []string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		payments:       make(map[string]*pbtcpay.PaymentRequest),
		signatureIndex: make(map[string]string),
	}
}

func (l *MemoryLedger) Create(ctx context.Context, params pbtcpay.CreateParams) (*pbtcpay.PaymentRequest, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.payments[params.Reference]; ok {
		if existing.Status == pbtcpay.StatusConfirmed {
			return nil, false, pbtcpay.Errorf(pbtcpay.ErrCodeTerminal, "payment already completed")
		}
		if params.ExpectedPayer != "" {
			if existing.ExpectedPayer == "" {
				existing.ExpectedPayer = params.ExpectedPayer
			} else if existing.ExpectedPayer != params.ExpectedPayer {
				return nil, false, pbtcpay.NewPaymentError(pbtcpay.ErrCodeConflict,
					"payment is locked to a different wallet",
					map[string]interface{}{"lockedWallet": pbtcpay.TruncateAddress(existing.ExpectedPayer)})
			}
		}
		return existing.Clone(), false, nil
	}

	payment := &pbtcpay.PaymentRequest{
		ID:             uuid.NewString(),
		Reference:      params.Reference,
		MerchantWallet: params.MerchantWallet,
		Amount:         params.Amount,
		TokenID:        params.TokenID,
		Memo:           params.Memo,
		Status:         pbtcpay.StatusPending,
		ExpectedPayer:  params.ExpectedPayer,
		CreatedAt:      time.Now(),
	}
	l.payments[params.Reference] = payment
	l.order = append(l.order, params.Reference)
	return payment.Clone(), true, nil
}

func (l *MemoryLedger) GetByReference(ctx context.Context, reference string) (*pbtcpay.PaymentRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	payment, ok := l.payments[reference]
	if !ok {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeNotFound, "payment request %q not found", reference)
	}
	return payment.Clone(), nil
}

func (l *MemoryLedger) GetBySignature(ctx context.Context, signature string) (*pbtcpay.PaymentRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	reference, ok := l.signatureIndex[signature]
	if !ok {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeNotFound, "no payment bound to signature %s", pbtcpay.TruncateAddress(signature))
	}
	return l.payments[reference].Clone(), nil
}

func (l *MemoryLedger) LockPayer(ctx context.Context, reference, payerWallet string) (*pbtcpay.PaymentRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	payment, ok := l.payments[reference]
	if !ok {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeNotFound, "payment request %q not found", reference)
	}
	if payment.Status == pbtcpay.StatusConfirmed {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeTerminal, "payment already completed")
	}
	if payment.ExpectedPayer != "" && payment.ExpectedPayer != payerWallet {
		return nil, pbtcpay.NewPaymentError(pbtcpay.ErrCodeConflict,
			"payment already locked to a different wallet",
			map[string]interface{}{"lockedWallet": pbtcpay.TruncateAddress(payment.ExpectedPayer)})
	}

	payment.ExpectedPayer = payerWallet
	return payment.Clone(), nil
}

func (l *MemoryLedger) MarkConfirmed(ctx context.Context, reference, signature string) (*pbtcpay.PaymentRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	payment, ok := l.payments[reference]
	if !ok {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeNotFound, "payment request %q not found", reference)
	}

	// Exactly one concurrent confirm attempt wins; later ones observe the
	// confirmed state here.
	if payment.Status == pbtcpay.StatusConfirmed {
		if payment.Signature == signature {
			return payment.Clone(), nil
		}
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeTerminal, "payment was already completed with a different transaction")
	}

	if bound, ok := l.signatureIndex[signature]; ok && bound != reference {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeConflict, "transaction has already been used for another payment")
	}

	payment.Status = pbtcpay.StatusConfirmed
	payment.Signature = signature
	l.signatureIndex[signature] = reference
	return payment.Clone(), nil
}

func (l *MemoryLedger) ListByMerchant(ctx context.Context, merchantWallet string) ([]*pbtcpay.PaymentRequest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var payments []*pbtcpay.PaymentRequest
	for _, reference := range l.order {
		payment := l.payments[reference]
		if merchantWallet == "" || payment.MerchantWallet == merchantWallet {
			payments = append(payments, payment.Clone())
		}
	}
	return payments, nil
}

var _ pbtcpay.Ledger = (*MemoryLedger)(nil)

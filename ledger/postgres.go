package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
)

// Schema is the payment_requests table. The unique constraint on signature is
// what makes anti-replay a single atomic commit together with the status
// update in MarkConfirmed.
const Schema = `
CREATE TABLE IF NOT EXISTS payment_requests (
    id              TEXT PRIMARY KEY,
    reference       TEXT NOT NULL UNIQUE,
    merchant_wallet TEXT NOT NULL,
    amount          DOUBLE PRECISION NOT NULL,
    token_id        TEXT NOT NULL,
    memo            TEXT,
    status          TEXT NOT NULL DEFAULT 'pending',
    signature       TEXT UNIQUE,
    expected_payer  TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    seq             BIGSERIAL
);
CREATE INDEX IF NOT EXISTS payment_requests_merchant_idx ON payment_requests (merchant_wallet, seq);
`

const selectColumns = `id, reference, merchant_wallet, amount, token_id,
	COALESCE(memo, ''), status, COALESCE(signature, ''), COALESCE(expected_payer, ''), created_at`

// querier is the subset of pgxpool.Pool the ledger issues statements
// through. Tests substitute a mock connection to pin down the SQL shape and
// the error classification without a live database.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresLedger is a Ledger backed by Postgres. Row-level locking and the
// unique signature constraint give the per-reference serialization the
// protocol requires without any in-process coordination, so multiple server
// instances can share one database.
type PostgresLedger struct {
	pool querier
}

// NewPostgresLedger connects a pool and verifies connectivity.
func NewPostgresLedger(ctx context.Context, connString string) (*PostgresLedger, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

// InitSchema creates the payment_requests table if it does not exist.
func (l *PostgresLedger) InitSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, Schema)
	return err
}

// Close releases the connection pool.
func (l *PostgresLedger) Close() {
	l.pool.Close()
}

func (l *PostgresLedger) Create(ctx context.Context, params pbtcpay.CreateParams) (*pbtcpay.PaymentRequest, bool, error) {
	row := l.pool.QueryRow(ctx, `
		INSERT INTO payment_requests (id, reference, merchant_wallet, amount, token_id, memo, expected_payer, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		ON CONFLICT (reference) DO NOTHING
		RETURNING `+selectColumns,
		uuid.NewString(), params.Reference, params.MerchantWallet, params.Amount,
		params.TokenID, params.Memo, params.ExpectedPayer, time.Now())

	payment, err := scanPayment(row)
	if err == nil {
		return payment, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("create payment: %w", err)
	}

	// Reference already exists: idempotent create, with lock merge.
	existing, err := l.GetByReference(ctx, params.Reference)
	if err != nil {
		return nil, false, err
	}
	if existing.Status == pbtcpay.StatusConfirmed {
		return nil, false, pbtcpay.Errorf(pbtcpay.ErrCodeTerminal, "payment already completed")
	}
	if params.ExpectedPayer != "" {
		if existing.ExpectedPayer == "" {
			merged, err := l.LockPayer(ctx, params.Reference, params.ExpectedPayer)
			if err != nil {
				return nil, false, err
			}
			return merged, false, nil
		}
		if existing.ExpectedPayer != params.ExpectedPayer {
			return nil, false, pbtcpay.NewPaymentError(pbtcpay.ErrCodeConflict,
				"payment is locked to a different wallet",
				map[string]interface{}{"lockedWallet": pbtcpay.TruncateAddress(existing.ExpectedPayer)})
		}
	}
	return existing, false, nil
}

func (l *PostgresLedger) GetByReference(ctx context.Context, reference string) (*pbtcpay.PaymentRequest, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM payment_requests WHERE reference = $1`, reference)
	payment, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeNotFound, "payment request %q not found", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by reference: %w", err)
	}
	return payment, nil
}

func (l *PostgresLedger) GetBySignature(ctx context.Context, signature string) (*pbtcpay.PaymentRequest, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM payment_requests WHERE signature = $1`, signature)
	payment, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeNotFound, "no payment bound to signature %s", pbtcpay.TruncateAddress(signature))
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by signature: %w", err)
	}
	return payment, nil
}

func (l *PostgresLedger) LockPayer(ctx context.Context, reference, payerWallet string) (*pbtcpay.PaymentRequest, error) {
	row := l.pool.QueryRow(ctx, `
		UPDATE payment_requests
		SET expected_payer = $2
		WHERE reference = $1
		  AND status = 'pending'
		  AND (expected_payer IS NULL OR expected_payer = $2)
		RETURNING `+selectColumns,
		reference, payerWallet)

	payment, err := scanPayment(row)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lock payer: %w", err)
	}

	// Nothing updated: classify against the current row.
	existing, err := l.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if existing.Status == pbtcpay.StatusConfirmed {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeTerminal, "payment already completed")
	}
	return nil, pbtcpay.NewPaymentError(pbtcpay.ErrCodeConflict,
		"payment already locked to a different wallet",
		map[string]interface{}{"lockedWallet": pbtcpay.TruncateAddress(existing.ExpectedPayer)})
}

func (l *PostgresLedger) MarkConfirmed(ctx context.Context, reference, signature string) (*pbtcpay.PaymentRequest, error) {
	// Single-statement compare-and-set: the status check and the signature
	// write commit together, and the unique signature constraint rejects a
	// concurrent binding of the same signature to another reference.
	row := l.pool.QueryRow(ctx, `
		UPDATE payment_requests
		SET status = 'confirmed', signature = $2
		WHERE reference = $1 AND status = 'pending'
		RETURNING `+selectColumns,
		reference, signature)

	payment, err := scanPayment(row)
	if err == nil {
		return payment, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeConflict, "transaction has already been used for another payment")
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark confirmed: %w", err)
	}

	existing, err := l.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if existing.Status == pbtcpay.StatusConfirmed {
		if existing.Signature == signature {
			return existing, nil
		}
		return nil, pbtcpay.Errorf(pbtcpay.ErrCodeTerminal, "payment was already completed with a different transaction")
	}
	return nil, fmt.Errorf("mark confirmed: payment %q in unexpected state %q", reference, existing.Status)
}

func (l *PostgresLedger) ListByMerchant(ctx context.Context, merchantWallet string) ([]*pbtcpay.PaymentRequest, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM payment_requests WHERE merchant_wallet = $1 OR $1 = '' ORDER BY seq`,
		merchantWallet)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*pbtcpay.PaymentRequest
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*pbtcpay.PaymentRequest, error) {
	var p pbtcpay.PaymentRequest
	err := row.Scan(&p.ID, &p.Reference, &p.MerchantWallet, &p.Amount, &p.TokenID,
		&p.Memo, &p.Status, &p.Signature, &p.ExpectedPayer, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

var _ pbtcpay.Ledger = (*PostgresLedger)(nil)

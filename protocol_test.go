package pbtcpay_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
	"github.com/purplebtc/pbtc-payments-go/ledger"
)

const (
	merchantWallet = "9yQ5nUvjvzwg3LA1PCm3jWmRCRzf72zfwybHSSTePbtc"
	payerWallet    = "4rL4RCWHz3iNCdCaveD8KcHfV9YWGsqSHFPo7X2zBNwa"
	otherWallet    = "7oK3jRwPzXb9dDcMveC5LbGfW2XVGsqTHGPo6Y3zANwb"
	pbtcMint       = "HfMbPyDdZH6QMaDDUokjYCkHxzjoGBMpgaUvpLWGbF5p"
	settlementSig  = "3Gv2mP1yTqkCwHxzjoGBMpgaUvpLWGbF5pDdZH6QMaDDUokjYCkHfMbPy4rL4RCWHz3iNCdCaveD8KcHfV9YWGsq"
)

// countingReader serves canned transaction records and counts fetches so
// tests can assert which paths touch the chain.
type countingReader struct {
	records map[string]*pbtcpay.TransactionRecord
	err     error
	calls   int
}

func (r *countingReader) GetTransaction(ctx context.Context, signature string) (*pbtcpay.TransactionRecord, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.records[signature], nil
}

func (r *countingReader) GetBalance(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}

// settledTransfer fabricates a transaction where payer sent amount of the
// PBTC mint to merchant.
func settledTransfer(merchant, payer string, amount float64) *pbtcpay.TransactionRecord {
	return &pbtcpay.TransactionRecord{
		Accounts: []string{payer, merchant},
		PreTokenBalances: []pbtcpay.TokenBalance{
			{AccountIndex: 0, Owner: payer, Mint: pbtcMint, UIAmount: 1000},
			{AccountIndex: 1, Owner: merchant, Mint: pbtcMint, UIAmount: 0},
		},
		PostTokenBalances: []pbtcpay.TokenBalance{
			{AccountIndex: 0, Owner: payer, Mint: pbtcMint, UIAmount: 1000 - amount},
			{AccountIndex: 1, Owner: merchant, Mint: pbtcMint, UIAmount: amount},
		},
	}
}

func settledReader(amount float64) *countingReader {
	return &countingReader{records: map[string]*pbtcpay.TransactionRecord{
		settlementSig: settledTransfer(merchantWallet, payerWallet, amount),
	}}
}

func newTestProtocol(t *testing.T, reader pbtcpay.ChainReader) *pbtcpay.Protocol {
	t.Helper()
	return pbtcpay.New(ledger.NewMemoryLedger(), reader)
}

func TestCreateIdempotentOnReference(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})
	ctx := context.Background()

	first, created, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: "pbtc"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, pbtcpay.StatusPending, first.Status)

	second, created, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: "pbtc"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateValidatesInput(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})
	ctx := context.Background()

	cases := []struct {
		name   string
		params pbtcpay.CreateParams
	}{
		{"missing reference", pbtcpay.CreateParams{MerchantWallet: merchantWallet, Amount: 25}},
		{"missing merchant", pbtcpay.CreateParams{Reference: "ord-1", Amount: 25}},
		{"zero amount", pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet}},
		{"negative amount", pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := p.Create(ctx, tc.params)
			assert.Equal(t, pbtcpay.ErrCodeInvalidInput, pbtcpay.ErrorCode(err))
		})
	}
}

func TestLockIsMonotonic(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: "pbtc"})
	require.NoError(t, err)

	locked, err := p.Lock(ctx, "ord-1", payerWallet)
	require.NoError(t, err)
	assert.Equal(t, payerWallet, locked.ExpectedPayer)

	// Same wallet re-locks fine.
	locked, err = p.Lock(ctx, "ord-1", payerWallet)
	require.NoError(t, err)
	assert.Equal(t, payerWallet, locked.ExpectedPayer)

	// A different wallet can never take over the lock.
	_, err = p.Lock(ctx, "ord-1", otherWallet)
	assert.Equal(t, pbtcpay.ErrCodeConflict, pbtcpay.ErrorCode(err))

	payment, err := p.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, payerWallet, payment.ExpectedPayer)
}

func TestConfirmHappyPath(t *testing.T) {
	p := newTestProtocol(t, settledReader(25))
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)
	_, err = p.Lock(ctx, "ord-1", payerWallet)
	require.NoError(t, err)

	result, err := p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, 25.0, result.ReceivedAmount)
	assert.Equal(t, payerWallet, result.VerifiedSender)
	assert.Equal(t, pbtcpay.StatusConfirmed, result.Payment.Status)
	assert.Equal(t, settlementSig, result.Payment.Signature)
}

func TestConfirmIdempotentRetry(t *testing.T) {
	reader := settledReader(25)
	p := newTestProtocol(t, reader)
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)
	_, err = p.Lock(ctx, "ord-1", payerWallet)
	require.NoError(t, err)

	first, err := p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)
	fetches := reader.calls

	// The retry must not hit the chain again.
	second, err := p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)
	assert.Equal(t, fetches, reader.calls)
	assert.Equal(t, first, second)
}

func TestConfirmIdempotentRetryWithoutLock(t *testing.T) {
	reader := settledReader(25)
	p := newTestProtocol(t, reader)
	ctx := context.Background()

	// Never locked: the record carries no expected payer, yet the retry
	// must still report the same verified sender as the first success.
	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)

	first, err := p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)
	assert.Equal(t, payerWallet, first.VerifiedSender)

	second, err := p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestConfirmDifferentSignatureAfterConfirm(t *testing.T) {
	otherSig := "2" + settlementSig[1:]
	reader := settledReader(25)
	reader.records[otherSig] = settledTransfer(merchantWallet, payerWallet, 25)
	p := newTestProtocol(t, reader)
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)
	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)

	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: otherSig, SenderWallet: payerWallet})
	assert.Equal(t, pbtcpay.ErrCodeTerminal, pbtcpay.ErrorCode(err))
}

func TestConfirmSignatureReplayAcrossReferences(t *testing.T) {
	p := newTestProtocol(t, settledReader(25))
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)
	_, _, err = p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-2", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)

	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)

	// The same on-chain transfer cannot also satisfy ord-2.
	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-2", Signature: settlementSig, SenderWallet: payerWallet})
	assert.Equal(t, pbtcpay.ErrCodeConflict, pbtcpay.ErrorCode(err))

	second, err := p.Get(ctx, "ord-2")
	require.NoError(t, err)
	assert.Equal(t, pbtcpay.StatusPending, second.Status)
	assert.Empty(t, second.Signature)
}

func TestConfirmLockedPayerRejectedWithoutChainFetch(t *testing.T) {
	reader := &countingReader{records: map[string]*pbtcpay.TransactionRecord{
		settlementSig: settledTransfer(merchantWallet, otherWallet, 25),
	}}
	p := newTestProtocol(t, reader)
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint, ExpectedPayer: payerWallet})
	require.NoError(t, err)

	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: otherWallet})
	assert.Equal(t, pbtcpay.ErrCodeConflict, pbtcpay.ErrorCode(err))
	assert.Zero(t, reader.calls, "locked-payer mismatch must be rejected before any chain fetch")
}

func TestConfirmUnverifiedLeavesPending(t *testing.T) {
	p := newTestProtocol(t, settledReader(24.9))
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)

	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.Error(t, err)
	assert.Equal(t, pbtcpay.ErrCodeUnverified, pbtcpay.ErrorCode(err))

	payment, err := p.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, pbtcpay.StatusPending, payment.Status)
	assert.Empty(t, payment.Signature)
}

func TestConfirmAdapterErrorLeavesPending(t *testing.T) {
	p := newTestProtocol(t, &countingReader{err: errors.New("rpc timeout")})
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)

	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	assert.Equal(t, pbtcpay.ErrCodeAdapterUnavailable, pbtcpay.ErrorCode(err))

	payment, err := p.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, pbtcpay.StatusPending, payment.Status)
}

func TestConfirmUnknownReference(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})

	_, err := p.Confirm(context.Background(), pbtcpay.ConfirmParams{Reference: "nope", Signature: settlementSig, SenderWallet: payerWallet})
	assert.Equal(t, pbtcpay.ErrCodeNotFound, pbtcpay.ErrorCode(err))
}

func TestQueryReVerifiesConfirmedPayment(t *testing.T) {
	p := newTestProtocol(t, settledReader(25))
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)
	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)

	result, err := p.Query(ctx, pbtcpay.QueryParams{Reference: "ord-1", MerchantWallet: merchantWallet})
	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.True(t, result.Verified)
	assert.Equal(t, settlementSig, result.Signature)
	assert.Equal(t, pbtcpay.StatusConfirmed, result.Status)
	assert.Equal(t, 25.0, result.Amount)
}

func TestQueryPendingPayment(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)

	result, err := p.Query(ctx, pbtcpay.QueryParams{Reference: "ord-1"})
	require.NoError(t, err)
	assert.False(t, result.Paid)
	assert.Equal(t, pbtcpay.StatusPending, result.Status)
	assert.Empty(t, result.Signature)
}

func TestQueryUnknownReference(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})

	result, err := p.Query(context.Background(), pbtcpay.QueryParams{Reference: "nope"})
	require.NoError(t, err)
	assert.False(t, result.Paid)
	assert.Equal(t, "payment not found", result.Error)
}

func TestQueryCrossChecksMerchantAndAmount(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)

	result, err := p.Query(ctx, pbtcpay.QueryParams{Reference: "ord-1", MerchantWallet: otherWallet})
	require.NoError(t, err)
	assert.False(t, result.Paid)
	assert.Equal(t, "merchant wallet mismatch", result.Error)

	wrong := 30.0
	result, err = p.Query(ctx, pbtcpay.QueryParams{Reference: "ord-1", MerchantWallet: merchantWallet, ExpectedAmount: &wrong})
	require.NoError(t, err)
	assert.False(t, result.Paid)
	assert.Equal(t, "amount mismatch", result.Error)
}

func TestQueryDowngradesOnAdapterError(t *testing.T) {
	reader := settledReader(25)
	p := newTestProtocol(t, reader)
	ctx := context.Background()

	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "ord-1", MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
	require.NoError(t, err)
	_, err = p.Confirm(ctx, pbtcpay.ConfirmParams{Reference: "ord-1", Signature: settlementSig, SenderWallet: payerWallet})
	require.NoError(t, err)

	// Chain goes away after confirmation: the read path reports the stored
	// state without claiming a verified payment.
	reader.err = errors.New("rpc unavailable")
	result, err := p.Query(ctx, pbtcpay.QueryParams{Reference: "ord-1"})
	require.NoError(t, err)
	assert.False(t, result.Paid)
	assert.Equal(t, pbtcpay.StatusConfirmed, result.Status)
	assert.NotEmpty(t, result.VerificationError)
}

func TestVerifyOnChainResolvesToken(t *testing.T) {
	p := newTestProtocol(t, settledReader(25))

	result, err := p.VerifyOnChain(context.Background(), settlementSig, merchantWallet, 25, pbtcMint, "")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, payerWallet, result.SenderAddress)
}

func TestListByMerchantPreservesOrder(t *testing.T) {
	p := newTestProtocol(t, &countingReader{})
	ctx := context.Background()

	for _, ref := range []string{"ord-1", "ord-2", "ord-3"} {
		_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: ref, MerchantWallet: merchantWallet, Amount: 25, TokenID: pbtcMint})
		require.NoError(t, err)
	}
	_, _, err := p.Create(ctx, pbtcpay.CreateParams{Reference: "other-1", MerchantWallet: otherWallet, Amount: 5, TokenID: pbtcMint})
	require.NoError(t, err)

	payments, err := p.ListByMerchant(ctx, merchantWallet)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "ord-1", payments[0].Reference)
	assert.Equal(t, "ord-3", payments[2].Reference)
}

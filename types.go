package pbtcpay

import "time"

// Status is the persisted lifecycle state of a payment request.
// "processing" is a client-side UI state only and is never stored.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// AmountTolerance is the absolute tolerance, in display units, applied when
// comparing an on-chain balance delta against the expected amount. Balance
// reporting goes through decimal string formatting on the RPC side, so exact
// float equality is not achievable.
const AmountTolerance = 0.0001

// AssetKind discriminates the closed set of asset variants a payment can be
// denominated in.
type AssetKind int

const (
	// AssetNative is the chain's native coin (SOL), tracked in the
	// transaction's lamport balance table.
	AssetNative AssetKind = iota
	// AssetToken is a fungible SPL token, tracked in the transaction's
	// token balance table and identified by its mint.
	AssetToken
)

// Asset identifies the asset a payment is denominated in. It is resolved once
// from the caller-supplied token identifier at the protocol boundary; the
// verifier never re-derives behavior from a string.
type Asset struct {
	Kind     AssetKind
	Mint     string // token mint address; empty for the native asset
	Decimals uint8
	Symbol   string
}

// NativeAsset returns the native-coin asset variant.
func NativeAsset() Asset {
	return Asset{Kind: AssetNative, Decimals: 9, Symbol: "SOL"}
}

// TokenAsset returns the fungible-token asset variant for the given mint.
func TokenAsset(mint string, decimals uint8, symbol string) Asset {
	return Asset{Kind: AssetToken, Mint: mint, Decimals: decimals, Symbol: symbol}
}

// AssetResolver maps a caller-supplied token identifier (a symbol such as
// "PBTC" or "SOL", or a raw mint address) to an Asset variant.
type AssetResolver func(tokenID string) (Asset, error)

// PaymentRequest is the unit of work tracked by the ledger.
//
// Reference, MerchantWallet, Amount, TokenID, Memo and CreatedAt are immutable
// after creation. ExpectedPayer is set at most once. Signature is set exactly
// once, by the transition to StatusConfirmed.
type PaymentRequest struct {
	ID             string    `json:"id"`
	Reference      string    `json:"reference"`
	MerchantWallet string    `json:"merchantWallet"`
	Amount         float64   `json:"amount"`
	TokenID        string    `json:"tokenId"`
	Memo           string    `json:"memo,omitempty"`
	Status         Status    `json:"status"`
	Signature      string    `json:"signature,omitempty"`
	ExpectedPayer  string    `json:"expectedPayer,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Clone returns a copy of the request so callers cannot mutate ledger state
// through a returned pointer.
func (p *PaymentRequest) Clone() *PaymentRequest {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// CreateParams are the caller-supplied fields for a new payment request.
type CreateParams struct {
	Reference      string
	MerchantWallet string
	Amount         float64
	TokenID        string
	Memo           string
	ExpectedPayer  string // optional: lock the request to this payer on create
}

// ConfirmParams carry a settlement claim into the reconciliation protocol.
type ConfirmParams struct {
	Reference    string
	Signature    string
	SenderWallet string
	TokenID      string // optional override; defaults to the record's token
}

// ConfirmResult is the success payload of a Confirm call.
type ConfirmResult struct {
	Payment        *PaymentRequest `json:"payment"`
	Verified       bool            `json:"verified"`
	ReceivedAmount float64         `json:"receivedAmount"`
	VerifiedSender string          `json:"verifiedSender,omitempty"`
}

// QueryParams select a payment request for a read-only reconciliation check.
type QueryParams struct {
	Reference      string
	MerchantWallet string
	ExpectedAmount *float64 // optional cross-check against the stored amount
}

// QueryResult answers a read-only reconciliation query. Paid is true only if
// the stored record is confirmed AND its signature re-verifies on-chain at
// query time.
type QueryResult struct {
	Paid              bool    `json:"paid"`
	Signature         string  `json:"signature,omitempty"`
	Amount            float64 `json:"amount,omitempty"`
	Status            Status  `json:"status,omitempty"`
	Timestamp         string  `json:"timestamp,omitempty"`
	Verified          bool    `json:"verified,omitempty"`
	VerificationError string  `json:"verificationError,omitempty"`
	Payer             string  `json:"payer,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// VerificationResult is the verdict produced by the on-chain verifier.
//
// Valid=false with a Reason is a definitive verdict about the transaction as
// currently visible on-chain; transport failures are reported separately as
// errors so callers can distinguish "rejected" from "could not check".
type VerificationResult struct {
	Valid          bool    `json:"valid"`
	ReceivedAmount float64 `json:"receivedAmount,omitempty"`
	SenderAddress  string  `json:"senderAddress,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// TokenBalance is one entry of a transaction's token balance table, already
// converted to display units.
type TokenBalance struct {
	AccountIndex int
	Owner        string
	Mint         string
	UIAmount     float64
}

// TransactionRecord is the chain-access view of a confirmed transaction:
// exactly the fields balance-delta verification needs, decoupled from any
// particular RPC client's response envelope.
//
// Accounts lists every account touched by the transaction, fee payer first.
// PreBalances and PostBalances are lamport balances aligned index-for-index
// with Accounts.
type TransactionRecord struct {
	Slot              uint64
	BlockTime         time.Time
	Failed            bool
	Accounts          []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// AccountIndex returns the position of address in the touched-accounts set,
// or -1 if the transaction never references it.
func (r *TransactionRecord) AccountIndex(address string) int {
	for i, acc := range r.Accounts {
		if acc == address {
			return i
		}
	}
	return -1
}

// FeePayer returns the first account key, which on Solana is the fee payer
// and first signer. Empty if the record carries no accounts.
func (r *TransactionRecord) FeePayer() string {
	if len(r.Accounts) == 0 {
		return ""
	}
	return r.Accounts[0]
}

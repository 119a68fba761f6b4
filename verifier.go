package pbtcpay

import (
	"context"
	"fmt"
	"math"
)

// OnChainVerifier checks claimed settlements against transaction balance
// deltas fetched through a ChainReader. It holds no mutable state and is safe
// for concurrent use.
type OnChainVerifier struct {
	reader ChainReader
}

// NewOnChainVerifier creates a verifier backed by the given chain reader.
func NewOnChainVerifier(reader ChainReader) *OnChainVerifier {
	return &OnChainVerifier{reader: reader}
}

// Verify fetches the transaction for signature and decides whether it settles
// a transfer of expectedAmount (display units, within AmountTolerance) of the
// asset to merchantWallet. The verdict is recomputed from chain data on every
// call; nothing is cached.
func (v *OnChainVerifier) Verify(
	ctx context.Context,
	signature string,
	merchantWallet string,
	expectedAmount float64,
	asset Asset,
	expectedSender string,
) (VerificationResult, error) {
	record, err := v.reader.GetTransaction(ctx, signature)
	if err != nil {
		return VerificationResult{}, Errorf(ErrCodeAdapterUnavailable,
			"failed to fetch transaction %s: %v", TruncateAddress(signature), err)
	}

	if record == nil {
		return invalid("transaction not found on-chain; it may still be processing"), nil
	}

	if record.Failed {
		return invalid("transaction failed on-chain"), nil
	}

	var received float64
	var sender string
	var result VerificationResult

	switch asset.Kind {
	case AssetNative:
		result = v.verifyNative(record, merchantWallet, asset)
	case AssetToken:
		result = v.verifyToken(record, merchantWallet, asset)
	default:
		return VerificationResult{}, Errorf(ErrCodeInvalidInput, "unknown asset kind %d", asset.Kind)
	}
	if !result.Valid {
		return result, nil
	}
	received, sender = result.ReceivedAmount, result.SenderAddress

	if math.Abs(received-expectedAmount) > AmountTolerance {
		return VerificationResult{
			ReceivedAmount: received,
			SenderAddress:  sender,
			Reason: fmt.Sprintf("amount mismatch: expected %v %s, received %.9f %s",
				expectedAmount, asset.Symbol, received, asset.Symbol),
		}, nil
	}

	if expectedSender != "" && sender != "" && sender != expectedSender {
		return VerificationResult{
			ReceivedAmount: received,
			SenderAddress:  sender,
			Reason: fmt.Sprintf("sender mismatch: payment was locked to wallet %s but transaction was sent by %s",
				TruncateAddress(expectedSender), TruncateAddress(sender)),
		}, nil
	}

	return VerificationResult{
		Valid:          true,
		ReceivedAmount: received,
		SenderAddress:  sender,
	}, nil
}

// verifyNative computes the merchant's lamport balance delta. The sender of a
// native transfer is the fee payer / first signer.
func (v *OnChainVerifier) verifyNative(record *TransactionRecord, merchantWallet string, asset Asset) VerificationResult {
	idx := record.AccountIndex(merchantWallet)
	if idx == -1 {
		return invalid("merchant wallet not found in transaction")
	}

	var pre, post uint64
	if idx < len(record.PreBalances) {
		pre = record.PreBalances[idx]
	}
	if idx < len(record.PostBalances) {
		post = record.PostBalances[idx]
	}

	received := lamportsToDisplay(int64(post)-int64(pre), asset.Decimals)
	if received <= 0 {
		return invalid("no positive transfer to merchant detected")
	}

	return VerificationResult{
		Valid:          true,
		ReceivedAmount: received,
		SenderAddress:  record.FeePayer(),
	}
}

// verifyToken computes the merchant's token balance delta for the asset's
// mint and attributes the sender from the token balance table.
func (v *OnChainVerifier) verifyToken(record *TransactionRecord, merchantWallet string, asset Asset) VerificationResult {
	post, ok := findTokenBalance(record.PostTokenBalances, merchantWallet, asset.Mint)
	if !ok {
		return invalid("merchant wallet not found in transaction token balances")
	}

	var preAmount float64
	if pre, ok := findTokenBalance(record.PreTokenBalances, merchantWallet, asset.Mint); ok {
		preAmount = pre.UIAmount
	}

	received := post.UIAmount - preAmount
	if received <= 0 {
		return invalid("no positive transfer to merchant detected")
	}

	return VerificationResult{
		Valid:          true,
		ReceivedAmount: received,
		SenderAddress:  v.tokenSender(record, merchantWallet, asset.Mint),
	}
}

// tokenSender attributes the actual sender of a token transfer: the owner in
// the pre-balance table (other than the merchant, same mint) whose balance
// decreased. This is a heuristic, not a protocol guarantee; a multi-party
// transaction could misattribute. When nothing matches, fall back to the fee
// payer / first signer.
func (v *OnChainVerifier) tokenSender(record *TransactionRecord, merchantWallet, mint string) string {
	for _, pre := range record.PreTokenBalances {
		if pre.Mint != mint || pre.Owner == merchantWallet || pre.Owner == "" {
			continue
		}
		var postAmount float64
		if post, ok := findTokenBalance(record.PostTokenBalances, pre.Owner, mint); ok {
			postAmount = post.UIAmount
		}
		if pre.UIAmount-postAmount > 0 {
			return pre.Owner
		}
	}
	return record.FeePayer()
}

func findTokenBalance(balances []TokenBalance, owner, mint string) (TokenBalance, bool) {
	for _, b := range balances {
		if b.Owner == owner && b.Mint == mint {
			return b, true
		}
	}
	return TokenBalance{}, false
}

func lamportsToDisplay(delta int64, decimals uint8) float64 {
	return float64(delta) / math.Pow10(int(decimals))
}

func invalid(reason string) VerificationResult {
	return VerificationResult{Reason: reason}
}

var _ Verifier = (*OnChainVerifier)(nil)

// Package client implements the paying side of a checkout: it builds, signs
// and submits the settlement transfer, then reports the resulting signature
// to the payment server for confirmation.
package client

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

const (
	// Compute budget for ComputeLimit + ComputePrice + TransferChecked,
	// with headroom for an ATA creation.
	transferComputeUnits = 40000
	computeUnitPrice     = 1000 // micro-lamports

	// estimatedFeeLamports is the headroom kept above a native transfer
	// amount when checking the payer's balance.
	estimatedFeeLamports = 50_000
	lamportsPerSol       = 1_000_000_000
)

// Checkout sends settlement transfers on behalf of a paying wallet.
type Checkout struct {
	rpc    *rpc.Client
	signer Signer
}

// NewCheckout creates a checkout client against an RPC endpoint.
func NewCheckout(rpcURL string, signer Signer) *Checkout {
	return &Checkout{rpc: rpc.New(rpcURL), signer: signer}
}

// PayToken transfers amount (display units) of the mint's token from the
// payer to the recipient wallet and returns the settlement signature. The
// recipient's associated token account is created when missing, funded by the
// payer.
func (c *Checkout) PayToken(ctx context.Context, recipient string, amount float64, mint string) (solana.Signature, error) {
	mintPubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid mint address: %w", err)
	}
	recipientPubkey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid recipient address: %w", err)
	}
	payer := c.signer.PublicKey()

	// The mint account tells us the decimals for TransferChecked.
	mintAccount, err := c.rpc.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get mint account: %w", err)
	}
	if owner := mintAccount.Value.Owner; owner != solana.TokenProgramID && owner != solana.Token2022ProgramID {
		return solana.Signature{}, fmt.Errorf("asset was not created by a known token program")
	}
	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(payer, mintPubkey)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(recipientPubkey, mintPubkey)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	builder := solana.NewTransactionBuilder()
	if err := c.addComputeBudget(builder); err != nil {
		return solana.Signature{}, err
	}

	// Create the recipient's token account when it does not exist yet.
	destAccount, err := c.rpc.GetAccountInfo(ctx, destinationATA)
	if err != nil && !errors.Is(err, rpc.ErrNotFound) {
		return solana.Signature{}, fmt.Errorf("failed to check destination token account: %w", err)
	}
	if err != nil || destAccount == nil || destAccount.Value == nil {
		builder.AddInstruction(
			associatedtokenaccount.NewCreateInstruction(payer, recipientPubkey, mintPubkey).Build(),
		)
	}

	rawAmount, err := toBaseUnits(amount, mintData.Decimals)
	if err != nil {
		return solana.Signature{}, err
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(rawAmount).
		SetDecimals(mintData.Decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mintPubkey).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(payer).
		ValidateAndBuild()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	builder.AddInstruction(transferIx)

	return c.signAndSubmit(ctx, builder, payer)
}

// PayNative transfers amount SOL from the payer to the recipient and returns
// the settlement signature. The payer's balance is checked up front with fee
// headroom so an obviously doomed transfer is rejected without submission.
func (c *Checkout) PayNative(ctx context.Context, recipient string, amount float64) (solana.Signature, error) {
	recipientPubkey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid recipient address: %w", err)
	}
	payer := c.signer.PublicKey()

	lamports, err := toBaseUnits(amount, 9)
	if err != nil {
		return solana.Signature{}, err
	}

	balance, err := c.rpc.GetBalance(ctx, payer, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to check balance: %w", err)
	}
	if balance.Value < lamports+estimatedFeeLamports {
		return solana.Signature{}, fmt.Errorf(
			"insufficient SOL balance: have %.6f SOL, need approximately %.6f SOL",
			float64(balance.Value)/lamportsPerSol,
			float64(lamports+estimatedFeeLamports)/lamportsPerSol)
	}

	builder := solana.NewTransactionBuilder()
	if err := c.addComputeBudget(builder); err != nil {
		return solana.Signature{}, err
	}
	builder.AddInstruction(
		system.NewTransferInstruction(lamports, payer, recipientPubkey).Build(),
	)

	return c.signAndSubmit(ctx, builder, payer)
}

func (c *Checkout) addComputeBudget(builder *solana.TransactionBuilder) error {
	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(transferComputeUnits).
		ValidateAndBuild()
	if err != nil {
		return fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(computeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return fmt.Errorf("failed to build compute price instruction: %w", err)
	}
	builder.AddInstruction(cuLimit).AddInstruction(cuPrice)
	return nil
}

func (c *Checkout) signAndSubmit(ctx context.Context, builder *solana.TransactionBuilder, payer solana.PublicKey) (solana.Signature, error) {
	latest, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := builder.
		SetRecentBlockHash(latest.Value.Blockhash).
		SetFeePayer(payer).
		Build()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// toBaseUnits converts a display-unit amount to raw base units without the
// drift a float multiply would introduce.
func toBaseUnits(amount float64, decimals uint8) (uint64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	raw := decimal.NewFromFloat(amount).Shift(int32(decimals)).Round(0)
	if raw.Sign() <= 0 || !raw.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %v out of range", amount)
	}
	return raw.BigInt().Uint64(), nil
}

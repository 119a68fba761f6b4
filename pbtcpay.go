// Package pbtcpay implements non-custodial acceptance of PBTC and SOL
// payments on Solana: a durable payment-request ledger, an on-chain verifier
// that confirms transfers from transaction balance deltas, and the
// reconciliation protocol tying them together with idempotent confirmation
// and settlement-signature anti-replay.
//
// The merchant backend creates a payment request, the paying wallet settles
// it off-process, and the client submits the resulting transaction signature
// for confirmation. The server never trusts the claim: every confirmation
// re-reads the transaction from the chain and checks recipient, amount and
// sender before the request transitions to its terminal confirmed state.
package pbtcpay

// Version is the SDK version.
const Version = "1.2.0"

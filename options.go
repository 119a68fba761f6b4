package pbtcpay

import (
	"github.com/purplebtc/pbtc-payments-go/logger"
	"github.com/purplebtc/pbtc-payments-go/metrics"
)

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger wires a structured logger. Default is a noop logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Protocol) {
		p.log = log
	}
}

// WithMetrics wires a metrics recorder. Default is a noop recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(p *Protocol) {
		p.metrics = rec
	}
}

// WithVerifier replaces the default on-chain verifier. Used by tests and by
// deployments that wrap verification with extra policy.
func WithVerifier(v Verifier) Option {
	return func(p *Protocol) {
		p.verifier = v
	}
}

// WithAssetResolver replaces the default token identifier resolution. The
// default treats "SOL" (or an empty identifier) as the native coin and any
// other identifier as a token mint address with 9 decimals; deployments
// normally install the config package's registry-backed resolver instead.
func WithAssetResolver(resolve AssetResolver) Option {
	return func(p *Protocol) {
		p.resolve = resolve
	}
}

package metrics

import "time"

// Recorder counts payment events and observes operation latency. The
// reconciliation protocol reports through this interface; deployments pick
// the Prometheus recorder or the noop one.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}

// Event names reported by the protocol.
const (
	EventPaymentCreated     = "payment_created"
	EventPaymentLocked      = "payment_locked"
	EventPaymentConfirmed   = "payment_confirmed"
	EventVerificationFailed = "verification_failed"
	EventSignatureReplay    = "signature_replay"
	EventAdapterError       = "adapter_error"
)

package metrics

import "time"

// NoopRecorder drops all measurements. Default when metrics are not wired.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

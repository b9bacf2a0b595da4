package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncCreditDebited(status string) {}
func (n *NoopRecorder) IncCreditGranted(reason string) {}
func (n *NoopRecorder) IncGeneration(status string) {}
func (n *NoopRecorder) IncProviderAttempt(status string) {}
func (n *NoopRecorder) ObserveGenerationDuration(duration time.Duration) {}
func (n *NoopRecorder) IncAssetDeleted() {}
func (n *NoopRecorder) IncPaymentInitiated(status string) {}
func (n *NoopRecorder) IncPaymentVerified(outcome string) {}
func (n *NoopRecorder) ObserveSweep(string, int, int, time.Duration) {}
func (n *NoopRecorder) IncNotification(status string) {}

// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Ledger metrics
	IncCreditDebited(status string) // status: "success" or "insufficient"
	IncCreditGranted(reason string) // reason: "payment", "refund", ...

	// Generation metrics
	IncGeneration(status string) // status: "success", "failed", "insufficient"
	IncProviderAttempt(status string)
	ObserveGenerationDuration(duration time.Duration)
	IncAssetDeleted()

	// Payment metrics
	IncPaymentInitiated(status string)
	IncPaymentVerified(outcome string) // outcome: "credited", "already_paid", "not_confirmed", "failed", "closed"

	// Reconciler metrics
	ObserveSweep(kind string, deleted, failed int, duration time.Duration)

	// Notification outbox metrics
	IncNotification(status string) // status: "enqueued", "delivered", "failed", "exhausted"
}


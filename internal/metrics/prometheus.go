package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	creditsDebited     *prometheus.CounterVec
	creditsGranted     *prometheus.CounterVec
	generations        *prometheus.CounterVec
	providerAttempts   *prometheus.CounterVec
	generationDuration prometheus.Histogram
	assetsDeleted      prometheus.Counter
	paymentsInitiated  *prometheus.CounterVec
	paymentsVerified   *prometheus.CounterVec
	sweepDuration      *prometheus.HistogramVec
	sweepItems         *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// NewPrometheus registers all collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)

	return &PrometheusRecorder{
		creditsDebited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_credit_debits_total",
			Help: "Credit debit attempts, labeled by outcome",
		}, []string{"status"}),
		creditsGranted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_credit_grants_total",
			Help: "Applied credit grants, labeled by reason",
		}, []string{"reason"}),
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_generations_total",
			Help: "Image generation requests, labeled by outcome",
		}, []string{"status"}),
		providerAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_provider_attempts_total",
			Help: "Calls to the generation provider, labeled by outcome",
		}, []string{"status"}),
		generationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "imagify_generation_duration_seconds",
			Help:    "End-to-end generation latency",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}),
		assetsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "imagify_assets_deleted_total",
			Help: "Assets deleted by their owners",
		}),
		paymentsInitiated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_payments_initiated_total",
			Help: "Payment initiations, labeled by outcome",
		}, []string{"status"}),
		paymentsVerified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_payments_verified_total",
			Help: "Payment verifications, labeled by outcome",
		}, []string{"outcome"}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagify_sweep_duration_seconds",
			Help:    "Reconciler sweep latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		sweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_sweep_items_total",
			Help: "Items handled by reconciler sweeps",
		}, []string{"kind", "result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "imagify_notifications_total",
			Help: "Notification outbox events, labeled by status",
		}, []string{"status"}),
	}
}

func (p *PrometheusRecorder) IncCreditDebited(status string) {
	p.creditsDebited.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncCreditGranted(reason string) {
	p.creditsGranted.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncGeneration(status string) {
	p.generations.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncProviderAttempt(status string) {
	p.providerAttempts.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveGenerationDuration(duration time.Duration) {
	p.generationDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncAssetDeleted() {
	p.assetsDeleted.Inc()
}

func (p *PrometheusRecorder) IncPaymentInitiated(status string) {
	p.paymentsInitiated.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncPaymentVerified(outcome string) {
	p.paymentsVerified.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveSweep(kind string, deleted, failed int, duration time.Duration) {
	p.sweepDuration.WithLabelValues(kind).Observe(duration.Seconds())
	p.sweepItems.WithLabelValues(kind, "deleted").Add(float64(deleted))
	p.sweepItems.WithLabelValues(kind, "failed").Add(float64(failed))
}

func (p *PrometheusRecorder) IncNotification(status string) {
	p.notifications.WithLabelValues(status).Inc()
}

var (
	_ Recorder = (*PrometheusRecorder)(nil)
	_ Recorder = (*InMemoryRecorder)(nil)
	_ Recorder = (*NoopRecorder)(nil)
)

// RegisterQueueDepth exports a gauge sampled from depth on every scrape.
// Sampling errors report -1.
func RegisterQueueDepth(reg prometheus.Registerer, name, help string, depth func(ctx context.Context) (int64, error)) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := depth(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	})
}

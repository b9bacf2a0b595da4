package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters. Labelled counters are keyed
// by their label value.
type Snapshot struct {
	CreditsDebited          map[string]uint64
	CreditsGranted          map[string]uint64
	Generations             map[string]uint64
	ProviderAttempts        map[string]uint64
	GenerationDurationCount uint64
	GenerationDurationNs    int64
	AssetsDeleted           uint64
	PaymentsInitiated       map[string]uint64
	PaymentsVerified        map[string]uint64
	SweepRuns               map[string]uint64
	SweepDeleted            map[string]uint64
	SweepFailed             map[string]uint64
	Notifications           map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	generationDurationCount uint64
	generationDurationNs    int64
	assetsDeleted           uint64

	mu       sync.Mutex
	counters map[string]map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{counters: make(map[string]map[string]uint64)}
}

func (m *InMemoryRecorder) add(name, label string, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[name]
	if !ok {
		c = make(map[string]uint64)
		m.counters[name] = c
	}
	c[label] += n
}

func (m *InMemoryRecorder) copyOf(name string) map[string]uint64 {
	out := make(map[string]uint64, len(m.counters[name]))
	for k, v := range m.counters[name] {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		CreditsDebited:          m.copyOf("credits_debited"),
		CreditsGranted:          m.copyOf("credits_granted"),
		Generations:             m.copyOf("generations"),
		ProviderAttempts:        m.copyOf("provider_attempts"),
		GenerationDurationCount: atomic.LoadUint64(&m.generationDurationCount),
		GenerationDurationNs:    atomic.LoadInt64(&m.generationDurationNs),
		AssetsDeleted:           atomic.LoadUint64(&m.assetsDeleted),
		PaymentsInitiated:       m.copyOf("payments_initiated"),
		PaymentsVerified:        m.copyOf("payments_verified"),
		SweepRuns:               m.copyOf("sweep_runs"),
		SweepDeleted:            m.copyOf("sweep_deleted"),
		SweepFailed:             m.copyOf("sweep_failed"),
		Notifications:           m.copyOf("notifications"),
	}
}

func (m *InMemoryRecorder) IncCreditDebited(status string) { m.add("credits_debited", status, 1) }

func (m *InMemoryRecorder) IncCreditGranted(reason string) { m.add("credits_granted", reason, 1) }

func (m *InMemoryRecorder) IncGeneration(status string) { m.add("generations", status, 1) }

func (m *InMemoryRecorder) IncProviderAttempt(status string) { m.add("provider_attempts", status, 1) }

// ObserveGenerationDuration records end-to-end generation duration.
func (m *InMemoryRecorder) ObserveGenerationDuration(duration time.Duration) {
	atomic.AddUint64(&m.generationDurationCount, 1)
	atomic.AddInt64(&m.generationDurationNs, duration.Nanoseconds())
}

// IncAssetDeleted increments the asset deleted counter.
func (m *InMemoryRecorder) IncAssetDeleted() {
	atomic.AddUint64(&m.assetsDeleted, 1)
}

func (m *InMemoryRecorder) IncPaymentInitiated(status string) { m.add("payments_initiated", status, 1) }

func (m *InMemoryRecorder) IncPaymentVerified(outcome string) { m.add("payments_verified", outcome, 1) }

// ObserveSweep records one reconciler pass.
func (m *InMemoryRecorder) ObserveSweep(kind string, deleted, failed int, _ time.Duration) {
	m.add("sweep_runs", kind, 1)
	m.add("sweep_deleted", kind, uint64(deleted))
	m.add("sweep_failed", kind, uint64(failed))
}

func (m *InMemoryRecorder) IncNotification(status string) { m.add("notifications", status, 1) }

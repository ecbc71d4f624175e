package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for settled mutations.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// Metrics holds the engine's Prometheus collectors. One Metrics is shared
// by every engine of a process; series are labelled by actor type.
//
// A nil *Metrics records nothing.
type Metrics struct {
	mutationsStarted *prometheus.CounterVec
	mutationsSettled *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	envelopes        *prometheus.CounterVec
	readFailures     *prometheus.CounterVec
	staleReads       *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		mutationsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actorsync",
				Subsystem: "engine",
				Name:      "mutations_started_total",
				Help:      "Mutations that left the queue and went on the wire.",
			}, []string{"actor_type", "kind"}),
		mutationsSettled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actorsync",
				Subsystem: "engine",
				Name:      "mutations_settled_total",
				Help:      "Mutations that settled, by outcome.",
			}, []string{"actor_type", "kind", "outcome"}),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actorsync",
				Subsystem: "engine",
				Name:      "mutation_attempts_total",
				Help:      "Write attempts including retries.",
			}, []string{"actor_type", "kind"}),
		envelopes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actorsync",
				Subsystem: "engine",
				Name:      "envelopes_total",
				Help:      "Envelopes received on the streaming read.",
			}, []string{"actor_type"}),
		readFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actorsync",
				Subsystem: "engine",
				Name:      "read_failures_total",
				Help:      "Streaming read failures.",
			}, []string{"actor_type"}),
		staleReads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "actorsync",
				Subsystem: "engine",
				Name:      "stale_reads_total",
				Help:      "Reads reopened because a settled write was never observed on them.",
			}, []string{"actor_type"}),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "actorsync",
				Subsystem: "engine",
				Name:      "queue_depth",
				Help:      "Mutations waiting for their deferred start.",
			}, []string{"actor_type", "actor_id"}),
	}
}

func (m *Metrics) started(actorType, kind string) {
	if m == nil {
		return
	}
	m.mutationsStarted.WithLabelValues(actorType, kind).Inc()
}

func (m *Metrics) settled(actorType, kind, outcome string) {
	if m == nil {
		return
	}
	m.mutationsSettled.WithLabelValues(actorType, kind, outcome).Inc()
}

func (m *Metrics) attempt(actorType, kind string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(actorType, kind).Inc()
}

func (m *Metrics) envelope(actorType string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(actorType).Inc()
}

func (m *Metrics) readFailure(actorType string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(actorType).Inc()
}

func (m *Metrics) staleRead(actorType string) {
	if m == nil {
		return
	}
	m.staleReads.WithLabelValues(actorType).Inc()
}

func (m *Metrics) setQueueDepth(actorType, actorID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(actorType, actorID).Set(float64(depth))
}

// forget drops the per-actor series of a closed engine.
func (m *Metrics) forget(actorType, actorID string) {
	if m == nil {
		return
	}
	m.queueDepth.DeleteLabelValues(actorType, actorID)
}

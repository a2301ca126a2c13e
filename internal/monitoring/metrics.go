package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesClosed counts closed heating cycles by zone and outcome
	// (interruption reason, "none" for settled cycles).
	CyclesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hearthd",
		Name:      "cycles_closed_total",
		Help:      "Heating cycles closed, by zone and interruption reason.",
	}, []string{"zone", "outcome"})

	// AppliesTotal counts committed parameter changes by zone and reason.
	AppliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hearthd",
		Name:      "applies_total",
		Help:      "Committed parameter set changes, by zone and reason.",
	}, []string{"zone", "reason"})

	// GateDenialsTotal counts safety gate denials by reason.
	GateDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hearthd",
		Name:      "gate_denials_total",
		Help:      "Safety gate denials, by reason.",
	}, []string{"zone", "reason"})

	// ValidationRollbacksTotal counts validation-triggered rollbacks.
	ValidationRollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hearthd",
		Name:      "validation_rollbacks_total",
		Help:      "Rollbacks triggered by post-apply validation.",
	}, []string{"zone"})

	// Confidence is the most recently computed confidence score per zone.
	Confidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hearthd",
		Name:      "confidence_percent",
		Help:      "Learning confidence score, 0-100.",
	}, []string{"zone"})
)

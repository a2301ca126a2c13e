// Package events delivers the supervisor's emitted events (parameter
// changes, validation rollbacks) to downstream consumers: the log, the
// metrics registry and optionally a Kafka topic for the notification
// service.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/hearthgrid/hearthd/internal/monitoring"
	"github.com/hearthgrid/hearthd/internal/tuning"
)

// ParameterChanged is the wire form of a committed parameter change. Every
// commit produces exactly one.
type ParameterChanged struct {
	EventID string              `json:"event_id"`
	Zone    string              `json:"zone"`
	Old     tuning.ParameterSet `json:"old"`
	New     tuning.ParameterSet `json:"new"`
	Reason  string              `json:"reason"`
	At      time.Time           `json:"at"`
}

// ValidationRollback is the wire form of a validation-triggered rollback.
type ValidationRollback struct {
	EventID           string    `json:"event_id"`
	Zone              string    `json:"zone"`
	BaselineOvershoot float64   `json:"baseline_overshoot"`
	ObservedOvershoot float64   `json:"observed_overshoot"`
	At                time.Time `json:"at"`
}

// LogSink writes events to the diagnostic log.
type LogSink struct{}

// ParameterChanged implements tuning.EventSink.
func (LogSink) ParameterChanged(zone string, ev tuning.ChangeEvent) {
	monitoring.Logf("zone %s: parameters changed (%s): kp %.3f->%.3f ki %.4f->%.4f kd %.3f->%.3f ke %.3f->%.3f",
		zone, ev.Reason, ev.Old.Kp, ev.New.Kp, ev.Old.Ki, ev.New.Ki, ev.Old.Kd, ev.New.Kd, ev.Old.Ke, ev.New.Ke)
}

// ValidationRollback implements tuning.EventSink.
func (LogSink) ValidationRollback(zone string, ev tuning.RollbackEvent) {
	monitoring.Logf("zone %s: validation rollback: baseline overshoot %.2fC, observed %.2fC",
		zone, ev.BaselineOvershoot, ev.ObservedOvershoot)
}

// MetricsSink updates the prometheus collectors.
type MetricsSink struct{}

// ParameterChanged implements tuning.EventSink.
func (MetricsSink) ParameterChanged(zone string, ev tuning.ChangeEvent) {
	monitoring.AppliesTotal.WithLabelValues(zone, string(ev.Reason)).Inc()
}

// ValidationRollback implements tuning.EventSink.
func (MetricsSink) ValidationRollback(zone string, ev tuning.RollbackEvent) {
	monitoring.ValidationRollbacksTotal.WithLabelValues(zone).Inc()
}

// MultiSink fans events out to several sinks in order.
type MultiSink []tuning.EventSink

// ParameterChanged implements tuning.EventSink.
func (m MultiSink) ParameterChanged(zone string, ev tuning.ChangeEvent) {
	for _, s := range m {
		s.ParameterChanged(zone, ev)
	}
}

// ValidationRollback implements tuning.EventSink.
func (m MultiSink) ValidationRollback(zone string, ev tuning.RollbackEvent) {
	for _, s := range m {
		s.ValidationRollback(zone, ev)
	}
}

func newEventID() string { return uuid.NewString() }

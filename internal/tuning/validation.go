package tuning

import "time"

// Post-apply validation limits.
const (
	// ValidationCyclesRequired is how many successful cycles confirm a commit.
	ValidationCyclesRequired = 5
	// regressionFactor: rollback once mean observed overshoot exceeds the
	// pre-apply baseline by more than 30%.
	regressionFactor = 1.30
	// zeroBaselineOvershootLimit guards the case where the pre-apply baseline
	// overshoot was 0 and a ratio is undefined.
	zeroBaselineOvershootLimit = 0.15
)

// ValidationWindow observes cycles after an autonomous commit and compares
// their overshoot against the pre-apply baseline. Regression triggers
// rollback immediately; waiting out all cycles on a known-bad tuning wastes
// cycles and risks comfort.
type ValidationWindow struct {
	active       bool
	baseline     float64
	observed     int
	required     int
	overshootSum float64
	startedAt    time.Time
}

// ValidationStatus is the externally visible snapshot.
type ValidationStatus struct {
	Active            bool      `json:"active"`
	BaselineOvershoot float64   `json:"baseline_overshoot,omitempty"`
	CyclesObserved    int       `json:"cycles_observed,omitempty"`
	CyclesRequired    int       `json:"cycles_required,omitempty"`
	StartedAt         time.Time `json:"started_at,omitzero"`
}

// Start activates the window against the given pre-apply overshoot baseline.
func (v *ValidationWindow) Start(baseline float64, now time.Time) {
	*v = ValidationWindow{
		active:    true,
		baseline:  baseline,
		required:  ValidationCyclesRequired,
		startedAt: now,
	}
}

// Reset forces the window inactive (any non-auto commit or a rollback).
func (v *ValidationWindow) Reset() {
	*v = ValidationWindow{}
}

// Active reports whether a validation window is running.
func (v *ValidationWindow) Active() bool { return v.active }

// Status returns a snapshot for status queries.
func (v *ValidationWindow) Status() ValidationStatus {
	if !v.active {
		return ValidationStatus{}
	}
	return ValidationStatus{
		Active:            true,
		BaselineOvershoot: v.baseline,
		CyclesObserved:    v.observed,
		CyclesRequired:    v.required,
		StartedAt:         v.startedAt,
	}
}

// ObservedMeanOvershoot returns the running mean across observed cycles.
func (v *ValidationWindow) ObservedMeanOvershoot() float64 {
	if v.observed == 0 {
		return 0
	}
	return v.overshootSum / float64(v.observed)
}

// Observe feeds one closed cycle into an active window. Interrupted cycles
// neither count nor reset: only successful cycles are informative. It
// returns resolved=true when the window finished, with rollback=true when a
// regression was detected.
func (v *ValidationWindow) Observe(rec CycleRecord) (resolved, rollback bool) {
	if !v.active || !rec.Successful() {
		return false, false
	}
	v.observed++
	v.overshootSum += rec.Overshoot

	mean := v.ObservedMeanOvershoot()
	regressed := false
	if v.baseline > 0 {
		regressed = mean > v.baseline*regressionFactor
	} else {
		regressed = mean > zeroBaselineOvershootLimit
	}
	if regressed {
		v.active = false
		return true, true
	}
	if v.observed >= v.required {
		v.active = false
		return true, false
	}
	return false, false
}

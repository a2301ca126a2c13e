// Package tuning implements the adaptive tuning supervisor for the heating
// control law: cycle segmentation, confidence-based learning, safety-gated
// auto-apply and post-apply validation with rollback. All state is in-memory
// and owned per zone; persistence and transport live elsewhere.
package tuning

import (
	"errors"
	"fmt"
	"math"
)

// ParameterSet holds the four control-law gains. It is a value type: new
// tuning always produces a new ParameterSet, never an in-place mutation.
type ParameterSet struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
	Ke float64 `json:"ke"` // outdoor compensation
}

// ErrInvalidCandidate is returned when a commit is attempted with gains that
// are non-finite or non-positive where a positive value is required.
var ErrInvalidCandidate = errors.New("invalid candidate parameter set")

// Validate rejects non-finite gains, a non-positive Kp and negative
// Ki/Kd/Ke. It runs before any counters or history mutate, so a failed
// commit leaves zone state untouched.
func (p ParameterSet) Validate() error {
	for _, g := range []struct {
		name string
		v    float64
	}{{"kp", p.Kp}, {"ki", p.Ki}, {"kd", p.Kd}, {"ke", p.Ke}} {
		if math.IsNaN(g.v) || math.IsInf(g.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidCandidate, g.name)
		}
	}
	if p.Kp <= 0 {
		return fmt.Errorf("%w: kp must be positive, got %g", ErrInvalidCandidate, p.Kp)
	}
	if p.Ki < 0 || p.Kd < 0 || p.Ke < 0 {
		return fmt.Errorf("%w: ki/kd/ke must be non-negative", ErrInvalidCandidate)
	}
	return nil
}

// DriftFactor is the maximum allowed ratio between any live gain and the
// corresponding physics-derived baseline gain, in either direction.
const DriftFactor = 1.5

// WithinDrift reports whether every gain of p lies within
// [baseline/DriftFactor, baseline*DriftFactor]. A baseline gain of exactly
// zero admits only a zero candidate gain.
func (p ParameterSet) WithinDrift(baseline ParameterSet) bool {
	within := func(cand, base float64) bool {
		if base == 0 {
			return cand == 0
		}
		return cand >= base/DriftFactor && cand <= base*DriftFactor
	}
	return within(p.Kp, baseline.Kp) &&
		within(p.Ki, baseline.Ki) &&
		within(p.Kd, baseline.Kd) &&
		within(p.Ke, baseline.Ke)
}

// HeatingType classifies the zone's emitter. Thresholds below reflect that
// high-thermal-mass systems are costlier to mis-tune and slower to reveal
// mistakes, so floor_hydronic is strictest and forced_air most permissive.
type HeatingType string

const (
	HeatingFloorHydronic HeatingType = "floor_hydronic"
	HeatingRadiator      HeatingType = "radiator"
	HeatingConvector     HeatingType = "convector"
	HeatingForcedAir     HeatingType = "forced_air"
)

// Thresholds are the per-heating-type limits consulted by the SafetyGate and
// the ConfidenceEstimator.
type Thresholds struct {
	MinCycles            int
	FirstApplyConfidence float64 // percent, first-ever auto apply
	SubsequentConfidence float64 // percent, any apply after a prior auto apply
	CooldownHours        int
	CooldownCycles       int
}

var heatingThresholds = map[HeatingType]Thresholds{
	HeatingFloorHydronic: {MinCycles: 8, FirstApplyConfidence: 80, SubsequentConfidence: 90, CooldownHours: 168, CooldownCycles: 20},
	HeatingRadiator:      {MinCycles: 7, FirstApplyConfidence: 70, SubsequentConfidence: 85, CooldownHours: 72, CooldownCycles: 12},
	HeatingConvector:     {MinCycles: 6, FirstApplyConfidence: 65, SubsequentConfidence: 82, CooldownHours: 48, CooldownCycles: 10},
	HeatingForcedAir:     {MinCycles: 6, FirstApplyConfidence: 60, SubsequentConfidence: 80, CooldownHours: 24, CooldownCycles: 8},
}

// ParseHeatingType validates a configured heating type string. Unknown types
// are rejected at configuration time rather than falling back silently.
func ParseHeatingType(s string) (HeatingType, error) {
	ht := HeatingType(s)
	if _, ok := heatingThresholds[ht]; !ok {
		return "", fmt.Errorf("unknown heating type %q", s)
	}
	return ht, nil
}

// Limits returns the threshold table entry for the heating type.
func (ht HeatingType) Limits() Thresholds {
	t, ok := heatingThresholds[ht]
	if !ok {
		// Unknown types are rejected at config load; if one slips through,
		// fail safe with the strictest profile.
		return heatingThresholds[HeatingFloorHydronic]
	}
	return t
}

// ApplyReason records why a ParameterSet was committed.
type ApplyReason string

const (
	ReasonAutoApply    ApplyReason = "auto_apply"
	ReasonManualApply  ApplyReason = "manual_apply"
	ReasonPhysicsReset ApplyReason = "physics_reset"
	ReasonRollback     ApplyReason = "rollback"
)

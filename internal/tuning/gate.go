package tuning

import (
	"fmt"
	"time"
)

// Domain-wide safety limits on autonomous applies.
const (
	SeasonalWindow   = 90 * 24 * time.Hour
	SeasonalLimit    = 5
	LifetimeLimit    = 20
	OutdoorShiftHold = 7 * 24 * time.Hour
)

// SafetyCounters tracks per-zone apply accounting. Mutated only by the
// supervisor at the moment of commit; read by the gate. Counters never
// decrease except via the rolling seasonal window.
type SafetyCounters struct {
	ApplyLog            []time.Time // auto-apply timestamps, pruned to the seasonal window
	LifetimeApplies     int         // monotonic, never resets
	LastApplyAt         time.Time
	LastApplyCycleIndex int64
	LastOutdoorShiftAt  time.Time
}

// SeasonalCount returns how many applies fall within the trailing 90 days.
func (c *SafetyCounters) SeasonalCount(now time.Time) int {
	n := 0
	for _, at := range c.ApplyLog {
		if now.Sub(at) < SeasonalWindow {
			n++
		}
	}
	return n
}

// RecordApply registers an auto-apply commit.
func (c *SafetyCounters) RecordApply(now time.Time, cycleIndex int64) {
	c.LifetimeApplies++
	c.LastApplyAt = now
	c.LastApplyCycleIndex = cycleIndex
	c.ApplyLog = append(c.ApplyLog, now)
	// prune entries that can no longer count toward the seasonal limit
	cutoff := now.Add(-SeasonalWindow)
	i := 0
	for i < len(c.ApplyLog) && c.ApplyLog[i].Before(cutoff) {
		i++
	}
	c.ApplyLog = c.ApplyLog[i:]
}

// DenyReason identifies the first failed gate check.
type DenyReason string

const (
	DenyInsufficientCycles DenyReason = "insufficient_cycles"
	DenyLowConfidence      DenyReason = "confidence_below_threshold"
	DenyCooldown           DenyReason = "cooldown_active"
	DenySeasonalLimit      DenyReason = "seasonal_limit"
	DenyLifetimeLimit      DenyReason = "lifetime_limit"
	DenyDriftBound         DenyReason = "drift_bound"
	DenyOutdoorShift       DenyReason = "outdoor_shift"
)

// Decision is the gate's output. A denial is a normal negative decision,
// not an error: no side effects occur and the reason is surfaced for
// diagnostics.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
	Detail  string     `json:"detail,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason DenyReason, format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// GateInput is everything the gate consults. The gate itself holds no state.
type GateInput struct {
	Confidence      int
	HeatingType     HeatingType
	CyclesCollected int
	CycleIndex      int64 // zone's running count of successful cycles
	Counters        SafetyCounters
	Baseline        ParameterSet
	Candidate       ParameterSet
	Now             time.Time
}

// Decide runs all safety checks in priority order and returns the first
// failing reason, or Allow when every check passes.
func Decide(in GateInput) Decision {
	limits := in.HeatingType.Limits()

	if in.CyclesCollected < limits.MinCycles {
		return deny(DenyInsufficientCycles, "%d of %d cycles collected", in.CyclesCollected, limits.MinCycles)
	}

	required := limits.FirstApplyConfidence
	if in.Counters.LifetimeApplies > 0 {
		required = limits.SubsequentConfidence
	}
	if float64(in.Confidence) < required {
		return deny(DenyLowConfidence, "confidence %d%% below required %.0f%%", in.Confidence, required)
	}

	if !in.Counters.LastApplyAt.IsZero() {
		elapsed := in.Now.Sub(in.Counters.LastApplyAt)
		cooldown := time.Duration(limits.CooldownHours) * time.Hour
		if elapsed < cooldown {
			return deny(DenyCooldown, "%s elapsed of %s since last apply", elapsed.Round(time.Minute), cooldown)
		}
		cyclesSince := in.CycleIndex - in.Counters.LastApplyCycleIndex
		if cyclesSince < int64(limits.CooldownCycles) {
			return deny(DenyCooldown, "%d of %d cycles since last apply", cyclesSince, limits.CooldownCycles)
		}
	}

	if in.Counters.SeasonalCount(in.Now) >= SeasonalLimit {
		return deny(DenySeasonalLimit, "%d applies in trailing 90 days", in.Counters.SeasonalCount(in.Now))
	}

	if in.Counters.LifetimeApplies >= LifetimeLimit {
		return deny(DenyLifetimeLimit, "lifetime apply count %d reached cap %d", in.Counters.LifetimeApplies, LifetimeLimit)
	}

	if !in.Candidate.WithinDrift(in.Baseline) {
		return deny(DenyDriftBound, "candidate gains outside %.1fx of physics baseline", DriftFactor)
	}

	if !in.Counters.LastOutdoorShiftAt.IsZero() && in.Now.Sub(in.Counters.LastOutdoorShiftAt) < OutdoorShiftHold {
		return deny(DenyOutdoorShift, "large outdoor shift %s ago", in.Now.Sub(in.Counters.LastOutdoorShiftAt).Round(time.Hour))
	}

	return allow()
}

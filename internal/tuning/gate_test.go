package tuning

import (
	"testing"
	"time"
)

var gateNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

// baseGateInput is a radiator zone that passes every check: 7 cycles, 72%
// confidence, no prior applies, candidate inside the drift band.
func baseGateInput() GateInput {
	return GateInput{
		Confidence:      72,
		HeatingType:     HeatingRadiator,
		CyclesCollected: 7,
		CycleIndex:      7,
		Baseline:        ParameterSet{Kp: 10, Ki: 0.5, Kd: 2, Ke: 1},
		Candidate:       ParameterSet{Kp: 8.5, Ki: 0.5, Kd: 2, Ke: 1},
		Now:             gateNow,
	}
}

func TestGateFirstApplyAllowed(t *testing.T) {
	in := baseGateInput()
	d := Decide(in)
	if !d.Allowed {
		t.Fatalf("Decide() = %+v, want allow", d)
	}
	if d.Reason != "" {
		t.Errorf("allow decision carries reason %q", d.Reason)
	}
}

func TestGateInsufficientCycles(t *testing.T) {
	in := baseGateInput()
	in.CyclesCollected = 6 // radiator needs 7
	in.Confidence = 100
	d := Decide(in)
	if d.Allowed || d.Reason != DenyInsufficientCycles {
		t.Errorf("Decide() = %+v, want deny %s", d, DenyInsufficientCycles)
	}
}

func TestGateConfidenceThresholds(t *testing.T) {
	t.Run("first apply below threshold", func(t *testing.T) {
		in := baseGateInput()
		in.Confidence = 69 // radiator first apply needs 70
		d := Decide(in)
		if d.Allowed || d.Reason != DenyLowConfidence {
			t.Errorf("Decide() = %+v, want deny %s", d, DenyLowConfidence)
		}
	})

	t.Run("subsequent apply needs the higher bar", func(t *testing.T) {
		in := baseGateInput()
		in.Confidence = 72 // enough for first, not for subsequent (85)
		in.Counters.LifetimeApplies = 1
		in.Counters.LastApplyAt = gateNow.Add(-100 * time.Hour)
		in.Counters.LastApplyCycleIndex = 0
		in.CycleIndex = 20
		d := Decide(in)
		if d.Allowed || d.Reason != DenyLowConfidence {
			t.Errorf("Decide() = %+v, want deny %s", d, DenyLowConfidence)
		}
	})
}

// An apply two hours ago blocks the next one even at 95% confidence: the
// radiator cooldown is 72 hours and 12 cycles.
func TestGateCooldown(t *testing.T) {
	in := baseGateInput()
	in.Confidence = 95
	in.Counters.LifetimeApplies = 1
	in.Counters.LastApplyAt = gateNow.Add(-2 * time.Hour)
	in.Counters.LastApplyCycleIndex = 6
	in.CycleIndex = 7
	in.Counters.ApplyLog = []time.Time{in.Counters.LastApplyAt}

	d := Decide(in)
	if d.Allowed || d.Reason != DenyCooldown {
		t.Fatalf("Decide() = %+v, want deny %s", d, DenyCooldown)
	}

	t.Run("hours elapsed but not cycles", func(t *testing.T) {
		in := in
		in.Counters.LastApplyAt = gateNow.Add(-80 * time.Hour)
		in.CycleIndex = in.Counters.LastApplyCycleIndex + 11 // needs 12
		d := Decide(in)
		if d.Allowed || d.Reason != DenyCooldown {
			t.Errorf("Decide() = %+v, want deny %s", d, DenyCooldown)
		}
	})

	t.Run("both elapsed clears the cooldown", func(t *testing.T) {
		in := in
		in.Counters.LastApplyAt = gateNow.Add(-80 * time.Hour)
		in.CycleIndex = in.Counters.LastApplyCycleIndex + 12
		if d := Decide(in); !d.Allowed {
			t.Errorf("Decide() = %+v, want allow", d)
		}
	})
}

func TestGateSeasonalLimit(t *testing.T) {
	in := baseGateInput()
	in.Confidence = 95
	in.Counters.LifetimeApplies = 5
	in.Counters.LastApplyAt = gateNow.Add(-80 * time.Hour)
	in.Counters.LastApplyCycleIndex = 0
	in.CycleIndex = 40
	for i := 0; i < SeasonalLimit; i++ {
		in.Counters.ApplyLog = append(in.Counters.ApplyLog, gateNow.Add(-time.Duration(80-i)*24*time.Hour))
	}

	d := Decide(in)
	if d.Allowed || d.Reason != DenySeasonalLimit {
		t.Fatalf("Decide() = %+v, want deny %s", d, DenySeasonalLimit)
	}

	// entries older than 90 days drop out of the count
	in.Counters.ApplyLog[0] = gateNow.Add(-91 * 24 * time.Hour)
	if d := Decide(in); !d.Allowed {
		t.Errorf("Decide() with aged-out apply = %+v, want allow", d)
	}
}

// At the lifetime cap the gate denies permanently, no matter how confident
// the estimator is. Manual applies remain available.
func TestGateLifetimeLimit(t *testing.T) {
	in := baseGateInput()
	in.Confidence = 100
	in.Counters.LifetimeApplies = LifetimeLimit
	in.Counters.LastApplyAt = gateNow.Add(-30 * 24 * time.Hour)
	in.Counters.LastApplyCycleIndex = 0
	in.CycleIndex = 100
	in.Counters.ApplyLog = []time.Time{in.Counters.LastApplyAt}

	d := Decide(in)
	if d.Allowed || d.Reason != DenyLifetimeLimit {
		t.Errorf("Decide() = %+v, want deny %s", d, DenyLifetimeLimit)
	}
}

func TestGateDriftBound(t *testing.T) {
	in := baseGateInput()
	in.Confidence = 100
	in.Candidate = ParameterSet{Kp: 16, Ki: 0.5, Kd: 2, Ke: 1} // 1.6x baseline kp

	d := Decide(in)
	if d.Allowed || d.Reason != DenyDriftBound {
		t.Errorf("Decide() = %+v, want deny %s", d, DenyDriftBound)
	}
}

func TestGateOutdoorShiftHold(t *testing.T) {
	in := baseGateInput()
	in.Counters.LastOutdoorShiftAt = gateNow.Add(-3 * 24 * time.Hour)

	d := Decide(in)
	if d.Allowed || d.Reason != DenyOutdoorShift {
		t.Fatalf("Decide() = %+v, want deny %s", d, DenyOutdoorShift)
	}

	in.Counters.LastOutdoorShiftAt = gateNow.Add(-8 * 24 * time.Hour)
	if d := Decide(in); !d.Allowed {
		t.Errorf("Decide() after hold expiry = %+v, want allow", d)
	}
}

// Checks fire in a fixed priority order; the cheapest structural check wins
// even when several would deny.
func TestGateDenialPriority(t *testing.T) {
	in := baseGateInput()
	in.CyclesCollected = 2
	in.Confidence = 10
	in.Counters.LifetimeApplies = LifetimeLimit
	in.Candidate = ParameterSet{Kp: 100}

	d := Decide(in)
	if d.Reason != DenyInsufficientCycles {
		t.Errorf("Decide() reason = %s, want %s first", d.Reason, DenyInsufficientCycles)
	}
}

func TestSafetyCountersRecordApply(t *testing.T) {
	var c SafetyCounters
	old := gateNow.Add(-100 * 24 * time.Hour)
	c.ApplyLog = []time.Time{old}

	c.RecordApply(gateNow, 42)

	if c.LifetimeApplies != 1 {
		t.Errorf("LifetimeApplies = %d, want 1", c.LifetimeApplies)
	}
	if !c.LastApplyAt.Equal(gateNow) || c.LastApplyCycleIndex != 42 {
		t.Errorf("apply marker = (%v, %d)", c.LastApplyAt, c.LastApplyCycleIndex)
	}
	if got := c.SeasonalCount(gateNow); got != 1 {
		t.Errorf("SeasonalCount = %d, want 1 (stale entry pruned)", got)
	}
	if len(c.ApplyLog) != 1 {
		t.Errorf("ApplyLog length = %d, want 1 after pruning", len(c.ApplyLog))
	}
}

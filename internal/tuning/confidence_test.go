package tuning

import (
	"testing"
	"time"
)

func makeCycle(start time.Time, overshoot float64, settling time.Duration) CycleRecord {
	return CycleRecord{
		Start:        start,
		End:          start.Add(settling + 10*time.Minute),
		Overshoot:    overshoot,
		SettlingTime: settling,
		Interruption: InterruptNone,
	}
}

func pushCycles(e *ConfidenceEstimator, start time.Time, overshoots []float64, settling time.Duration) time.Time {
	at := start
	for _, o := range overshoots {
		e.Push(makeCycle(at, o, settling), at.Add(time.Hour))
		at = at.Add(2 * time.Hour)
	}
	return at
}

func TestConfidenceGatedByMinimumCycles(t *testing.T) {
	e := NewConfidenceEstimator(14*24*time.Hour, 50, 6)
	pushCycles(e, cycleEpoch, []float64{0.4, 0.4, 0.4, 0.4, 0.4}, 30*time.Minute)

	if got := e.Confidence(); got != 0 {
		t.Errorf("confidence with %d < 6 cycles = %d, want 0", e.Cycles(), got)
	}
}

func TestConfidenceHighForConsistentCycles(t *testing.T) {
	e := NewConfidenceEstimator(14*24*time.Hour, 50, 6)
	pushCycles(e, cycleEpoch, []float64{0.4, 0.4, 0.4, 0.4, 0.4, 0.4}, 30*time.Minute)

	if got := e.Confidence(); got != 100 {
		t.Errorf("confidence for identical cycles = %d, want 100", got)
	}
}

func TestConfidenceFallsWithVariation(t *testing.T) {
	consistent := NewConfidenceEstimator(14*24*time.Hour, 50, 6)
	pushCycles(consistent, cycleEpoch, []float64{0.40, 0.41, 0.39, 0.40, 0.42, 0.40}, 30*time.Minute)

	noisy := NewConfidenceEstimator(14*24*time.Hour, 50, 6)
	at := cycleEpoch
	for _, c := range []struct {
		overshoot float64
		settling  time.Duration
	}{
		{0.1, 20 * time.Minute},
		{0.7, 80 * time.Minute},
		{0.2, 35 * time.Minute},
		{0.6, 70 * time.Minute},
		{0.3, 25 * time.Minute},
		{0.5, 65 * time.Minute},
	} {
		noisy.Push(makeCycle(at, c.overshoot, c.settling), at.Add(time.Hour))
		at = at.Add(2 * time.Hour)
	}

	if consistent.Confidence() <= noisy.Confidence() {
		t.Errorf("consistent zone (%d%%) should outscore noisy zone (%d%%)",
			consistent.Confidence(), noisy.Confidence())
	}
}

func TestConfidenceResetsOnDivergence(t *testing.T) {
	e := NewConfidenceEstimator(14*24*time.Hour, 50, 6)
	at := pushCycles(e, cycleEpoch, []float64{0.40, 0.42, 0.38, 0.41, 0.39, 0.40}, 30*time.Minute)
	if e.Confidence() == 0 {
		t.Fatal("expected non-zero confidence before divergence")
	}

	// a wildly divergent cycle invalidates accumulated trust
	e.Push(makeCycle(at, 2.5, 30*time.Minute), at.Add(time.Hour))
	if got := e.Confidence(); got != 0 {
		t.Errorf("confidence after divergent cycle = %d, want 0", got)
	}
}

func TestConfidenceIgnoresInterruptedCycles(t *testing.T) {
	e := NewConfidenceEstimator(14*24*time.Hour, 50, 6)
	rec := makeCycle(cycleEpoch, 0.4, 30*time.Minute)
	rec.Interruption = InterruptSetpoint
	e.Push(rec, cycleEpoch.Add(time.Hour))

	if e.Cycles() != 0 {
		t.Errorf("interrupted cycle entered the learning window")
	}
}

func TestLearningWindowEviction(t *testing.T) {
	t.Run("by age", func(t *testing.T) {
		e := NewConfidenceEstimator(24*time.Hour, 50, 6)
		e.Push(makeCycle(cycleEpoch, 0.4, 30*time.Minute), cycleEpoch)
		// two days later a new cycle evicts the stale one
		later := cycleEpoch.Add(48 * time.Hour)
		e.Push(makeCycle(later, 0.4, 30*time.Minute), later)
		if e.Cycles() != 1 {
			t.Errorf("window size = %d, want 1 after age eviction", e.Cycles())
		}
	})

	t.Run("by count", func(t *testing.T) {
		e := NewConfidenceEstimator(0, 5, 6)
		pushCycles(e, cycleEpoch, []float64{1, 2, 3, 4, 5, 6, 7}, 30*time.Minute)
		if e.Cycles() != 5 {
			t.Errorf("window size = %d, want 5 after count eviction", e.Cycles())
		}
	})

	t.Run("duplicate start timestamps rejected", func(t *testing.T) {
		e := NewConfidenceEstimator(0, 50, 6)
		rec := makeCycle(cycleEpoch, 0.4, 30*time.Minute)
		e.Push(rec, cycleEpoch)
		e.Push(rec, cycleEpoch)
		if e.Cycles() != 1 {
			t.Errorf("window size = %d, want 1 (unique by start timestamp)", e.Cycles())
		}
	})
}

func TestRecommendations(t *testing.T) {
	cases := []struct {
		name     string
		rec      CycleRecord
		wantGain string
		wantPct  float64
	}{
		{
			name:     "overshoot reduces kp",
			rec:      CycleRecord{Overshoot: 0.8, SettlingTime: 30 * time.Minute},
			wantGain: "kp", wantPct: -15,
		},
		{
			name:     "slow response increases kp",
			rec:      CycleRecord{Overshoot: 0.1, RiseTime: 90 * time.Minute, SettlingTime: 30 * time.Minute},
			wantGain: "kp", wantPct: 10,
		},
		{
			name:     "undershoot increases ki",
			rec:      CycleRecord{Undershoot: 0.5, SettlingTime: 30 * time.Minute},
			wantGain: "ki", wantPct: 20,
		},
		{
			name:     "slow settling increases kd",
			rec:      CycleRecord{Overshoot: 0.1, SettlingTime: 2 * time.Hour},
			wantGain: "kd", wantPct: 15,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewConfidenceEstimator(0, 50, 6)
			at := cycleEpoch
			for i := 0; i < 6; i++ {
				rec := tc.rec
				rec.Start = at
				rec.Interruption = InterruptNone
				e.Push(rec, at)
				at = at.Add(2 * time.Hour)
			}
			adj := e.Recommend()
			found := false
			for _, a := range adj {
				if a.Gain == tc.wantGain && a.Pct == tc.wantPct {
					found = true
				}
			}
			if !found {
				t.Errorf("Recommend() = %+v, want %s %+.0f%%", adj, tc.wantGain, tc.wantPct)
			}
		})
	}
}

func TestRecommendOscillationAdjustsBothGains(t *testing.T) {
	e := NewConfidenceEstimator(0, 50, 6)
	at := cycleEpoch
	for i := 0; i < 6; i++ {
		e.Push(CycleRecord{
			Start:        at,
			Overshoot:    0.2,
			SettlingTime: 30 * time.Minute,
			Oscillations: 5,
			Interruption: InterruptNone,
		}, at)
		at = at.Add(2 * time.Hour)
	}
	adj := e.Recommend()
	var kpDown, kdUp bool
	for _, a := range adj {
		if a.Gain == "kp" && a.Pct < 0 {
			kpDown = true
		}
		if a.Gain == "kd" && a.Pct > 0 {
			kdUp = true
		}
	}
	if !kpDown || !kdUp {
		t.Errorf("oscillation should reduce kp and increase kd, got %+v", adj)
	}
}

func TestRecommendQuietZoneHasNoAdjustments(t *testing.T) {
	e := NewConfidenceEstimator(0, 50, 6)
	pushCycles(e, cycleEpoch, []float64{0.2, 0.2, 0.2, 0.2, 0.2, 0.2}, 30*time.Minute)
	if adj := e.Recommend(); len(adj) != 0 {
		t.Errorf("well-behaved zone should have no recommendations, got %+v", adj)
	}
}

func TestBaselineOvershoot(t *testing.T) {
	e := NewConfidenceEstimator(0, 50, 6)
	pushCycles(e, cycleEpoch, []float64{1.0, 0.2, 0.4, 0.6}, 30*time.Minute)

	// mean of the last 3
	if got, want := e.BaselineOvershoot(3), (0.2+0.4+0.6)/3; abs(got-want) > 1e-9 {
		t.Errorf("BaselineOvershoot(3) = %v, want %v", got, want)
	}
	// more than available uses all
	if got, want := e.BaselineOvershoot(10), (1.0+0.2+0.4+0.6)/4; abs(got-want) > 1e-9 {
		t.Errorf("BaselineOvershoot(10) = %v, want %v", got, want)
	}

	e.Clear()
	if got := e.BaselineOvershoot(6); got != 0 {
		t.Errorf("BaselineOvershoot on empty window = %v, want 0", got)
	}
	if e.Cycles() != 0 {
		t.Errorf("Clear left %d cycles", e.Cycles())
	}
}

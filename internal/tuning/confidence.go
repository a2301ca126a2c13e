package tuning

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Recommendation thresholds from the learning rules. Magnitudes are caps on
// the advisory delta, not fixed steps.
const (
	overshootHigh     = 0.5              // degrees C
	undershootHigh    = 0.3              // degrees C
	responseTimeSlow  = 60 * time.Minute // rise time
	settlingTimeSlow  = 90 * time.Minute
	oscillationsNoisy = 3
)

// Coefficient-of-variation mean floors. Means near zero make CV explode;
// a tightly settled zone should score high, not divide by ~0.
const (
	cvOvershootFloor     = 0.1      // degrees C
	settlingFloorSeconds = 5 * 60.0 // five minutes
)

// divergenceSigma is the reset rule for accumulated trust: a new cycle whose
// metrics deviate from the trailing mean by more than this many trailing
// standard deviations zeroes the confidence score.
const divergenceSigma = 2.0

// minDivergencePriors is the number of prior cycles required before the
// divergence test is meaningful.
const minDivergencePriors = 3

// Adjustment is one advisory gain delta. Never applied directly; only the
// gate-checked or manual apply path acts on it.
type Adjustment struct {
	Gain   string  `json:"gain"`
	Pct    float64 `json:"pct"` // signed percentage cap
	Reason string  `json:"reason"`
}

// ConfidenceEstimator owns the LearningWindow: a chronological, bounded
// sequence of successful cycle records, and derives the confidence score and
// recommendations from it on demand. Confidence is recomputed, never stored,
// so it cannot go stale.
type ConfidenceEstimator struct {
	maxAge    time.Duration
	maxCount  int
	minCycles int

	window []CycleRecord
}

// NewConfidenceEstimator builds an estimator bounded by age and count, with
// the heating-type minimum cycle count gating any non-zero confidence.
func NewConfidenceEstimator(maxAge time.Duration, maxCount, minCycles int) *ConfidenceEstimator {
	if maxCount <= 0 {
		maxCount = 50
	}
	return &ConfidenceEstimator{maxAge: maxAge, maxCount: maxCount, minCycles: minCycles}
}

// Push inserts a successful cycle and evicts entries outside the window
// bounds. Interrupted cycles are ignored.
func (e *ConfidenceEstimator) Push(rec CycleRecord, now time.Time) {
	if !rec.Successful() {
		return
	}
	// insertion order is chronological, unique by start timestamp
	if n := len(e.window); n > 0 && !rec.Start.After(e.window[n-1].Start) {
		return
	}
	e.window = append(e.window, rec)
	e.evict(now)
}

// Clear drops the whole learning window. Called on every parameter commit:
// prior metrics no longer describe behavior under the new tuning.
func (e *ConfidenceEstimator) Clear() {
	e.window = nil
}

// Cycles returns the number of cycles currently in the window.
func (e *ConfidenceEstimator) Cycles() int { return len(e.window) }

func (e *ConfidenceEstimator) evict(now time.Time) {
	if e.maxAge > 0 {
		cutoff := now.Add(-e.maxAge)
		i := 0
		for i < len(e.window) && e.window[i].Start.Before(cutoff) {
			i++
		}
		e.window = e.window[i:]
	}
	if len(e.window) > e.maxCount {
		e.window = e.window[len(e.window)-e.maxCount:]
	}
}

// Confidence computes the 0-100 stability score. It rewards consistency,
// not magnitude: the coefficient of variation of overshoot and settling time
// across the most recent cycles. Below the heating-type minimum cycle count
// it is always 0, and a sharply divergent newest cycle resets it to 0.
func (e *ConfidenceEstimator) Confidence() int {
	n := len(e.window)
	if n < e.minCycles {
		return 0
	}

	if e.diverged() {
		return 0
	}

	recent := e.window[n-min(n, e.minCycles):]
	overshoots := make([]float64, len(recent))
	settlings := make([]float64, len(recent))
	for i, r := range recent {
		overshoots[i] = r.Overshoot
		settlings[i] = r.SettlingTime.Seconds()
	}

	score := func(xs []float64, floor float64) float64 {
		mean := stat.Mean(xs, nil)
		sd := stat.StdDev(xs, nil)
		cv := sd / math.Max(mean, floor)
		return 1 - math.Min(cv, 1)
	}

	conf := 100 * (score(overshoots, cvOvershootFloor) + score(settlings, settlingFloorSeconds)) / 2
	return int(math.Round(conf))
}

// diverged reports whether the newest cycle's overshoot or settling time
// deviates from the trailing mean of the prior cycles by more than
// divergenceSigma trailing standard deviations.
func (e *ConfidenceEstimator) diverged() bool {
	n := len(e.window)
	if n < minDivergencePriors+1 {
		return false
	}
	latest := e.window[n-1]
	prior := e.window[:n-1]
	if len(prior) > e.minCycles {
		prior = prior[len(prior)-e.minCycles:]
	}

	outlier := func(value float64, xs []float64) bool {
		mean := stat.Mean(xs, nil)
		sd := stat.StdDev(xs, nil)
		if sd < 1e-9 {
			return false
		}
		return math.Abs(value-mean) > divergenceSigma*sd
	}

	overshoots := make([]float64, len(prior))
	settlings := make([]float64, len(prior))
	for i, r := range prior {
		overshoots[i] = r.Overshoot
		settlings[i] = r.SettlingTime.Seconds()
	}
	return outlier(latest.Overshoot, overshoots) || outlier(latest.SettlingTime.Seconds(), settlings)
}

// Recommend evaluates the learning rules over the window's mean metrics and
// returns the advisory adjustments, first match per metric.
func (e *ConfidenceEstimator) Recommend() []Adjustment {
	n := len(e.window)
	if n == 0 {
		return nil
	}
	recent := e.window[n-min(n, e.minCycles):]

	var overshoot, undershoot, rise, settling, osc float64
	for _, r := range recent {
		overshoot += r.Overshoot
		undershoot += r.Undershoot
		rise += r.RiseTime.Seconds()
		settling += r.SettlingTime.Seconds()
		osc += float64(r.Oscillations)
	}
	k := float64(len(recent))
	overshoot /= k
	undershoot /= k
	rise /= k
	settling /= k
	osc /= k

	var adj []Adjustment
	switch {
	case overshoot > overshootHigh:
		adj = append(adj, Adjustment{Gain: "kp", Pct: -15, Reason: "overshoot"})
	case rise > responseTimeSlow.Seconds():
		adj = append(adj, Adjustment{Gain: "kp", Pct: 10, Reason: "slow response"})
	}
	if undershoot > undershootHigh {
		adj = append(adj, Adjustment{Gain: "ki", Pct: 20, Reason: "undershoot"})
	}
	if osc > oscillationsNoisy {
		adj = append(adj,
			Adjustment{Gain: "kp", Pct: -10, Reason: "oscillation"},
			Adjustment{Gain: "kd", Pct: 10, Reason: "oscillation"})
	}
	if settling > settlingTimeSlow.Seconds() {
		adj = append(adj, Adjustment{Gain: "kd", Pct: 15, Reason: "slow settling"})
	}
	return adj
}

// BaselineOvershoot returns the mean overshoot of the last n cycles in the
// window, used as the pre-apply baseline for the validation window.
func (e *ConfidenceEstimator) BaselineOvershoot(n int) float64 {
	if len(e.window) == 0 {
		return 0
	}
	recent := e.window[len(e.window)-min(len(e.window), n):]
	sum := 0.0
	for _, r := range recent {
		sum += r.Overshoot
	}
	return sum / float64(len(recent))
}

package tuning

import (
	"time"
)

// InterruptionReason records why a cycle closed before settling.
type InterruptionReason string

const (
	InterruptNone          InterruptionReason = "none"
	InterruptSetpoint      InterruptionReason = "setpoint_change"
	InterruptModeChange    InterruptionReason = "mode_change"
	InterruptContactSensor InterruptionReason = "contact_sensor"
	InterruptHumidity      InterruptionReason = "humidity"
	InterruptSensorFault   InterruptionReason = "sensor_fault"
)

// CyclePhase is the tracker's externally visible state.
type CyclePhase string

const (
	PhaseIdle     CyclePhase = "idle"
	PhaseHeating  CyclePhase = "heating"
	PhaseSettling CyclePhase = "settling"
	PhaseCooling  CyclePhase = "cooling"
)

// PauseKind identifies the external pause source. When both are active on
// the same cycle, contact wins: an open window dominates a humidity hold.
type PauseKind int

const (
	PauseContact PauseKind = iota
	PauseHumidity
)

// Sample is one observation of the zone: measured temperature, active
// setpoint and the actuator demand state at a point in time.
type Sample struct {
	At       time.Time
	Measured float64
	Setpoint float64
	DemandOn bool
}

// CycleRecord is one completed heating cycle. Immutable once closed.
type CycleRecord struct {
	Start        time.Time
	End          time.Time
	Overshoot    float64 // peak measured-setpoint after the rise, 0 if never exceeded
	Undershoot   float64 // setpoint minus peak measured if the setpoint was never reached, else 0
	SettlingTime time.Duration
	RiseTime     time.Duration
	Oscillations int
	Interruption InterruptionReason
}

// Successful reports whether the cycle settled normally. Interrupted cycles
// are retained for diagnostics but excluded from confidence computation.
func (r CycleRecord) Successful() bool { return r.Interruption == InterruptNone }

// TrackerConfig holds the segmentation tunables.
type TrackerConfig struct {
	Tolerance        float64       // settling band around setpoint, degrees C
	SettleConfirm    time.Duration // how long measured must stay in band to close
	MinSetpointDelta float64       // setpoint move that interrupts the cycle
	MaxPause         time.Duration // external pause longer than this interrupts
	MaxCycle         time.Duration // hard ceiling; force-close as sensor_fault
	MinMeasured      float64       // plausible sensor range
	MaxMeasured      float64
}

// DefaultTrackerConfig returns the segmentation defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Tolerance:        0.3,
		SettleConfirm:    10 * time.Minute,
		MinSetpointDelta: 0.3,
		MaxPause:         15 * time.Minute,
		MaxCycle:         4 * time.Hour,
		MinMeasured:      -30,
		MaxMeasured:      60,
	}
}

// CycleTracker segments the raw sample stream into closed CycleRecords.
// A cycle opens when demand transitions off->on, closes successfully after
// measured holds within the tolerance band for the confirmation duration,
// and closes as interrupted on setpoint moves, mode changes, long external
// pauses, sensor anomalies or the hard ceiling. It knows nothing about
// tuning.
type CycleTracker struct {
	cfg TrackerConfig

	phase      CyclePhase
	lastDemand bool
	lastAt     time.Time

	// open-cycle state, valid while open
	open         bool
	start        time.Time
	setpoint     float64
	rose         bool
	riseAt       time.Time
	peakOver     float64
	peakMeasured float64

	// settling run
	inBandSince time.Time
	inBand      bool

	// local extrema counting within the settling run
	lastMeasured float64
	lastDir      int
	extrema      int

	// external pause bookkeeping
	pauseActive map[PauseKind]time.Time

	lastInterruption InterruptionReason
}

// NewCycleTracker constructs a tracker with the given config.
func NewCycleTracker(cfg TrackerConfig) *CycleTracker {
	return &CycleTracker{
		cfg:         cfg,
		phase:       PhaseIdle,
		pauseActive: make(map[PauseKind]time.Time),
	}
}

// Phase returns the current cycle phase for status queries.
func (t *CycleTracker) Phase() CyclePhase { return t.phase }

// LastInterruption returns the reason the most recent cycle closed, or
// InterruptNone if it settled (or no cycle has closed yet).
func (t *CycleTracker) LastInterruption() InterruptionReason { return t.lastInterruption }

// Ingest processes one sample and returns the closed cycle, if this sample
// closed one. Sensor anomalies never propagate: they degrade to an
// interrupted record with reason sensor_fault.
func (t *CycleTracker) Ingest(s Sample) *CycleRecord {
	// Non-monotonic timestamps and out-of-range readings invalidate any
	// open cycle but are otherwise ignored.
	if !t.lastAt.IsZero() && s.At.Before(t.lastAt) {
		return t.closeAnomaly(t.lastAt)
	}
	t.lastAt = s.At
	if s.Measured < t.cfg.MinMeasured || s.Measured > t.cfg.MaxMeasured {
		return t.closeAnomaly(s.At)
	}

	demandWasOn := t.lastDemand
	t.lastDemand = s.DemandOn

	if !t.open {
		if s.DemandOn && !demandWasOn {
			t.openCycle(s)
			return nil
		}
		// post-close tail: cooling while still above band with demand off
		if t.phase == PhaseCooling && (!s.DemandOn && s.Measured <= s.Setpoint+t.cfg.Tolerance) {
			t.phase = PhaseIdle
		}
		return nil
	}

	// interruption checks, in fixed order
	if abs(s.Setpoint-t.setpoint) > t.cfg.MinSetpointDelta {
		return t.close(s.At, InterruptSetpoint)
	}
	if reason, ok := t.pauseExceeded(s.At); ok {
		return t.close(s.At, reason)
	}
	if s.At.Sub(t.start) > t.cfg.MaxCycle {
		return t.close(s.At, InterruptSensorFault)
	}

	t.observe(s)

	// settled long enough: close as a successful cycle
	if t.inBand && s.At.Sub(t.inBandSince) >= t.cfg.SettleConfirm {
		return t.close(s.At, InterruptNone)
	}
	return nil
}

// Interrupt closes any open cycle with the given reason (mode changes and
// similar external events). Returns nil when no cycle is open.
func (t *CycleTracker) Interrupt(at time.Time, reason InterruptionReason) *CycleRecord {
	if !t.open {
		return nil
	}
	return t.close(at, reason)
}

// SetPause marks an external pause source active or inactive. A pause that
// stays active beyond MaxPause interrupts the open cycle on the next sample.
func (t *CycleTracker) SetPause(kind PauseKind, active bool, at time.Time) {
	if active {
		if _, ok := t.pauseActive[kind]; !ok {
			t.pauseActive[kind] = at
		}
		return
	}
	delete(t.pauseActive, kind)
}

func (t *CycleTracker) openCycle(s Sample) {
	t.open = true
	t.start = s.At
	t.setpoint = s.Setpoint
	t.rose = false
	t.riseAt = time.Time{}
	t.peakOver = 0
	t.peakMeasured = s.Measured
	t.inBand = false
	t.inBandSince = time.Time{}
	t.lastMeasured = s.Measured
	t.lastDir = 0
	t.extrema = 0
	t.phase = PhaseHeating
}

func (t *CycleTracker) observe(s Sample) {
	if s.Measured > t.peakMeasured {
		t.peakMeasured = s.Measured
	}
	if !t.rose && s.Measured >= t.setpoint {
		t.rose = true
		t.riseAt = s.At
	}
	if t.rose && s.Measured-t.setpoint > t.peakOver {
		t.peakOver = s.Measured - t.setpoint
	}

	if abs(s.Measured-t.setpoint) <= t.cfg.Tolerance {
		if !t.inBand {
			t.inBand = true
			t.inBandSince = s.At
			t.lastDir = 0
			t.extrema = 0
		}
		t.phase = PhaseSettling
		t.countExtremum(s.Measured)
	} else {
		// band exited: the run was not sustained, start over
		t.inBand = false
		t.inBandSince = time.Time{}
		t.phase = PhaseHeating
	}
	t.lastMeasured = s.Measured
}

// countExtremum counts direction flips of the measured value within the
// settling run.
func (t *CycleTracker) countExtremum(measured float64) {
	dir := 0
	switch {
	case measured > t.lastMeasured:
		dir = 1
	case measured < t.lastMeasured:
		dir = -1
	}
	if dir != 0 {
		if t.lastDir != 0 && dir != t.lastDir {
			t.extrema++
		}
		t.lastDir = dir
	}
}

func (t *CycleTracker) pauseExceeded(now time.Time) (InterruptionReason, bool) {
	// contact takes precedence over humidity when both run long
	if since, ok := t.pauseActive[PauseContact]; ok && now.Sub(since) > t.cfg.MaxPause {
		return InterruptContactSensor, true
	}
	if since, ok := t.pauseActive[PauseHumidity]; ok && now.Sub(since) > t.cfg.MaxPause {
		return InterruptHumidity, true
	}
	return InterruptNone, false
}

func (t *CycleTracker) closeAnomaly(at time.Time) *CycleRecord {
	if !t.open {
		return nil
	}
	return t.close(at, InterruptSensorFault)
}

func (t *CycleTracker) close(at time.Time, reason InterruptionReason) *CycleRecord {
	rec := &CycleRecord{
		Start:        t.start,
		End:          at,
		Interruption: reason,
	}
	if t.rose {
		rec.RiseTime = t.riseAt.Sub(t.start)
		rec.Overshoot = t.peakOver
	} else if t.peakMeasured < t.setpoint {
		rec.Undershoot = t.setpoint - t.peakMeasured
	}
	if !t.inBandSince.IsZero() {
		rec.SettlingTime = t.inBandSince.Sub(t.start)
		rec.Oscillations = t.extrema
	}

	t.open = false
	t.lastInterruption = reason
	if reason == InterruptNone {
		t.phase = PhaseCooling
	} else {
		t.phase = PhaseIdle
	}
	return rec
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

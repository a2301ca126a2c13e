package tuning

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hearthgrid/hearthd/internal/timeutil"
)

// historyLimit bounds the pid history ring: current set, rollback target and
// one more for context.
const historyLimit = 3

// baselineCycles is how many pre-apply cycles feed the validation baseline.
const baselineCycles = 6

// ErrNoHistory is returned by rollback when there is nothing to roll back
// to: fewer than two history entries, or the newest entry is itself a
// rollback that has not been followed by a new commit.
var ErrNoHistory = errors.New("no parameter history available to roll back to")

// PidHistoryEntry is one committed ParameterSet. The newest entry is the set
// currently in effect; the one before it is the rollback target.
type PidHistoryEntry struct {
	At     time.Time    `json:"at"`
	Params ParameterSet `json:"params"`
	Reason ApplyReason  `json:"reason"`
}

// ChangeEvent reports a committed parameter change. Every commit produces
// exactly one.
type ChangeEvent struct {
	Old    ParameterSet
	New    ParameterSet
	Reason ApplyReason
	At     time.Time
}

// RollbackEvent reports a validation-triggered rollback with the overshoot
// delta that caused it.
type RollbackEvent struct {
	BaselineOvershoot float64
	ObservedOvershoot float64
	At                time.Time
}

// EventSink receives supervisor events. Implementations must not block the
// caller; the supervisor holds the zone lock while emitting.
type EventSink interface {
	ParameterChanged(zone string, ev ChangeEvent)
	ValidationRollback(zone string, ev RollbackEvent)
}

// CycleRecorder receives every closed cycle for diagnostics retention.
type CycleRecorder interface {
	RecordCycle(zone string, rec CycleRecord)
}

// Snapshotter receives the zone's durable state after every commit so it can
// be restored across restarts.
type Snapshotter interface {
	SnapshotZone(zone string, history []PidHistoryEntry, counters SafetyCounters, autoApplyCount int)
}

// LearningState summarizes progress for status queries.
type LearningState string

const (
	LearningCollecting LearningState = "collecting"
	LearningReady      LearningState = "ready"
	LearningActive     LearningState = "active"
	LearningConverged  LearningState = "converged"
)

// ZoneStatus is the full status snapshot exposed to collaborators.
type ZoneStatus struct {
	Zone             string             `json:"zone"`
	HeatingType      HeatingType        `json:"heating_type"`
	Learning         LearningState      `json:"learning"`
	CyclesCollected  int                `json:"cycles_collected"`
	Confidence       int                `json:"confidence"`
	Phase            CyclePhase         `json:"phase"`
	LastInterruption InterruptionReason `json:"last_interruption"`
	LastApplyAt      time.Time          `json:"last_apply_at,omitzero"`
	AutoApplyEnabled bool               `json:"auto_apply_enabled"`
	AutoApplyCount   int                `json:"auto_apply_count"`
	Validation       ValidationStatus   `json:"validation"`
	LiveParams       ParameterSet       `json:"live_params"`
}

// AnalysisResult is the preview returned by TriggerAnalysis: what the
// learner would do right now, without committing anything.
type AnalysisResult struct {
	Confidence  int          `json:"confidence"`
	Cycles      int          `json:"cycles"`
	Adjustments []Adjustment `json:"adjustments"`
	Candidate   ParameterSet `json:"candidate"`
	Decision    Decision     `json:"decision"`
}

// Supervisor orchestrates one zone: it feeds samples through the cycle
// tracker, maintains the learning window, consults the safety gate and
// commits, validates and rolls back parameter sets. All entry points
// serialize on the zone mutex; zones are independent units of concurrency.
//
// The live ParameterSet is additionally published through an atomic pointer
// so the control-law collaborator can read it on every tick without taking
// the zone lock and can never observe a torn set.
type Supervisor struct {
	mu sync.Mutex

	zone     string
	heating  HeatingType
	baseline ParameterSet
	live     atomic.Pointer[ParameterSet]

	tracker    *CycleTracker
	estimator  *ConfidenceEstimator
	validation ValidationWindow

	history  []PidHistoryEntry
	counters SafetyCounters

	autoApplyEnabled bool
	autoApplyCount   int
	cycleIndex       int64 // running count of successful cycles

	clock    timeutil.Clock
	sink     EventSink
	recorder CycleRecorder
	snap     Snapshotter
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock substitutes the time source (tests).
func WithClock(c timeutil.Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithSink attaches the event sink.
func WithSink(sink EventSink) Option { return func(s *Supervisor) { s.sink = sink } }

// WithRecorder attaches the cycle diagnostics recorder.
func WithRecorder(r CycleRecorder) Option { return func(s *Supervisor) { s.recorder = r } }

// WithSnapshotter attaches the durable-state snapshotter.
func WithSnapshotter(sn Snapshotter) Option { return func(s *Supervisor) { s.snap = sn } }

// WithTrackerConfig overrides the cycle segmentation tunables.
func WithTrackerConfig(cfg TrackerConfig) Option {
	return func(s *Supervisor) { s.tracker = NewCycleTracker(cfg) }
}

// WithLearningWindow overrides the learning window bounds.
func WithLearningWindow(maxAge time.Duration, maxCount int) Option {
	return func(s *Supervisor) {
		s.estimator = NewConfidenceEstimator(maxAge, maxCount, s.heating.Limits().MinCycles)
	}
}

// WithAutoApply sets the initial auto-apply enablement.
func WithAutoApply(enabled bool) Option {
	return func(s *Supervisor) { s.autoApplyEnabled = enabled }
}

// NewSupervisor builds a zone supervisor. The physics-derived baseline
// becomes the initial live set and the first history entry.
func NewSupervisor(zone string, heating HeatingType, baseline ParameterSet, opts ...Option) *Supervisor {
	s := &Supervisor{
		zone:             zone,
		heating:          heating,
		baseline:         baseline,
		clock:            timeutil.RealClock{},
		autoApplyEnabled: true,
	}
	s.tracker = NewCycleTracker(DefaultTrackerConfig())
	s.estimator = NewConfidenceEstimator(14*24*time.Hour, 50, heating.Limits().MinCycles)
	for _, opt := range opts {
		opt(s)
	}

	live := baseline
	s.live.Store(&live)
	s.history = []PidHistoryEntry{{At: s.clock.Now(), Params: baseline, Reason: ReasonPhysicsReset}}
	return s
}

// Restore replaces history, counters and the auto-apply count from persisted
// state (boot). The newest history entry becomes the live set. The learning
// window and validation state deliberately start empty: cycle metrics do not
// survive a restart.
func (s *Supervisor) Restore(history []PidHistoryEntry, counters SafetyCounters, autoApplyCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(history) == 0 {
		return
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	s.history = append([]PidHistoryEntry(nil), history...)
	s.counters = counters
	s.autoApplyCount = autoApplyCount
	s.cycleIndex = counters.LastApplyCycleIndex
	live := s.history[len(s.history)-1].Params
	s.live.Store(&live)
}

// Zone returns the zone identifier.
func (s *Supervisor) Zone() string { return s.zone }

// LiveParams returns the set currently in effect. Lock-free: safe to call
// from the control loop on every tick.
func (s *Supervisor) LiveParams() ParameterSet { return *s.live.Load() }

// SetAutoApply toggles autonomous applies for the zone.
func (s *Supervisor) SetAutoApply(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoApplyEnabled = enabled
}

// Ingest processes one raw sample.
func (s *Supervisor) Ingest(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.tracker.Ingest(sample); rec != nil {
		s.handleCycle(*rec)
	}
}

// ModeChanged interrupts any open cycle: the operating mode changed.
func (s *Supervisor) ModeChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.tracker.Interrupt(s.clock.Now(), InterruptModeChange); rec != nil {
		s.handleCycle(*rec)
	}
}

// SetPause relays an external pause signal (contact or humidity).
func (s *Supervisor) SetPause(kind PauseKind, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.SetPause(kind, active, s.clock.Now())
}

// OutdoorShift records a large outdoor temperature shift; the gate refuses
// applies for OutdoorShiftHold afterwards.
func (s *Supervisor) OutdoorShift(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.LastOutdoorShiftAt = at
}

func (s *Supervisor) handleCycle(rec CycleRecord) {
	if s.recorder != nil {
		s.recorder.RecordCycle(s.zone, rec)
	}
	if !rec.Successful() {
		// excluded from learning and validation, retained for diagnostics
		return
	}
	s.cycleIndex++

	if s.validation.Active() {
		if resolved, rollback := s.validation.Observe(rec); resolved && rollback {
			if _, err := s.rollbackLocked(true, s.validation.ObservedMeanOvershoot()); err != nil {
				// nothing to revert to; surface through diagnostics only
				s.validation.Reset()
			}
			return
		}
	}

	s.estimator.Push(rec, s.clock.Now())

	if s.autoApplyEnabled && !s.validation.Active() {
		s.evaluateAutoApply()
	}
}

func (s *Supervisor) evaluateAutoApply() {
	adjustments := s.estimator.Recommend()
	if len(adjustments) == 0 {
		return
	}
	candidate := applyAdjustments(s.LiveParams(), adjustments)
	decision := Decide(GateInput{
		Confidence:      s.estimator.Confidence(),
		HeatingType:     s.heating,
		CyclesCollected: s.estimator.Cycles(),
		CycleIndex:      s.cycleIndex,
		Counters:        s.counters,
		Baseline:        s.baseline,
		Candidate:       candidate,
		Now:             s.clock.Now(),
	})
	if !decision.Allowed {
		return
	}
	// gate already validated drift; candidate sanity is checked in commit
	_ = s.commitLocked(candidate, ReasonAutoApply, true)
}

// TriggerAnalysis returns the recommendation preview: confidence, advisory
// adjustments, the candidate they produce and the gate's verdict. Nothing is
// committed.
func (s *Supervisor) TriggerAnalysis() AnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	adjustments := s.estimator.Recommend()
	candidate := applyAdjustments(s.LiveParams(), adjustments)
	return AnalysisResult{
		Confidence:  s.estimator.Confidence(),
		Cycles:      s.estimator.Cycles(),
		Adjustments: adjustments,
		Candidate:   candidate,
		Decision: Decide(GateInput{
			Confidence:      s.estimator.Confidence(),
			HeatingType:     s.heating,
			CyclesCollected: s.estimator.Cycles(),
			CycleIndex:      s.cycleIndex,
			Counters:        s.counters,
			Baseline:        s.baseline,
			Candidate:       candidate,
			Now:             s.clock.Now(),
		}),
	}
}

// Apply commits params manually, bypassing the safety gate but not candidate
// validation. A nil params commits the current analysis candidate.
// withValidation starts a validation window against the pre-apply baseline.
func (s *Supervisor) Apply(params *ParameterSet, withValidation bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := applyAdjustments(s.LiveParams(), s.estimator.Recommend())
	if params != nil {
		candidate = *params
	}
	return s.commitLocked(candidate, ReasonManualApply, withValidation)
}

// ResetToPhysics commits the physics-derived baseline.
func (s *Supervisor) ResetToPhysics() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(s.baseline, ReasonPhysicsReset, false)
}

// Rollback reverts to the previous history entry. Fails with ErrNoHistory if
// there is nothing to roll back to; the zone state is unchanged in that case.
func (s *Supervisor) Rollback() (ParameterSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackLocked(false, 0)
}

// commitLocked performs the atomic commit transition: validate, push
// history, swap live params, bump counters (auto only), clear the learning
// window, restart validation, emit and persist. Callers hold the zone lock.
func (s *Supervisor) commitLocked(candidate ParameterSet, reason ApplyReason, withValidation bool) error {
	if err := candidate.Validate(); err != nil {
		return err
	}
	now := s.clock.Now()
	old := s.LiveParams()
	baselineOvershoot := s.estimator.BaselineOvershoot(baselineCycles)

	s.pushHistory(PidHistoryEntry{At: now, Params: candidate, Reason: reason})
	live := candidate
	s.live.Store(&live)

	if reason == ReasonAutoApply {
		s.counters.RecordApply(now, s.cycleIndex)
		s.autoApplyCount++
	}

	s.estimator.Clear()
	s.validation.Reset()
	if withValidation {
		s.validation.Start(baselineOvershoot, now)
	}

	s.emitChange(ChangeEvent{Old: old, New: candidate, Reason: reason, At: now})
	s.snapshot()
	return nil
}

func (s *Supervisor) rollbackLocked(fromValidation bool, observedOvershoot float64) (ParameterSet, error) {
	if len(s.history) < 2 || s.history[len(s.history)-1].Reason == ReasonRollback {
		return ParameterSet{}, ErrNoHistory
	}
	now := s.clock.Now()
	old := s.LiveParams()
	target := s.history[len(s.history)-2].Params

	s.pushHistory(PidHistoryEntry{At: now, Params: target, Reason: ReasonRollback})
	live := target
	s.live.Store(&live)

	s.estimator.Clear()
	if fromValidation {
		if s.sink != nil {
			s.sink.ValidationRollback(s.zone, RollbackEvent{
				BaselineOvershoot: s.validationBaseline(),
				ObservedOvershoot: observedOvershoot,
				At:                now,
			})
		}
	}
	s.validation.Reset()

	s.emitChange(ChangeEvent{Old: old, New: target, Reason: ReasonRollback, At: now})
	s.snapshot()
	return target, nil
}

func (s *Supervisor) validationBaseline() float64 {
	return s.validation.baseline
}

func (s *Supervisor) pushHistory(e PidHistoryEntry) {
	s.history = append(s.history, e)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

func (s *Supervisor) emitChange(ev ChangeEvent) {
	if s.sink != nil {
		s.sink.ParameterChanged(s.zone, ev)
	}
}

func (s *Supervisor) snapshot() {
	if s.snap != nil {
		s.snap.SnapshotZone(s.zone, s.historyCopy(), s.counters, s.autoApplyCount)
	}
}

func (s *Supervisor) historyCopy() []PidHistoryEntry {
	return append([]PidHistoryEntry(nil), s.history...)
}

// History returns a copy of the bounded history ring, oldest first.
func (s *Supervisor) History() []PidHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyCopy()
}

// Status assembles the zone status snapshot.
func (s *Supervisor) Status() ZoneStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycles := s.estimator.Cycles()
	confidence := s.estimator.Confidence()
	limits := s.heating.Limits()

	state := LearningCollecting
	switch {
	case cycles < limits.MinCycles:
		state = LearningCollecting
	case float64(confidence) >= s.requiredConfidence():
		state = LearningConverged
	case confidence >= 50:
		state = LearningActive
	default:
		state = LearningReady
	}

	return ZoneStatus{
		Zone:             s.zone,
		HeatingType:      s.heating,
		Learning:         state,
		CyclesCollected:  cycles,
		Confidence:       confidence,
		Phase:            s.tracker.Phase(),
		LastInterruption: s.tracker.LastInterruption(),
		LastApplyAt:      s.counters.LastApplyAt,
		AutoApplyEnabled: s.autoApplyEnabled,
		AutoApplyCount:   s.autoApplyCount,
		Validation:       s.validation.Status(),
		LiveParams:       s.LiveParams(),
	}
}

func (s *Supervisor) requiredConfidence() float64 {
	limits := s.heating.Limits()
	if s.counters.LifetimeApplies > 0 {
		return limits.SubsequentConfidence
	}
	return limits.FirstApplyConfidence
}

// applyAdjustments produces a candidate by applying each advisory percentage
// to the corresponding gain.
func applyAdjustments(base ParameterSet, adjustments []Adjustment) ParameterSet {
	out := base
	for _, a := range adjustments {
		factor := 1 + a.Pct/100
		switch a.Gain {
		case "kp":
			out.Kp *= factor
		case "ki":
			out.Ki *= factor
		case "kd":
			out.Kd *= factor
		case "ke":
			out.Ke *= factor
		}
	}
	return out
}

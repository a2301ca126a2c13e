package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hearthgrid/hearthd/internal/tuning"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "hearthd_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	s := setupTestStore(t)

	applied := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	history := []tuning.PidHistoryEntry{
		{At: applied.Add(-48 * time.Hour), Params: tuning.ParameterSet{Kp: 10, Ki: 0.5, Kd: 2, Ke: 1}, Reason: tuning.ReasonPhysicsReset},
		{At: applied, Params: tuning.ParameterSet{Kp: 8.5, Ki: 0.5, Kd: 2, Ke: 1}, Reason: tuning.ReasonAutoApply},
	}
	counters := tuning.SafetyCounters{
		ApplyLog:            []time.Time{applied},
		LifetimeApplies:     3,
		LastApplyAt:         applied,
		LastApplyCycleIndex: 9,
		LastOutdoorShiftAt:  applied.Add(-24 * time.Hour),
	}

	s.SnapshotZone("living", history, counters, 2)

	gotHistory, gotCounters, gotApplies, err := s.LoadZone("living")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	if diff := cmp.Diff(history, gotHistory); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(counters, gotCounters); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}
	if gotApplies != 2 {
		t.Errorf("autoApplyCount = %d, want 2", gotApplies)
	}
}

// Snapshots replace prior state wholesale; the ring on disk always mirrors
// the ring in memory.
func TestSnapshotReplacesPriorState(t *testing.T) {
	s := setupTestStore(t)

	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	first := []tuning.PidHistoryEntry{
		{At: at, Params: tuning.ParameterSet{Kp: 10, Ki: 0.5, Kd: 2, Ke: 1}, Reason: tuning.ReasonPhysicsReset},
		{At: at.Add(time.Hour), Params: tuning.ParameterSet{Kp: 11, Ki: 0.5, Kd: 2, Ke: 1}, Reason: tuning.ReasonManualApply},
	}
	s.SnapshotZone("living", first, tuning.SafetyCounters{LifetimeApplies: 1, LastApplyAt: at}, 1)

	second := []tuning.PidHistoryEntry{
		{At: at.Add(2 * time.Hour), Params: tuning.ParameterSet{Kp: 12, Ki: 0.5, Kd: 2, Ke: 1}, Reason: tuning.ReasonManualApply},
	}
	s.SnapshotZone("living", second, tuning.SafetyCounters{LifetimeApplies: 2, LastApplyAt: at.Add(2 * time.Hour)}, 1)

	history, counters, _, err := s.LoadZone("living")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	if len(history) != 1 || history[0].Params.Kp != 12 {
		t.Errorf("history = %+v, want only the second snapshot", history)
	}
	if counters.LifetimeApplies != 2 {
		t.Errorf("LifetimeApplies = %d, want 2", counters.LifetimeApplies)
	}
}

func TestLoadZoneUnknown(t *testing.T) {
	s := setupTestStore(t)

	history, counters, applies, err := s.LoadZone("never-seen")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	if len(history) != 0 || applies != 0 {
		t.Errorf("unknown zone returned state: %+v, %d", history, applies)
	}
	if !counters.LastApplyAt.IsZero() || counters.LifetimeApplies != 0 {
		t.Errorf("unknown zone counters = %+v", counters)
	}
}

func TestZonesAreIsolated(t *testing.T) {
	s := setupTestStore(t)

	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	s.SnapshotZone("living", []tuning.PidHistoryEntry{
		{At: at, Params: tuning.ParameterSet{Kp: 10, Ki: 0.5, Kd: 2, Ke: 1}, Reason: tuning.ReasonPhysicsReset},
	}, tuning.SafetyCounters{}, 0)
	s.SnapshotZone("attic", []tuning.PidHistoryEntry{
		{At: at, Params: tuning.ParameterSet{Kp: 7, Ki: 0.3, Kd: 1, Ke: 0}, Reason: tuning.ReasonPhysicsReset},
	}, tuning.SafetyCounters{}, 0)

	history, _, _, err := s.LoadZone("attic")
	if err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	if len(history) != 1 || history[0].Params.Kp != 7 {
		t.Errorf("attic history = %+v", history)
	}
}

func TestRecordAndQueryCycles(t *testing.T) {
	s := setupTestStore(t)

	start := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	recs := []tuning.CycleRecord{
		{Start: start, End: start.Add(40 * time.Minute), Overshoot: 0.6, SettlingTime: 29 * time.Minute, RiseTime: 19 * time.Minute, Interruption: tuning.InterruptNone},
		{Start: start.Add(2 * time.Hour), End: start.Add(2*time.Hour + 10*time.Minute), Interruption: tuning.InterruptSetpoint},
		{Start: start.Add(4 * time.Hour), End: start.Add(4*time.Hour + 40*time.Minute), Overshoot: 0.4, SettlingTime: 25 * time.Minute, RiseTime: 18 * time.Minute, Oscillations: 2, Interruption: tuning.InterruptNone},
	}
	for _, rec := range recs {
		s.RecordCycle("living", rec)
	}
	s.RecordCycle("attic", tuning.CycleRecord{Start: start, End: start.Add(time.Hour), Interruption: tuning.InterruptNone})

	got, err := s.RecentCycles("living", 10)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("cycles = %d, want 3", len(got))
	}
	// newest first
	if diff := cmp.Diff(recs[2], got[0]); diff != "" {
		t.Errorf("newest cycle mismatch (-want +got):\n%s", diff)
	}
	if got[1].Interruption != tuning.InterruptSetpoint {
		t.Errorf("interrupted cycle not round-tripped: %+v", got[1])
	}

	limited, err := s.RecentCycles("living", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || !limited[0].Start.Equal(recs[2].Start) {
		t.Errorf("limit 1 returned %+v", limited)
	}
}

func TestPruneCycles(t *testing.T) {
	s := setupTestStore(t)

	start := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	s.RecordCycle("living", tuning.CycleRecord{Start: start, End: start.Add(time.Hour), Interruption: tuning.InterruptNone})
	s.RecordCycle("living", tuning.CycleRecord{Start: start.Add(30 * 24 * time.Hour), End: start.Add(30*24*time.Hour + time.Hour), Interruption: tuning.InterruptNone})

	n, err := s.PruneCycles(start.Add(15 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneCycles: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
	remaining, err := s.RecentCycles("living", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 {
		t.Errorf("remaining cycles = %d, want 1", len(remaining))
	}
}

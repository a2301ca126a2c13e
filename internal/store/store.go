// Package store persists the supervisor's durable state: the pid history
// ring, safety counters and closed-cycle diagnostics. SQLite keeps the
// daemon self-contained on the controller hardware.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hearthgrid/hearthd/internal/monitoring"
	"github.com/hearthgrid/hearthd/internal/tuning"
)

// Store wraps the SQLite handle.
type Store struct {
	*sql.DB
}

// NewStore opens (creating if needed) the database at path and applies all
// pending migrations.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time keeps sqlite happy under the per-zone goroutines
	db.SetMaxOpenConns(1)

	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// SnapshotZone implements tuning.Snapshotter: it replaces the zone's history
// ring, counters and apply log in one transaction. Persistence failures are
// logged, never propagated to the supervisor.
func (s *Store) SnapshotZone(zone string, history []tuning.PidHistoryEntry, counters tuning.SafetyCounters, autoApplyCount int) {
	if err := s.snapshotZone(zone, history, counters, autoApplyCount); err != nil {
		monitoring.Logf("store: snapshot zone %s failed: %v", zone, err)
	}
}

func (s *Store) snapshotZone(zone string, history []tuning.PidHistoryEntry, counters tuning.SafetyCounters, autoApplyCount int) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			monitoring.Logf("store: rollback failed: %v", err)
		}
	}()

	if _, err := tx.Exec(`DELETE FROM pid_history WHERE zone_id = ?`, zone); err != nil {
		return err
	}
	for _, e := range history {
		if _, err := tx.Exec(`
			INSERT INTO pid_history (zone_id, applied_at, kp, ki, kd, ke, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			zone, e.At.Unix(), e.Params.Kp, e.Params.Ki, e.Params.Kd, e.Params.Ke, string(e.Reason),
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO safety_counters (zone_id, lifetime_applies, auto_apply_count, last_apply_unix, last_apply_cycle_index, last_outdoor_shift_unix)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(zone_id) DO UPDATE SET
			lifetime_applies = excluded.lifetime_applies,
			auto_apply_count = excluded.auto_apply_count,
			last_apply_unix = excluded.last_apply_unix,
			last_apply_cycle_index = excluded.last_apply_cycle_index,
			last_outdoor_shift_unix = excluded.last_outdoor_shift_unix`,
		zone, counters.LifetimeApplies, autoApplyCount,
		unixOrZero(counters.LastApplyAt), counters.LastApplyCycleIndex,
		unixOrZero(counters.LastOutdoorShiftAt),
	); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM apply_log WHERE zone_id = ?`, zone); err != nil {
		return err
	}
	for _, at := range counters.ApplyLog {
		if _, err := tx.Exec(`INSERT INTO apply_log (zone_id, applied_at) VALUES (?, ?)`, zone, at.Unix()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadZone restores a zone's persisted state. A zone never seen before
// returns empty state and no error.
func (s *Store) LoadZone(zone string) (history []tuning.PidHistoryEntry, counters tuning.SafetyCounters, autoApplyCount int, err error) {
	rows, err := s.Query(`
		SELECT applied_at, kp, ki, kd, ke, reason
		FROM pid_history WHERE zone_id = ? ORDER BY applied_at, rowid`, zone)
	if err != nil {
		return nil, counters, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var at int64
		var e tuning.PidHistoryEntry
		var reason string
		if err := rows.Scan(&at, &e.Params.Kp, &e.Params.Ki, &e.Params.Kd, &e.Params.Ke, &reason); err != nil {
			return nil, counters, 0, err
		}
		e.At = time.Unix(at, 0).UTC()
		e.Reason = tuning.ApplyReason(reason)
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, counters, 0, err
	}

	var lastApply, lastShift int64
	err = s.QueryRow(`
		SELECT lifetime_applies, auto_apply_count, last_apply_unix, last_apply_cycle_index, last_outdoor_shift_unix
		FROM safety_counters WHERE zone_id = ?`, zone).
		Scan(&counters.LifetimeApplies, &autoApplyCount, &lastApply, &counters.LastApplyCycleIndex, &lastShift)
	switch {
	case err == sql.ErrNoRows:
		return history, counters, 0, nil
	case err != nil:
		return nil, counters, 0, err
	}
	if lastApply > 0 {
		counters.LastApplyAt = time.Unix(lastApply, 0).UTC()
	}
	if lastShift > 0 {
		counters.LastOutdoorShiftAt = time.Unix(lastShift, 0).UTC()
	}

	logRows, err := s.Query(`SELECT applied_at FROM apply_log WHERE zone_id = ? ORDER BY applied_at`, zone)
	if err != nil {
		return nil, counters, 0, err
	}
	defer logRows.Close()
	for logRows.Next() {
		var at int64
		if err := logRows.Scan(&at); err != nil {
			return nil, counters, 0, err
		}
		counters.ApplyLog = append(counters.ApplyLog, time.Unix(at, 0).UTC())
	}
	return history, counters, autoApplyCount, logRows.Err()
}

// RecordCycle implements tuning.CycleRecorder. Failures are logged and
// dropped; diagnostics must never stall the pipeline.
func (s *Store) RecordCycle(zone string, rec tuning.CycleRecord) {
	_, err := s.Exec(`
		INSERT INTO cycles (zone_id, started_unix, ended_unix, overshoot, undershoot, settling_s, rise_s, oscillations, interruption)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		zone, rec.Start.Unix(), rec.End.Unix(),
		rec.Overshoot, rec.Undershoot,
		rec.SettlingTime.Seconds(), rec.RiseTime.Seconds(),
		rec.Oscillations, string(rec.Interruption),
	)
	if err != nil {
		monitoring.Logf("store: record cycle for zone %s failed: %v", zone, err)
	}
}

// RecentCycles returns the newest closed cycles for a zone, newest first.
func (s *Store) RecentCycles(zone string, limit int) ([]tuning.CycleRecord, error) {
	rows, err := s.Query(`
		SELECT started_unix, ended_unix, overshoot, undershoot, settling_s, rise_s, oscillations, interruption
		FROM cycles WHERE zone_id = ? ORDER BY started_unix DESC LIMIT ?`, zone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tuning.CycleRecord
	for rows.Next() {
		var start, end int64
		var settling, rise float64
		var rec tuning.CycleRecord
		var reason string
		if err := rows.Scan(&start, &end, &rec.Overshoot, &rec.Undershoot, &settling, &rise, &rec.Oscillations, &reason); err != nil {
			return nil, err
		}
		rec.Start = time.Unix(start, 0).UTC()
		rec.End = time.Unix(end, 0).UTC()
		rec.SettlingTime = time.Duration(settling * float64(time.Second))
		rec.RiseTime = time.Duration(rise * float64(time.Second))
		rec.Interruption = tuning.InterruptionReason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneCycles removes cycle diagnostics older than the cutoff and returns
// how many rows were deleted.
func (s *Store) PruneCycles(before time.Time) (int64, error) {
	res, err := s.Exec(`DELETE FROM cycles WHERE ended_unix < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opencgm/glucose.report/internal/libre"
)

// Reading is one stored glucose measurement. Times are stored as unix
// milliseconds and surfaced as time.Time in UTC.
type Reading struct {
	TakenAt time.Time `json:"taken_at"`
	MGDL    float64   `json:"mgdl"`
	RawCode int       `json:"raw_code"`
	Source  string    `json:"source"`
}

// SensorStatus is one stored sensor lifecycle snapshot.
type SensorStatus struct {
	RecordedAt time.Time `json:"recorded_at"`
	State      string    `json:"state"`
	AgeMinutes int       `json:"age_minutes"`
	Serial     string    `json:"serial"`
}

// InsertSamples stores decoded samples in a single transaction. Samples whose
// timestamp is already present are skipped, so re-decoding an overlapping
// FRAM image is harmless. Returns the number of rows actually inserted.
func (db *DB) InsertSamples(samples []libre.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO readings (taken_at, mgdl, raw_code, source) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, s := range samples {
		res, err := stmt.Exec(s.TakenAt.UnixMilli(), s.MGDL, int(s.RawCode), s.Source)
		if err != nil {
			return 0, fmt.Errorf("failed to insert reading at %v: %w", s.TakenAt, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit readings: %w", err)
	}
	return inserted, nil
}

// ReadingsSince returns all readings within the past number of days, newest
// first.
func (db *DB) ReadingsSince(days int) ([]Reading, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()

	rows, err := db.Query(
		`SELECT taken_at, mgdl, raw_code, source FROM readings WHERE taken_at > ? ORDER BY taken_at DESC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		var takenAt int64
		if err := rows.Scan(&takenAt, &r.MGDL, &r.RawCode, &r.Source); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.TakenAt = time.UnixMilli(takenAt).UTC()
		readings = append(readings, r)
	}

	return readings, rows.Err()
}

// LatestReadingTime returns the timestamp of the most recent stored reading.
// This is the watermark handed to the decoder so that re-reads of the sensor
// only produce new samples. Returns the zero time when no readings exist.
func (db *DB) LatestReadingTime() (time.Time, error) {
	var takenAt int64
	err := db.QueryRow(`SELECT COALESCE(MAX(taken_at), 0) FROM readings`).Scan(&takenAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest reading: %w", err)
	}
	if takenAt == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(takenAt).UTC(), nil
}

// RecordSensorStatus stores one sensor lifecycle snapshot.
func (db *DB) RecordSensorStatus(recordedAt time.Time, state libre.SensorState, ageMinutes int, serial string) error {
	_, err := db.Exec(
		`INSERT INTO sensor_status (recorded_at, state, age_minutes, serial) VALUES (?, ?, ?, ?)`,
		recordedAt.UnixMilli(), state.String(), ageMinutes, serial,
	)
	if err != nil {
		return fmt.Errorf("failed to record sensor status: %w", err)
	}
	return nil
}

// LatestSensorStatus returns the most recent sensor snapshot, or nil when
// none has been recorded yet.
func (db *DB) LatestSensorStatus() (*SensorStatus, error) {
	var s SensorStatus
	var recordedAt int64
	err := db.QueryRow(
		`SELECT recorded_at, state, age_minutes, serial FROM sensor_status ORDER BY recorded_at DESC, id DESC LIMIT 1`,
	).Scan(&recordedAt, &s.State, &s.AgeMinutes, &s.Serial)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query sensor status: %w", err)
	}
	s.RecordedAt = time.UnixMilli(recordedAt).UTC()
	return &s, nil
}

package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/session"
	"github.com/banshee-data/occupancy.report/internal/visit"
)

// OccupancyEvent is a stored spot transition.
type OccupancyEvent struct {
	ID       int64     `json:"id"`
	Lot      string    `json:"lot"`
	SpotID   int       `json:"spot_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Distance *float64  `json:"distance_cm,omitempty"`
	At       time.Time `json:"at"`
}

func (e *OccupancyEvent) String() string {
	return fmt.Sprintf("%s spot %d: %s -> %s at %s", e.Lot, e.SpotID, e.From, e.To, e.At.Format(time.RFC3339))
}

// RecordTransition appends a committed transition.
func (db *DB) RecordTransition(t pipeline.Transition) error {
	_, err := db.Exec(
		`INSERT INTO occupancy_events (lot, spot_id, from_state, to_state, distance_cm, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Lot, t.SpotID, t.From.String(), t.To.String(), nullFloat(t.Distance), unixSeconds(t.At),
	)
	return err
}

// SpotChanged makes the database a pipeline observer. Write failures are
// logged; the live state has already changed.
func (db *DB) SpotChanged(t pipeline.Transition) {
	if err := db.RecordTransition(t); err != nil {
		logf("failed to record transition for %s spot %d: %v", t.Lot, t.SpotID, err)
	}
}

// OccupancyEvents returns the most recent transitions for lot, newest
// first. An empty lot matches every lot; limit <= 0 means 100.
func (db *DB) OccupancyEvents(lot string, limit int) ([]OccupancyEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT event_id, lot, spot_id, from_state, to_state, distance_cm, ts
		FROM occupancy_events
		WHERE ? = '' OR lot = ?
		ORDER BY ts DESC, event_id DESC
		LIMIT ?`, lot, lot, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OccupancyEvent
	for rows.Next() {
		var e OccupancyEvent
		var distance sql.NullFloat64
		var ts float64
		if err := rows.Scan(&e.ID, &e.Lot, &e.SpotID, &e.From, &e.To, &distance, &ts); err != nil {
			return nil, err
		}
		if distance.Valid {
			d := distance.Float64
			e.Distance = &d
		}
		e.At = fromUnix(ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// HourlyArrivals counts transitions into the occupied state per hour since
// the given time, oldest first. Hours without arrivals are omitted.
func (db *DB) HourlyArrivals(lot string, since time.Time) ([]HourBucket, error) {
	rows, err := db.Query(`
		SELECT CAST(ts / 3600 AS INTEGER) * 3600 AS hour, COUNT(*)
		FROM occupancy_events
		WHERE to_state = 'occupied' AND ts >= ? AND (? = '' OR lot = ?)
		GROUP BY hour
		ORDER BY hour`, unixSeconds(since), lot, lot)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []HourBucket
	for rows.Next() {
		var hour int64
		var b HourBucket
		if err := rows.Scan(&hour, &b.Count); err != nil {
			return nil, err
		}
		b.Hour = time.Unix(hour, 0).UTC()
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// HourBucket is one hour of aggregated arrivals.
type HourBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// RecordVisit stores a completed visit. It satisfies visit.Sink.
func (db *DB) RecordVisit(v visit.Visit) error {
	_, err := db.Exec(
		`INSERT INTO visits (visit_id, lot, spot_id, start_time, end_time, duration_s, fee) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Lot, v.SpotID, unixSeconds(v.Start), unixSeconds(v.End), v.Duration.Seconds(), v.Fee,
	)
	return err
}

// Visits returns the most recent completed visits, newest first.
func (db *DB) Visits(lot string, limit int) ([]visit.Visit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT visit_id, lot, spot_id, start_time, end_time, duration_s, fee
		FROM visits
		WHERE ? = '' OR lot = ?
		ORDER BY end_time DESC
		LIMIT ?`, lot, lot, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []visit.Visit
	for rows.Next() {
		var v visit.Visit
		var start, end, dur float64
		if err := rows.Scan(&v.ID, &v.Lot, &v.SpotID, &start, &end, &dur, &v.Fee); err != nil {
			return nil, err
		}
		v.Start = fromUnix(start)
		v.End = fromUnix(end)
		v.Duration = time.Duration(math.Round(dur * float64(time.Second)))
		out = append(out, v)
	}
	return out, rows.Err()
}

// ParkingSession is a stored driver session. End is nil while parked.
type ParkingSession struct {
	ID     int64      `json:"id"`
	UserID int        `json:"user_id"`
	Lot    string     `json:"lot"`
	SpotID int        `json:"spot_id"`
	Fee    float64    `json:"fee"`
	Start  time.Time  `json:"start"`
	End    *time.Time `json:"end,omitempty"`
}

// RecordParkingStart opens a session row for a driver who has just parked.
func (db *DB) RecordParkingStart(userID int, p session.Parking) error {
	_, err := db.Exec(
		`INSERT INTO parking_sessions (user_id, lot, spot_id, fee, start_time) VALUES (?, ?, ?, ?, ?)`,
		userID, p.Lot.Name(), p.SpotID, p.Lot.Fee(), unixSeconds(p.Since),
	)
	return err
}

// RecordParkingEnd closes the driver's open session.
func (db *DB) RecordParkingEnd(userID int, end time.Time) error {
	res, err := db.Exec(
		`UPDATE parking_sessions SET end_time = ? WHERE user_id = ? AND end_time IS NULL`,
		unixSeconds(end), userID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no open parking session for user %d", userID)
	}
	return nil
}

// ParkingSessions returns sessions for userID, newest first. A userID of 0
// matches every driver.
func (db *DB) ParkingSessions(userID int, limit int) ([]ParkingSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT session_id, user_id, lot, spot_id, fee, start_time, end_time
		FROM parking_sessions
		WHERE ? = 0 OR user_id = ?
		ORDER BY start_time DESC, session_id DESC
		LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParkingSession
	for rows.Next() {
		var s ParkingSession
		var start float64
		var end sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.UserID, &s.Lot, &s.SpotID, &s.Fee, &start, &end); err != nil {
			return nil, err
		}
		s.Start = fromUnix(start)
		if end.Valid {
			e := fromUnix(end.Float64)
			s.End = &e
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordOverstay stores one overstay observed by a sweep at ts.
func (db *DB) RecordOverstay(o session.Overstay, ts time.Time) error {
	_, err := db.Exec(
		`INSERT INTO overstays (user_id, lot, spot_id, since, over_s, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		o.UserID, o.Parking.Lot.Name(), o.Parking.SpotID, unixSeconds(o.Parking.Since), o.Over.Seconds(), unixSeconds(ts),
	)
	return err
}

// OverstayCount returns the number of overstay rows recorded for userID.
func (db *DB) OverstayCount(userID int) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM overstays WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// Package database implements the local SQLite sample store. It is the
// single durable source of truth: station registry, per-cycle samples and
// the transition audit log.
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vietrtk/corsmon/internal/types"
)

// StoreError indicates a local persistence failure. It is fatal for the
// current cycle but must never take the scheduler down.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Client wraps the SQLite database. Logical write batches (one sampler
// cycle, one retention purge) are serialized by writeMu; reads run
// concurrently under WAL snapshot isolation.
type Client struct {
	db      *sql.DB
	writeMu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS stations (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	province_prefix TEXT NOT NULL,
	whitelisted     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS samples (
	station_id       TEXT NOT NULL REFERENCES stations(id),
	ts               INTEGER NOT NULL,
	status           TEXT NOT NULL,
	user_count       INTEGER NOT NULL,
	fixed_user_count INTEGER NOT NULL,
	CHECK (fixed_user_count <= user_count)
);
CREATE INDEX IF NOT EXISTS idx_samples_station_ts ON samples(station_id, ts);
CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts);

CREATE TABLE IF NOT EXISTS transition_events (
	station_id  TEXT NOT NULL,
	prev_status TEXT NOT NULL,
	new_status  TEXT NOT NULL,
	ts          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transition_events_ts ON transition_events(ts);
`

// Open opens (creating if necessary) the store at path.
func Open(path string) (*Client, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, &StoreError{Op: "open", Err: err}
		}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, &StoreError{Op: "init schema", Err: err}
	}
	return &Client{db: db}, nil
}

// Close closes the underlying database.
func (c *Client) Close() error {
	return c.db.Close()
}

// UpsertStations registers stations, preserving an existing whitelist flag.
func (c *Client) UpsertStations(stations []types.Station) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return &StoreError{Op: "upsert stations", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO stations (id, name, province_prefix, whitelisted)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, province_prefix = excluded.province_prefix`)
	if err != nil {
		return &StoreError{Op: "upsert stations", Err: err}
	}
	defer stmt.Close()

	for _, st := range stations {
		if _, err := stmt.Exec(st.ID, st.Name, st.ProvincePrefix, boolToInt(st.Whitelisted)); err != nil {
			return &StoreError{Op: "upsert stations", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "upsert stations", Err: err}
	}
	return nil
}

// Stations returns every registered station.
func (c *Client) Stations() ([]types.Station, error) {
	stations, err := queryStations(c.db)
	if err != nil {
		return nil, &StoreError{Op: "list stations", Err: err}
	}
	return stations, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

func queryStations(q querier) ([]types.Station, error) {
	rows, err := q.Query(`SELECT id, name, province_prefix, whitelisted FROM stations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []types.Station
	for rows.Next() {
		var st types.Station
		var wl int
		if err := rows.Scan(&st.ID, &st.Name, &st.ProvincePrefix, &wl); err != nil {
			return nil, err
		}
		st.Whitelisted = wl != 0
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// ReportWindow returns the station registry and every sample with
// start <= ts < end, both read inside a single transaction. One report
// computation therefore observes one consistent snapshot: a concurrent
// sampler upsert or retention purge cannot land between the two reads.
func (c *Client) ReportWindow(start, end time.Time) ([]types.Station, []types.Sample, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, nil, &StoreError{Op: "report window", Err: err}
	}
	defer tx.Rollback()

	stations, err := queryStations(tx)
	if err != nil {
		return nil, nil, &StoreError{Op: "report window", Err: err}
	}

	rows, err := tx.Query(`
		SELECT station_id, ts, status, user_count, fixed_user_count
		FROM samples WHERE ts >= ? AND ts < ? ORDER BY ts`,
		start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, nil, &StoreError{Op: "report window", Err: err}
	}

	var samples []types.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			rows.Close()
			return nil, nil, &StoreError{Op: "report window", Err: err}
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, &StoreError{Op: "report window", Err: err}
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, nil, &StoreError{Op: "report window", Err: err}
	}
	return stations, samples, nil
}

// SetWhitelisted flips the whitelist membership of one station.
func (c *Client) SetWhitelisted(id string, whitelisted bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	res, err := c.db.Exec(`UPDATE stations SET whitelisted = ? WHERE id = ?`, boolToInt(whitelisted), id)
	if err != nil {
		return &StoreError{Op: "set whitelisted", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StoreError{Op: "set whitelisted", Err: err}
	}
	if n == 0 {
		return &StoreError{Op: "set whitelisted", Err: fmt.Errorf("unknown station %q", id)}
	}
	return nil
}

// InsertSamples persists one polling cycle's samples as a single
// transaction: either every sample lands or none do. Every sample is
// validated up front; one malformed sample rejects the whole batch so a
// partial cycle can never corrupt latest-sample lookups.
func (c *Client) InsertSamples(samples []types.Sample) (int, error) {
	for i := range samples {
		if err := samples[i].Validate(); err != nil {
			return 0, &StoreError{Op: "insert samples", Err: err}
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return 0, &StoreError{Op: "insert samples", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO samples (station_id, ts, status, user_count, fixed_user_count)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, &StoreError{Op: "insert samples", Err: err}
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.Exec(s.StationID, s.Timestamp.UTC().Unix(), string(s.Status), s.UserCount, s.FixedUserCount); err != nil {
			return 0, &StoreError{Op: "insert samples", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "insert samples", Err: err}
	}
	return len(samples), nil
}

// LatestSamples returns the most recent sample for every station that has
// one, keyed by station id. The tracker rehydrates from this at startup.
func (c *Client) LatestSamples() (map[string]types.Sample, error) {
	rows, err := c.db.Query(`
		SELECT s.station_id, s.ts, s.status, s.user_count, s.fixed_user_count
		FROM samples s
		JOIN (SELECT station_id, MAX(ts) AS max_ts FROM samples GROUP BY station_id) latest
		  ON s.station_id = latest.station_id AND s.ts = latest.max_ts`)
	if err != nil {
		return nil, &StoreError{Op: "latest samples", Err: err}
	}
	defer rows.Close()

	out := make(map[string]types.Sample)
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, &StoreError{Op: "latest samples", Err: err}
		}
		out[s.StationID] = s
	}
	return out, rows.Err()
}

// LatestSampleFor returns the newest sample for one station, or nil when the
// station has no samples at all.
func (c *Client) LatestSampleFor(stationID string) (*types.Sample, error) {
	row := c.db.QueryRow(`
		SELECT station_id, ts, status, user_count, fixed_user_count
		FROM samples WHERE station_id = ? ORDER BY ts DESC LIMIT 1`, stationID)

	var s types.Sample
	var ts int64
	err := row.Scan(&s.StationID, &ts, &s.Status, &s.UserCount, &s.FixedUserCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "latest sample", Err: err}
	}
	s.Timestamp = time.Unix(ts, 0).UTC()
	return &s, nil
}

// SamplesInWindow returns all samples for the given stations with
// start <= ts < end, ordered by timestamp. The caller resolves scope to a
// station list so scope filtering stays in one place.
func (c *Client) SamplesInWindow(stationIDs []string, start, end time.Time) ([]types.Sample, error) {
	if len(stationIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(stationIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(stationIDs)+2)
	for _, id := range stationIDs {
		args = append(args, id)
	}
	args = append(args, start.UTC().Unix(), end.UTC().Unix())

	rows, err := c.db.Query(fmt.Sprintf(`
		SELECT station_id, ts, status, user_count, fixed_user_count
		FROM samples
		WHERE station_id IN (%s) AND ts >= ? AND ts < ?
		ORDER BY ts`, placeholders), args...)
	if err != nil {
		return nil, &StoreError{Op: "samples in window", Err: err}
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, &StoreError{Op: "samples in window", Err: err}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSamplesOlderThan removes samples and audit events older than cutoff,
// one transaction per table so a failure never leaves a half-deleted window.
// Returns the number of sample rows deleted; repeated calls with nothing new
// qualifying delete zero rows and do not error.
func (c *Client) DeleteSamplesOlderThan(cutoff time.Time) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	res, err := c.db.Exec(`DELETE FROM samples WHERE ts < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, &StoreError{Op: "delete old samples", Err: err}
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, &StoreError{Op: "delete old samples", Err: err}
	}

	if _, err := c.db.Exec(`DELETE FROM transition_events WHERE ts < ?`, cutoff.UTC().Unix()); err != nil {
		return deleted, &StoreError{Op: "delete old transition events", Err: err}
	}
	return deleted, nil
}

// InsertTransitions appends transition events to the audit log.
func (c *Client) InsertTransitions(events []types.TransitionEvent) error {
	if len(events) == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return &StoreError{Op: "insert transitions", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO transition_events (station_id, prev_status, new_status, ts)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return &StoreError{Op: "insert transitions", Err: err}
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(ev.StationID, string(ev.PreviousStatus), string(ev.NewStatus), ev.Timestamp.UTC().Unix()); err != nil {
			return &StoreError{Op: "insert transitions", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "insert transitions", Err: err}
	}
	return nil
}

// Stats returns per-table row counts for the operator surface.
func (c *Client) Stats() (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, table := range []string{"stations", "samples", "transition_events"} {
		var n int64
		if err := c.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, &StoreError{Op: "stats", Err: err}
		}
		stats[table] = n
	}
	return stats, nil
}

func scanSample(rows *sql.Rows) (types.Sample, error) {
	var s types.Sample
	var ts int64
	if err := rows.Scan(&s.StationID, &ts, &s.Status, &s.UserCount, &s.FixedUserCount); err != nil {
		return types.Sample{}, err
	}
	s.Timestamp = time.Unix(ts, 0).UTC()
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

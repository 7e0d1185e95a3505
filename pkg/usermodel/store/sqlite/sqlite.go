package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/usermodel/pkg/usermodel/classifier"
	"github.com/cognicore/usermodel/pkg/usermodel/events"
	"github.com/cognicore/usermodel/pkg/usermodel/history"
	"github.com/cognicore/usermodel/pkg/usermodel/intent"
	"github.com/cognicore/usermodel/pkg/usermodel/internalerr"
	"github.com/cognicore/usermodel/pkg/usermodel/state"
	"github.com/cognicore/usermodel/pkg/usermodel/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// schema if needed.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	// Pragmas in the connection string apply to every pooled connection
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS profiles (
	name TEXT PRIMARY KEY,
	ads_enabled INTEGER NOT NULL DEFAULT 0,
	ad_uuid TEXT,
	ad_frequency REAL NOT NULL DEFAULT 0,
	last_user_activity TEXT,
	last_idle_stop TEXT,
	network_id TEXT,
	updated_at TEXT
);

CREATE TABLE IF NOT EXISTS page_scores (
	profile TEXT NOT NULL,
	seq INTEGER NOT NULL,
	scores TEXT NOT NULL,
	PRIMARY KEY(profile, seq),
	FOREIGN KEY(profile) REFERENCES profiles(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS context_flags (
	profile TEXT NOT NULL,
	kind TEXT NOT NULL,
	active INTEGER NOT NULL,
	source_url TEXT,
	score REAL,
	ts TEXT,
	PRIMARY KEY(profile, kind),
	FOREIGN KEY(profile) REFERENCES profiles(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ad_history (
	profile TEXT PRIMARY KEY,
	last_ad_time TEXT,
	last_ad_category TEXT,
	last_ad_id TEXT,
	FOREIGN KEY(profile) REFERENCES profiles(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	tag TEXT NOT NULL,
	payload TEXT,
	at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS events_at ON events(at);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveState replaces everything stored for profile with s.
func (s *sqliteStore) SaveState(ctx context.Context, profile string, snap state.Snapshot) error {
	profile = store.ProfileName(profile)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const upsert = `
INSERT INTO profiles (name, ads_enabled, ad_uuid, ad_frequency, last_user_activity, last_idle_stop, network_id, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	ads_enabled=excluded.ads_enabled,
	ad_uuid=excluded.ad_uuid,
	ad_frequency=excluded.ad_frequency,
	last_user_activity=excluded.last_user_activity,
	last_idle_stop=excluded.last_idle_stop,
	network_id=excluded.network_id,
	updated_at=excluded.updated_at;
`
	_, err = tx.ExecContext(ctx, upsert,
		profile,
		boolInt(snap.AdsEnabled),
		snap.AdUUID,
		snap.AdFrequency,
		formatTime(snap.LastUserActivity),
		formatTime(snap.LastIdleStop),
		snap.NetworkID,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", profile, err)
	}

	if err := replacePageScores(ctx, tx, profile, snap.PageScores); err != nil {
		return err
	}
	if err := replaceFlags(ctx, tx, profile, snap.Intent); err != nil {
		return err
	}

	const adStmt = `
INSERT INTO ad_history (profile, last_ad_time, last_ad_category, last_ad_id)
VALUES (?, ?, ?, ?)
ON CONFLICT(profile) DO UPDATE SET
	last_ad_time=excluded.last_ad_time,
	last_ad_category=excluded.last_ad_category,
	last_ad_id=excluded.last_ad_id;
`
	_, err = tx.ExecContext(ctx, adStmt,
		profile,
		formatTime(snap.AdHistory.LastAdTime),
		snap.AdHistory.LastAdCategory,
		snap.AdHistory.LastAdID,
	)
	if err != nil {
		return fmt.Errorf("save ad history %s: %w", profile, err)
	}

	return tx.Commit()
}

func replacePageScores(ctx context.Context, tx *sql.Tx, profile string, ledger history.Ledger) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM page_scores WHERE profile=?`, profile); err != nil {
		return err
	}
	if len(ledger) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO page_scores (profile, seq, scores) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, row := range ledger {
		raw, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, profile, i, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func replaceFlags(ctx context.Context, tx *sql.Tx, profile string, flags intent.Flags) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM context_flags WHERE profile=?`, profile); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO context_flags (profile, kind, active, source_url, score, ts)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, kind := range []intent.Kind{intent.Shopping, intent.Search} {
		f := flags.Get(kind)
		if f == (intent.Flag{}) {
			continue
		}
		_, err := stmt.ExecContext(ctx, profile, string(kind), boolInt(f.Active), f.SourceURL, f.Score, formatTime(f.Timestamp))
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadState reads the snapshot saved for profile.
func (s *sqliteStore) LoadState(ctx context.Context, profile string) (state.Snapshot, bool, error) {
	profile = store.ProfileName(profile)

	var (
		snap               state.Snapshot
		enabled            int
		uuid, networkID    sql.NullString
		activity, idleStop sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT ads_enabled, ad_uuid, ad_frequency, last_user_activity, last_idle_stop, network_id
FROM profiles WHERE name = ?`, profile).Scan(&enabled, &uuid, &snap.AdFrequency, &activity, &idleStop, &networkID)
	if err == sql.ErrNoRows {
		return state.Snapshot{}, false, nil
	}
	if err != nil {
		return state.Snapshot{}, false, err
	}
	snap.AdsEnabled = enabled != 0
	snap.AdUUID = uuid.String
	snap.NetworkID = networkID.String
	if snap.LastUserActivity, err = parseTime(activity); err != nil {
		return state.Snapshot{}, false, err
	}
	if snap.LastIdleStop, err = parseTime(idleStop); err != nil {
		return state.Snapshot{}, false, err
	}

	if snap.PageScores, err = s.loadPageScores(ctx, profile); err != nil {
		return state.Snapshot{}, false, err
	}
	if snap.Intent, err = s.loadFlags(ctx, profile); err != nil {
		return state.Snapshot{}, false, err
	}
	if snap.AdHistory, err = s.loadAdHistory(ctx, profile); err != nil {
		return state.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *sqliteStore) loadPageScores(ctx context.Context, profile string) (history.Ledger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scores FROM page_scores WHERE profile = ? ORDER BY seq`, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledger history.Ledger
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var row classifier.Scores
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("page scores for %s: %w", profile, err)
		}
		ledger = append(ledger, row)
	}
	return ledger, rows.Err()
}

func (s *sqliteStore) loadFlags(ctx context.Context, profile string) (intent.Flags, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, active, source_url, score, ts FROM context_flags WHERE profile = ?`, profile)
	if err != nil {
		return intent.Flags{}, err
	}
	defer rows.Close()

	var flags intent.Flags
	for rows.Next() {
		var (
			kind   string
			active int
			src    sql.NullString
			score  sql.NullFloat64
			ts     sql.NullString
		)
		if err := rows.Scan(&kind, &active, &src, &score, &ts); err != nil {
			return intent.Flags{}, err
		}
		at, err := parseTime(ts)
		if err != nil {
			return intent.Flags{}, err
		}
		f := intent.Flag{Active: active != 0, SourceURL: src.String, Score: score.Float64, Timestamp: at}
		switch intent.Kind(kind) {
		case intent.Shopping:
			flags.Shopping = f
		case intent.Search:
			flags.Search = f
		}
	}
	return flags, rows.Err()
}

func (s *sqliteStore) loadAdHistory(ctx context.Context, profile string) (state.AdRecord, error) {
	var (
		rec     state.AdRecord
		at      sql.NullString
		cat, id sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT last_ad_time, last_ad_category, last_ad_id FROM ad_history WHERE profile = ?`, profile).Scan(&at, &cat, &id)
	if err == sql.ErrNoRows {
		return state.AdRecord{}, nil
	}
	if err != nil {
		return state.AdRecord{}, err
	}
	if rec.LastAdTime, err = parseTime(at); err != nil {
		return state.AdRecord{}, err
	}
	rec.LastAdCategory = cat.String
	rec.LastAdID = id.String
	return rec, nil
}

// DeleteState removes the profile and, through the cascades, its history.
func (s *sqliteStore) DeleteState(ctx context.Context, profile string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, store.ProfileName(profile))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", store.ProfileName(profile), internalerr.ErrNotFound)
	}
	return nil
}

// Profiles lists saved profile names in order.
func (s *sqliteStore) Profiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AppendEvent stores e. Events without an id are rejected.
func (s *sqliteStore) AppendEvent(ctx context.Context, e events.Event) error {
	if e.ID == "" {
		return fmt.Errorf("event %q without id: %w", e.Tag, internalerr.ErrInvalidInput)
	}
	var payload sql.NullString
	if len(e.Payload) > 0 {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		payload = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events (id, tag, payload, at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, e.ID, e.Tag, payload, formatTime(e.At))
	return err
}

// RecentEvents returns up to limit events, newest first.
func (s *sqliteStore) RecentEvents(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tag, payload, at FROM events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e       events.Event
			payload sql.NullString
			at      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Tag, &payload, &at); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("event %s payload: %w", e.ID, err)
			}
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed width so that text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v.String)
}

// Package history records scenario results in an encrypted SQLite database
// (SQLCipher) so flaky scenarios can be spotted across runs.
package history

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/kuitang/uiscenario/internal/errs"
	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/runner"
	"github.com/kuitang/uiscenario/internal/scenario"
)

const (
	driverName = "sqlite3"

	// KeySize is the SQLCipher raw key length in bytes.
	KeySize = 32
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id           TEXT PRIMARY KEY,
	scenario_id      TEXT NOT NULL,
	suite            TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL,
	expected_outcome TEXT NOT NULL,
	code             TEXT NOT NULL DEFAULT '',
	message          TEXT NOT NULL DEFAULT '',
	step_index       INTEGER NOT NULL DEFAULT -1,
	step             TEXT NOT NULL DEFAULT '',
	last_url         TEXT NOT NULL DEFAULT '',
	started_at       INTEGER NOT NULL,
	elapsed_ms       INTEGER NOT NULL,
	soft_timeouts    INTEGER NOT NULL DEFAULT 0,
	artifact_url     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_scenario_started ON runs(scenario_id, started_at DESC);
`

// Entry is one recorded run.
type Entry struct {
	RunID           string
	ScenarioID      string
	Suite           string
	Outcome         scenario.Outcome
	ExpectedOutcome scenario.Outcome
	Code            errs.Code
	Message         string
	StepIndex       int
	Step            string
	LastURL         string
	StartedAt       time.Time
	Elapsed         time.Duration
	SoftTimeouts    int
	ArtifactURL     string
}

// Matched reports whether the run ended the way the scenario expected.
func (e Entry) Matched() bool {
	return e.Outcome == e.ExpectedOutcome
}

// Stability summarizes a scenario's recent runs.
type Stability struct {
	ScenarioID string
	Runs       int
	Matched    int
	// Flaky is set when the window holds both matched and mismatched runs.
	Flaky bool
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path encrypted with key.
// A wrong key fails here rather than on first use.
func Open(path string, key []byte) (*Store, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("history: key must be exactly %d bytes, got %d", KeySize, len(key))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hex.EncodeToString(key))
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// One writer; the CLI records results sequentially.
	db.SetMaxOpenConns(1)

	// Reading the schema forces SQLCipher to decrypt the first page.
	var tables int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&tables); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: verify %s (wrong HISTORY_KEY?): %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenHex is Open with a hex-encoded key, as carried by HISTORY_KEY.
func OpenHex(path, hexKey string) (*Store, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("history: decode key: %w", err)
	}
	return Open(path, key)
}

// Record stores one result. Recording the same run twice is an error.
func (s *Store) Record(ctx context.Context, suite string, res runner.Result, artifactURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, scenario_id, suite, outcome, expected_outcome, code, message,
			step_index, step, last_url, started_at, elapsed_ms, soft_timeouts, artifact_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.ScenarioID, suite, string(res.Outcome), string(res.ExpectedOutcome),
		string(res.Code), res.Message, res.StepIndex, res.Step, res.LastURL,
		res.StartedAt.UnixMilli(), res.Elapsed.Milliseconds(), res.SoftTimeouts, artifactURL,
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", res.RunID, err)
	}
	obs.From(ctx).Debug("run recorded", "suite", suite)
	return nil
}

// Recent returns up to limit runs of scenarioID, newest first.
func (s *Store) Recent(ctx context.Context, scenarioID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, scenario_id, suite, outcome, expected_outcome, code, message,
			step_index, step, last_url, started_at, elapsed_ms, soft_timeouts, artifact_url
		FROM runs
		WHERE scenario_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, scenarioID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query %s: %w", scenarioID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                       Entry
			outcome, expected, code string
			startedMS, elapsedMS    int64
		)
		if err := rows.Scan(&e.RunID, &e.ScenarioID, &e.Suite, &outcome, &expected, &code, &e.Message,
			&e.StepIndex, &e.Step, &e.LastURL, &startedMS, &elapsedMS, &e.SoftTimeouts, &e.ArtifactURL); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Outcome = scenario.Outcome(outcome)
		e.ExpectedOutcome = scenario.Outcome(expected)
		e.Code = errs.Code(code)
		e.StartedAt = time.UnixMilli(startedMS).UTC()
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate: %w", err)
	}
	return out, nil
}

// Stability summarizes the last window runs of scenarioID.
func (s *Store) Stability(ctx context.Context, scenarioID string, window int) (Stability, error) {
	entries, err := s.Recent(ctx, scenarioID, window)
	if err != nil {
		return Stability{}, err
	}
	st := Stability{ScenarioID: scenarioID, Runs: len(entries)}
	for _, e := range entries {
		if e.Matched() {
			st.Matched++
		}
	}
	st.Flaky = st.Matched > 0 && st.Matched < st.Runs
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

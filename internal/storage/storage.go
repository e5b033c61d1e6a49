// Package storage provides SQLite-backed persistence for series checkpoints and signals.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/quantstream/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db         *sql.DB
	maxSignals int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/quantstream/data.db.
func New(maxSignals int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "quantstream", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxSignals: maxSignals}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS series (
			name        TEXT PRIMARY KEY,
			bars        INTEGER NOT NULL DEFAULT 0,
			outliers    INTEGER NOT NULL DEFAULT 0,
			signals     INTEGER NOT NULL DEFAULT 0,
			last_time   INTEGER NOT NULL DEFAULT 0,
			last_close  REAL NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id          TEXT PRIMARY KEY,
			series      TEXT NOT NULL REFERENCES series(name) ON DELETE CASCADE,
			source      TEXT NOT NULL,
			kind        TEXT NOT NULL,
			direction   INTEGER NOT NULL,
			time        INTEGER NOT NULL,
			value       REAL NOT NULL,
			created_at  INTEGER NOT NULL,
			notified    INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_series_time ON signals(series, time)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveState upserts the checkpoint of one series.
func (s *Storage) SaveState(state *models.SeriesState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid series state: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO series (name, bars, outliers, signals, last_time, last_close, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			bars=excluded.bars, outliers=excluded.outliers, signals=excluded.signals,
			last_time=excluded.last_time, last_close=excluded.last_close, updated_at=excluded.updated_at`,
		state.Series, state.Bars, state.Outliers, state.Signals,
		unixNano(state.LastTime), state.LastClose, unixNano(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// LoadState returns the checkpoint of series, or nil when none was saved.
func (s *Storage) LoadState(series string) (*models.SeriesState, error) {
	row := s.db.QueryRow(`SELECT `+stateCols+` FROM series WHERE name = ?`, series)
	state, err := scanState(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return state, nil
}

func (s *Storage) LoadAllStates() (map[string]*models.SeriesState, error) {
	rows, err := s.db.Query(`SELECT ` + stateCols + ` FROM series`)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]*models.SeriesState)
	for rows.Next() {
		state, err := scanState(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		states[state.Series] = state
	}
	return states, rows.Err()
}

// AddSignals inserts signals in one transaction, assigning IDs and creation
// stamps where missing, then trims the journal to the newest maxSignals.
// The series of every signal must have been saved first.
func (s *Storage) AddSignals(signals []models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO signals
			(id, series, source, kind, direction, time, value, created_at, notified)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range signals {
		sig := &signals[i]
		if err := sig.Validate(); err != nil {
			return fmt.Errorf("invalid signal: %w", err)
		}
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = now
		}
		if _, err := stmt.Exec(
			sig.ID, sig.Series, sig.Source, string(sig.Kind), int(sig.Direction),
			unixNano(sig.Time), sig.Value, sig.CreatedAt.UnixNano(), boolToInt(sig.Notified),
		); err != nil {
			return fmt.Errorf("failed to insert signal: %w", err)
		}
	}

	if s.maxSignals > 0 {
		if err := rotate(tx, s.maxSignals); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSignals returns up to limit signals of series, newest bar first.
func (s *Storage) GetSignals(series string, limit int) ([]models.Signal, error) {
	rows, err := s.db.Query(`SELECT `+signalCols+` FROM signals
		WHERE series = ? ORDER BY time DESC, created_at DESC LIMIT ?`, series, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	signals := []models.Signal{}
	for rows.Next() {
		sig, err := scanSignal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}

func (s *Storage) CountSignals(series string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM signals WHERE series = ?`, series).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return n, nil
}

// MarkNotified flags the given signals as delivered.
func (s *Storage) MarkNotified(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := s.db.Exec(`UPDATE signals SET notified = 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to mark signals notified: %w", err)
	}
	return nil
}

func (s *Storage) ClearSignals() error {
	if _, err := s.db.Exec(`DELETE FROM signals`); err != nil {
		return fmt.Errorf("failed to clear signals: %w", err)
	}
	return nil
}

// Rotate keeps at most maxSignals newest signals by creation time.
func (s *Storage) Rotate() error {
	if s.maxSignals <= 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := rotate(tx, s.maxSignals); err != nil {
		return err
	}
	return tx.Commit()
}

func rotate(tx *sql.Tx, max int) error {
	if _, err := tx.Exec(`
		DELETE FROM signals WHERE id NOT IN (
			SELECT id FROM signals ORDER BY created_at DESC, time DESC LIMIT ?
		)`, max); err != nil {
		return fmt.Errorf("failed to rotate signals: %w", err)
	}
	return nil
}

// DeleteSeries removes a series; its signals go with it.
func (s *Storage) DeleteSeries(series string) error {
	res, err := s.db.Exec(`DELETE FROM series WHERE name = ?`, series)
	if err != nil {
		return fmt.Errorf("failed to delete series: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("series not found: %s", series)
	}
	return nil
}

const stateCols = `name, bars, outliers, signals, last_time, last_close, updated_at`

func scanState(scan func(...any) error) (*models.SeriesState, error) {
	var st models.SeriesState
	var lastNano, updatedNano int64
	if err := scan(&st.Series, &st.Bars, &st.Outliers, &st.Signals, &lastNano, &st.LastClose, &updatedNano); err != nil {
		return nil, err
	}
	st.LastTime = fromUnixNano(lastNano)
	st.UpdatedAt = fromUnixNano(updatedNano)
	return &st, nil
}

const signalCols = `id, series, source, kind, direction, time, value, created_at, notified`

func scanSignal(scan func(...any) error) (*models.Signal, error) {
	var sig models.Signal
	var kind string
	var direction, notified int
	var timeNano, createdNano int64
	if err := scan(&sig.ID, &sig.Series, &sig.Source, &kind, &direction, &timeNano, &sig.Value, &createdNano, &notified); err != nil {
		return nil, err
	}
	sig.Kind = models.SignalKind(kind)
	sig.Direction = models.Direction(direction)
	sig.Time = fromUnixNano(timeNano)
	sig.CreatedAt = fromUnixNano(createdNano)
	sig.Notified = notified != 0
	return &sig, nil
}

// unixNano stores the zero time as 0 so it reads back as the zero time.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

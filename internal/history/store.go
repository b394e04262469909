package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shadowcam/internal/config"
)

// Entry is one recorded verdict.
type Entry struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Kind         string    `json:"kind"`
	Verdict      string    `json:"verdict"`
	Probability  float64   `json:"probability"`
	RiskLevel    string    `json:"risk_level"`
	PayloadBytes int64     `json:"payload_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists verdict history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// ErrDisabled is returned by OpenFromConfig when history is turned off.
var ErrDisabled = errors.New("verdict history disabled")

// OpenFromConfig opens the configured history database.
func OpenFromConfig(cfg *config.Config) (*Store, error) {
	if cfg == nil || !cfg.History.Enabled {
		return nil, ErrDisabled
	}
	return Open(cfg.History.Path)
}

// Open initializes or connects to the database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records a verdict and returns the stored entry.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Verdict) == "" {
		return Entry{}, errors.New("verdict required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO verdicts (session_id, kind, verdict, probability, risk_level, payload_bytes, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID,
		e.Kind,
		e.Verdict,
		e.Probability,
		nullableString(e.RiskLevel),
		e.PayloadBytes,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert verdict: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return e, nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, session_id, kind, verdict, probability, risk_level, payload_bytes, created_at
        FROM verdicts ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return entries, nil
}

// Count returns the number of recorded verdicts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM verdicts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count verdicts: %w", err)
	}
	return n, nil
}

// Clear removes every entry and reports how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM verdicts")
	if err != nil {
		return 0, fmt.Errorf("clear verdicts: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry      Entry
		risk       sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.Kind,
		&entry.Verdict,
		&entry.Probability,
		&risk,
		&entry.PayloadBytes,
		&createdRaw,
	); err != nil {
		return Entry{}, fmt.Errorf("scan verdict: %w", err)
	}
	entry.RiskLevel = risk.String
	if ts, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		entry.CreatedAt = ts
	}
	return entry, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

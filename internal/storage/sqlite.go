// Package storage archives generated excuses and feedback in SQLite so the
// history survives restarts.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/alibi/internal/excuse"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFile is the database file name inside the data directory.
const DBFile = "history.db"

// Store is the SQLite history archive of generated excuses and the feedback
// they received.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DBFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Excuses ---

// SaveExcuse archives a generated excuse. Saving the same id twice is a no-op.
func (s *Store) SaveExcuse(e excuse.Excuse) error {
	_, err := s.db.Exec(`
		INSERT INTO excuses (id, created_at, text, scenario, user_role, recipient, urgency, believability, language)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.CreatedAt.UTC().Format(time.RFC3339), e.Text, e.Scenario,
		e.UserRole, e.Recipient, e.Urgency, e.Believability, e.Language,
	)
	return err
}

const selectHistory = `
	SELECT e.id, e.created_at, e.text, e.scenario, e.user_role, e.recipient, e.urgency, e.believability, e.language,
		COALESCE(SUM(f.is_effective), 0), COUNT(f.id)
	FROM excuses e
	LEFT JOIN feedback f ON f.excuse_id = e.id`

func (s *Store) GetExcuse(id string) (HistoryRecord, error) {
	row := s.db.QueryRow(selectHistory+` WHERE e.id = ? GROUP BY e.id`, id)
	r, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return HistoryRecord{}, ErrNotFound
	}
	return r, err
}

// ListExcuses returns archived excuses newest first.
func (s *Store) ListExcuses(limit, offset int) ([]HistoryRecord, error) {
	rows, err := s.db.Query(selectHistory+`
		GROUP BY e.id
		ORDER BY e.created_at DESC, e.rowid DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []HistoryRecord
	for rows.Next() {
		r, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountExcuses returns the number of archived excuses.
func (s *Store) CountExcuses() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM excuses").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(sc scanner) (HistoryRecord, error) {
	var r HistoryRecord
	var createdAt string
	if err := sc.Scan(&r.ID, &createdAt, &r.Text, &r.Scenario, &r.UserRole, &r.Recipient,
		&r.Urgency, &r.Believability, &r.Language, &r.EffectiveCount, &r.FeedbackCount); err != nil {
		return HistoryRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return HistoryRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	r.Effectiveness = r.EffectivenessRatio()
	return r, nil
}

// --- Feedback ---

// RecordFeedback appends a feedback event. It returns ErrNotFound when the
// excuse was never archived.
func (s *Store) RecordFeedback(excuseID string, effective bool, at time.Time) error {
	res, err := s.db.Exec(`
		INSERT INTO feedback (excuse_id, is_effective, created_at)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM excuses WHERE id = ?)`,
		excuseID, boolToInt(effective), at.UTC().Format(time.RFC3339), excuseID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

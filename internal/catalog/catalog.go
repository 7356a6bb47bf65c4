// Package catalog records dataset writer sessions in a local SQLite database,
// so that committed and failed writes can be listed after the fact.
package catalog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("writer session not found")

// Catalog wraps the session database.
type Catalog struct {
	*sql.DB
}

// Session is one writer session row.
type Session struct {
	ID         string
	Path       string
	State      string
	Traces     int
	StartedAt  time.Time
	FinishedAt time.Time // zero while the session is open
	Error      string
}

// Open opens (creating if needed) the catalog at path and applies pending
// migrations.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	c := &Catalog{DB: db}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (c *Catalog) MigrateUp() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
func (c *Catalog) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := c.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (c *Catalog) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(c.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// BeginSession inserts a session with no traces.
func (c *Catalog) BeginSession(id, path, state string, startedAt time.Time) error {
	_, err := c.Exec(
		`INSERT INTO writer_sessions (session_id, target_path, state, trace_count, started_unix_nanos)
		VALUES (?, ?, ?, 0, ?)`,
		id, path, state, startedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", id, err)
	}
	return nil
}

// FinishSession records the terminal state of a session.
func (c *Catalog) FinishSession(id, state string, traces int, finishedAt time.Time, errMsg string) error {
	res, err := c.Exec(
		`UPDATE writer_sessions
		SET state = ?, trace_count = ?, finished_unix_nanos = ?, error_message = ?
		WHERE session_id = ?`,
		state, traces, finishedAt.UnixNano(), nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Session returns a single session.
func (c *Catalog) Session(id string) (Session, error) {
	row := c.QueryRow(`SELECT session_id, target_path, state, trace_count,
		started_unix_nanos, finished_unix_nanos, error_message
		FROM writer_sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Sessions lists all sessions, oldest first.
func (c *Catalog) Sessions() ([]Session, error) {
	rows, err := c.Query(`SELECT session_id, target_path, state, trace_count,
		started_unix_nanos, finished_unix_nanos, error_message
		FROM writer_sessions ORDER BY started_unix_nanos, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s        Session
		started  int64
		finished sql.NullInt64
		errMsg   sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Path, &s.State, &s.Traces, &started, &finished, &errMsg); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		s.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	s.Error = errMsg.String
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

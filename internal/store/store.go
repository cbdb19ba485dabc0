// Package store provides the SQLite-backed rule-load history SPEC_FULL.md's
// admin API surfaces: one append-only table recording the outcome of every
// internal/remoterule refresh cycle, migrated with golang-migrate and
// queried through database/sql against modernc.org/sqlite, the way the
// teacher's internal/database package drives its own config store.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database connection with thread-safe operations for
// rule-load history.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens or creates a SQLite database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating store database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Health checks database connectivity.
func (s *Store) Health() error {
	return s.conn.Ping()
}

// RecordRuleLoad persists the outcome of one remote rule source refresh.
// It satisfies remoterule.HistoryRecorder. Write failures are discarded
// (neither returned nor logged); history is best-effort and a failed write
// never fails a refresh.
func (s *Store) RecordRuleLoad(source string, ruleCounts map[string]int, loadErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errText sql.NullString
	if loadErr != nil {
		errText = sql.NullString{String: loadErr.Error(), Valid: true}
	}

	_, _ = s.conn.Exec(
		`INSERT INTO rule_load_history (source, exact_count, wildcard_count, regex_count, error)
		 VALUES (?, ?, ?, ?, ?)`,
		source, ruleCounts["exact"], ruleCounts["wildcard"], ruleCounts["regex"], errText,
	)
}

// RuleLoadRecord is one row of rule_load_history, returned by RecentLoads
// for the /api/v1/rules introspection endpoint.
type RuleLoadRecord struct {
	Source        string
	ExactCount    int
	WildcardCount int
	RegexCount    int
	Error         string
	LoadedAt      time.Time
}

// RecentLoads returns the most recent limit rule-load records across all
// sources, newest first.
func (s *Store) RecentLoads(limit int) ([]RuleLoadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(
		`SELECT source, exact_count, wildcard_count, regex_count, error, loaded_at
		 FROM rule_load_history ORDER BY loaded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying rule load history: %w", err)
	}
	defer rows.Close()

	var out []RuleLoadRecord
	for rows.Next() {
		var rec RuleLoadRecord
		var errText sql.NullString
		if err := rows.Scan(&rec.Source, &rec.ExactCount, &rec.WildcardCount, &rec.RegexCount, &errText, &rec.LoadedAt); err != nil {
			return nil, fmt.Errorf("scanning rule load history row: %w", err)
		}
		rec.Error = errText.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

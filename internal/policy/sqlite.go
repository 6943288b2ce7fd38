// Package policy persists durable "always allow" tool-permission rules.
package policy

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Rule is one durable allow-always decision, keyed by tool name.
type Rule struct {
	Tool      string
	CreatedAt time.Time
}

// SQLiteStore implements the permission policy store using modernc.org/sqlite
// (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the rules database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's pool, preventing "database is
	// locked" errors when multiple sessions resolve permissions at once.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsAllowed reports whether a durable rule authorizes the tool.
func (s *SQLiteStore) IsAllowed(ctx context.Context, tool string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permission_rules WHERE tool = ?", tool).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query permission rule: %w", err)
	}
	return count > 0, nil
}

// AllowAlways records a durable allow rule for the tool. Recording the same
// tool twice is a no-op.
func (s *SQLiteStore) AllowAlways(ctx context.Context, tool string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO permission_rules (tool, created_at) VALUES (?, ?)",
		tool, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save permission rule: %w", err)
	}
	return nil
}

// Revoke removes the durable rule for a tool. Returns the number of rules
// removed (zero or one).
func (s *SQLiteStore) Revoke(ctx context.Context, tool string) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM permission_rules WHERE tool = ?", tool)
	if err != nil {
		return 0, fmt.Errorf("revoke permission rule: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ListRules returns all durable rules ordered by tool name.
func (s *SQLiteStore) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tool, created_at FROM permission_rules ORDER BY tool")
	if err != nil {
		return nil, fmt.Errorf("list permission rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.Tool, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan permission rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

package sessions

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	id TEXT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Migration is one numbered schema change with its rollback.
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// Migrator applies the embedded migrations in ID order. The scripts use
// only SQL that SQLite and Postgres both accept.
type Migrator struct {
	db         *sql.DB
	dialect    dialect
	migrations []Migration
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *sql.DB, driver string) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("migrator: db is required")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: d, migrations: migrations}, nil
}

// Up applies up to steps pending migrations, all of them when steps <= 0,
// and returns the IDs it applied.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	var done []string
	for _, mig := range pending {
		if err := m.run(ctx, mig.ID, mig.UpSQL, "INSERT INTO schema_migrations (id) VALUES (?)"); err != nil {
			return done, err
		}
		done = append(done, mig.ID)
	}
	return done, nil
}

// Down rolls back the last steps applied migrations, newest first. steps
// below one means one.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	steps = max(steps, 1)

	var done []string
	for i := len(applied) - 1; i >= 0 && len(done) < steps; i-- {
		id := applied[i]
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.ID == id })
		if idx < 0 {
			return done, fmt.Errorf("applied migration %s is not embedded", id)
		}
		if err := m.run(ctx, id, m.migrations[idx].DownSQL, "DELETE FROM schema_migrations WHERE id = ?"); err != nil {
			return done, err
		}
		done = append(done, id)
	}
	return done, nil
}

// Status returns the applied migration IDs in order and the migrations
// still pending.
func (m *Migrator) Status(ctx context.Context) (applied []string, pending []Migration, err error) {
	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT id FROM schema_migrations ORDER BY id")
	if err != nil {
		return nil, nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied = append(applied, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	for _, mig := range m.migrations {
		if !slices.Contains(applied, mig.ID) {
			pending = append(pending, mig)
		}
	}
	return applied, pending, nil
}

// run executes script and the bookkeeping statement in one transaction.
func (m *Migrator) run(ctx context.Context, id, script, bookkeeping string) (err error) {
	stmts := splitStatements(script)
	if len(stmts) == 0 {
		return fmt.Errorf("migration %s: empty script", id)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", id, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s: %w", id, err)
		}
	}
	if _, err = tx.ExecContext(ctx, m.dialect.rebind(bookkeeping), id); err != nil {
		return fmt.Errorf("migration %s: record: %w", id, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", id, err)
	}
	return nil
}

// loadMigrations pairs NNN_name.up.sql with NNN_name.down.sql.
func loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byID := make(map[string]*Migration)
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		id, up := strings.CutSuffix(name, ".up.sql")
		if !up {
			var down bool
			if id, down = strings.CutSuffix(name, ".down.sql"); !down {
				continue
			}
		}
		data, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}

		mig, ok := byID[id]
		if !ok {
			mig = &Migration{ID: id}
			byID[id] = mig
			ids = append(ids, id)
		}
		if up {
			mig.UpSQL = string(data)
		} else {
			mig.DownSQL = string(data)
		}
	}

	slices.Sort(ids)
	out := make([]Migration, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byID[id])
	}
	return out, nil
}

// splitStatements splits a script on semicolons. The embedded scripts
// have no semicolons inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/agentbridge/pkg/models"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name       string
	positional bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return dialect{name: DriverSQLite}, nil
	case DriverPostgres:
		return dialect{name: DriverPostgres, positional: true}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $n for drivers that need it.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLConfig holds the database connection settings.
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default pool settings for driver.
func DefaultSQLConfig(driver, dsn string) SQLConfig {
	return SQLConfig{
		Driver:          driver,
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements Store on SQLite (modernc, pure Go) or Postgres
// compatible databases (lib/pq, including CockroachDB).
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects, pings and migrates the database described by cfg.
func Open(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("dsn is required")
	}
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d.name == DriverSQLite {
		// SQLite allows a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrator, err := NewMigrator(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

// NewSQLStore wraps an already migrated database handle.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

// DB exposes the underlying database connection for related stores.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Driver returns the configured driver name.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

func (s *SQLStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	prepareSession(session)
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sessions (id, agent_id, title, created_at)
		VALUES (?, ?, ?, ?)
	`), session.ID, session.AgentID, session.Title, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, agent_id, title, created_at FROM sessions WHERE id = ?
	`), id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, agent_id, title, created_at FROM sessions`
	args := []any{}
	if opts.AgentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, opts.AgentID)
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if opts.Limit <= 0 && opts.Offset > 0 {
		out = paginate(out, ListOptions{Offset: opts.Offset})
	}
	return out, nil
}

func (s *SQLStore) SetAgent(ctx context.Context, sessionID, agentID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE sessions SET agent_id = ? WHERE id = ?`), agentID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set agent: %w", err)
	}
	return requireRow(res, fmt.Errorf("set agent on %s: %w", sessionID, ErrSessionNotFound))
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM channel_bindings WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete bindings: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := requireRow(res, fmt.Errorf("delete session %s: %w", id, ErrSessionNotFound)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// AppendMessage assigns the next sequence number inside a transaction. The
// unique (session_id, seq) constraint rejects a concurrent writer instead of
// letting two messages share a position.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	prepareMessage(msg)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sessions WHERE id = ?`), msg.SessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("append to %s: %w", msg.SessionID, ErrSessionNotFound)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`), msg.SessionID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to allocate seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO messages (id, session_id, seq, role, content, raw, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), msg.ID, msg.SessionID, seq, string(msg.Role), msg.Content, string(msg.Raw), msg.ToolCallID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}
	msg.Seq = seq
	return nil
}

func (s *SQLStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE messages SET content = ?, raw = ?, tool_call_id = ?
		WHERE id = ? AND session_id = ?
	`), msg.Content, string(msg.Raw), msg.ToolCallID, msg.ID, msg.SessionID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return requireRow(res, fmt.Errorf("update message %s: %w", msg.ID, ErrMessageNotFound))
}

func (s *SQLStore) History(ctx context.Context, sessionID string) ([]*models.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, session_id, seq, role, content, raw, tool_call_id, created_at
		FROM messages WHERE session_id = ?
		ORDER BY seq
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	out := []*models.Message{}
	for rows.Next() {
		var (
			msg  models.Message
			role string
			raw  string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &role, &msg.Content, &raw, &msg.ToolCallID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Role, err = models.ParseRole(role); err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		if raw != "" {
			msg.Raw = json.RawMessage(raw)
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return out, nil
}

func (s *SQLStore) SaveBinding(ctx context.Context, binding *models.ChannelBinding) error {
	if binding == nil {
		return errors.New("binding is required")
	}
	if binding.UpdatedAt.IsZero() {
		binding.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO channel_bindings (channel, conversation_id, session_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel, conversation_id) DO UPDATE
		SET session_id = EXCLUDED.session_id, updated_at = EXCLUDED.updated_at
	`), string(binding.Channel), binding.ConversationID, binding.SessionID, binding.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save binding: %w", err)
	}
	return nil
}

func (s *SQLStore) ListBindings(ctx context.Context, channel models.ChannelType) ([]*models.ChannelBinding, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT channel, conversation_id, session_id, updated_at
		FROM channel_bindings WHERE channel = ?
		ORDER BY conversation_id
	`), string(channel))
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	out := []*models.ChannelBinding{}
	for rows.Next() {
		var (
			binding models.ChannelBinding
			ch      string
		)
		if err := rows.Scan(&ch, &binding.ConversationID, &binding.SessionID, &binding.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		binding.Channel = models.ChannelType(ch)
		out = append(out, &binding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	return out, nil
}

func (s *SQLStore) DeleteBinding(ctx context.Context, channel models.ChannelType, conversationID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM channel_bindings WHERE channel = ? AND conversation_id = ?
	`), string(channel), conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	return requireRow(res, fmt.Errorf("delete binding %s/%s: %w", channel, conversationID, ErrBindingNotFound))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	if err := row.Scan(&session.ID, &session.AgentID, &session.Title, &session.CreatedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
var _ Store = (*MemoryStore)(nil)

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: drivers are only referenced through the
	// database/sql registry, selected by config.Driver
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"buddyhub/pkg/interfaces"
	"buddyhub/pkg/types"
	dbconfig "buddyhub/pkg/database"
)

const (
	defaultDirectHistoryLimit = 50
	defaultGroupHistoryLimit  = 100
	maxHistoryLimit           = 500
)

// Manager is the message store backing direct and group chat logs.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	dialect      dbconfig.Dialect
	logger       zerolog.Logger
	writeChannel chan writeOperation // TECHNICAL: single writer keeps SQLite free of write contention
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	now          func() time.Time
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the configured database, applies the embedded migrations
// and starts the writer goroutine.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if config.Driver == dbconfig.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(config.Driver, config.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if config.Driver == dbconfig.DriverSQLite {
		if err := applySQLiteOptimizations(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
		}
	}

	migrations := dbconfig.NewMigrationManager(db, config.Driver)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	return newManager(db, config, logger), nil
}

// newManager wraps an already prepared handle. Tests use it with sqlmock.
func newManager(db *sql.DB, config *dbconfig.Config, logger zerolog.Logger) *Manager {
	m := &Manager{
		db:           db,
		config:       config,
		dialect:      dbconfig.DialectFor(config.Driver),
		logger:       logger.With().Str("component", "database").Str("driver", config.Driver).Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		now:          func() time.Time { return time.Now().UTC() },
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)

		case <-m.shutdown:
			// every accepted write still gets committed and answered
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- m.runWrite(op)
				default:
					m.logger.Debug().Msg("write loop shutting down")
					return
				}
			}
		}
	}
}

// runWrite runs op, retrying it once after RetryDelay.
func (m *Manager) runWrite(op writeOperation) error {
	err := op.operation(m.db)
	if err == nil {
		return nil
	}
	m.logger.Warn().Err(err).Dur("retry_in", m.config.RetryDelay).Msg("write failed, retrying")
	time.Sleep(m.config.RetryDelay)
	if err = op.operation(m.db); err != nil {
		m.logger.Error().Err(err).Msg("write failed after retry")
	}
	return err
}

// executeWrite queues a write operation and waits for its outcome. ctx and
// WriteTimeout only bound the wait for a queue slot: once accepted, a write
// is never abandoned, so a reported failure always means nothing was stored.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	// TECHNICAL DISCOVERY: the read lock is held across the enqueue so Close
	// cannot start draining before an accepted write is in the channel
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		m.mu.RUnlock()
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	case <-timeout.C:
		m.mu.RUnlock()
		return ErrWriteTimeout
	}

	return <-result
}

// insertReturningID runs an INSERT ... RETURNING id through the writer. The
// statement runs detached from ctx's cancellation.
func (m *Manager) insertReturningID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	insertCtx := context.WithoutCancel(ctx)
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(insertCtx, m.dialect.Rebind(query), args...).Scan(&id)
	})
	return id, err
}

// AppendDirectMessage persists one direct message.
func (m *Manager) AppendDirectMessage(ctx context.Context, senderID, receiverID, content string) (types.Record, error) {
	createdAt := m.now()
	id, err := m.insertReturningID(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		senderID, receiverID, content, createdAt,
	)
	if err != nil {
		return types.Record{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return types.Record{ID: id, CreatedAt: createdAt}, nil
}

// AppendGroupMessage persists one group message.
func (m *Manager) AppendGroupMessage(ctx context.Context, groupID, userID, content string) (types.Record, error) {
	createdAt := m.now()
	id, err := m.insertReturningID(ctx,
		`INSERT INTO group_messages (group_id, user_id, content, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		groupID, userID, content, createdAt,
	)
	if err != nil {
		return types.Record{}, fmt.Errorf("failed to insert group message: %w", err)
	}
	return types.Record{ID: id, CreatedAt: createdAt}, nil
}

// DirectHistory returns the latest messages exchanged between two users in
// both directions, oldest first.
func (m *Manager) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]*types.ChatMessage, error) {
	// ARCHITECTURAL DISCOVERY: reads bypass the writer and run concurrently
	query := `
		SELECT id, sender_id, receiver_id, content, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, m.dialect.Rebind(query),
		userA, userB, userB, userA, clampLimit(limit, defaultDirectHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to query direct history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	reverse(messages)
	return messages, nil
}

// GroupHistory returns the latest messages of a group, oldest first.
func (m *Manager) GroupHistory(ctx context.Context, groupID string, limit int) ([]*types.ChatMessage, error) {
	query := `
		SELECT id, group_id, user_id, content, created_at
		FROM group_messages
		WHERE group_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, m.dialect.Rebind(query), groupID, clampLimit(limit, defaultGroupHistoryLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to query group history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.GroupID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group message rows: %w", err)
	}

	reverse(messages)
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrStoreClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func reverse(messages []*types.ChatMessage) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"comfyclient/logging"
)

// Ledger is the job history store.
//
// Usage:
//
//	l, err := ledger.Open("comfyclient.db", logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Close()
//
//	l.RecordSubmitted(ctx, ledger.Job{PromptID: id, ClientID: clientID})
type Ledger struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
	now    func() time.Time
	mu     sync.RWMutex
}

// Open opens the ledger at path, creating the file and its parent
// directories when missing, and applies pending schema migrations.
func Open(path string, logger *logging.Logger) (*Ledger, error) {
	return OpenWithConfig(DefaultConnectionConfig(path), logger)
}

// OpenWithConfig is Open with a custom connection configuration.
func OpenWithConfig(config ConnectionConfig, logger *logging.Logger) (*Ledger, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("ledger: database path is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	dir := filepath.Dir(config.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("ledger: failed to create database directory %s: %w", dir, err)
		}
	}

	// golang-migrate closes the connection it is given, so migrations run
	// on their own connection before the long-lived one is opened.
	migrationConn, err := NewSQLiteConnection(config)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if err := migrateUp(migrationConn); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	conn, err := NewSQLiteConnection(config)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	l := &Ledger{
		db:     conn,
		path:   config.Path,
		logger: logger.Named("ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	l.logger.Debug("ledger opened", zap.String("path", config.Path))
	return l, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// SchemaVersion returns the applied migration version.
func (l *Ledger) SchemaVersion() (uint, bool, error) {
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(l.path))
	if err != nil {
		return 0, false, fmt.Errorf("ledger: %w", err)
	}
	return migrationVersion(conn)
}

// Ping verifies the database connection is alive.
func (l *Ledger) Ping(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.db == nil {
		return fmt.Errorf("ledger: closed")
	}
	return l.db.PingContext(ctx)
}

// Close closes the database. It is safe to call more than once.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return nil
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("ledger: failed to close database: %w", err)
	}
	l.db = nil
	return nil
}

// conn returns the open connection or an error after Close.
func (l *Ledger) conn() (*sql.DB, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.db == nil {
		return nil, fmt.Errorf("ledger: closed")
	}
	return l.db, nil
}

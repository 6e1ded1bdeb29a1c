package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// - _journal_mode=WAL: readers do not block the writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _txlock=immediate: take the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		registered_by TEXT NOT NULL,
		registered_at DATETIME NOT NULL,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		caller TEXT NOT NULL,
		value TEXT NOT NULL,
		targets BLOB,
		status TEXT NOT NULL,
		results BLOB,
		obligations_run INTEGER NOT NULL DEFAULT 0,
		refund TEXT,
		error TEXT,
		failed_index INTEGER,
		created_at DATETIME NOT NULL,
		finished_at DATETIME,
		state_transitions TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_address ON registrations(address);
	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
	CREATE INDEX IF NOT EXISTS idx_batches_caller ON batches(caller, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// PutRegistration stores a new registration, refusing to overwrite
func (s *SQLiteStore) PutRegistration(reg *models.Registration) error {
	_, err := s.db.Exec(`
		INSERT INTO registrations (id, address, registered_by, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, reg.ID.Hex(), reg.Address.Hex(), reg.RegisteredBy.Hex(), reg.RegisteredAt, reg.UpdatedAt)
	if isSQLiteConstraint(err) {
		return ErrRegistrationExists
	}
	return err
}

// GetRegistration retrieves a registration by handler id
func (s *SQLiteStore) GetRegistration(id models.HandlerID) (*models.Registration, error) {
	row := s.db.QueryRow(`
		SELECT id, address, registered_by, registered_at, updated_at
		FROM registrations WHERE id = ?
	`, id.Hex())
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	return reg, err
}

// GetRegistrationByAddress returns the earliest registration bound to addr
func (s *SQLiteStore) GetRegistrationByAddress(addr common.Address) (*models.Registration, error) {
	row := s.db.QueryRow(`
		SELECT id, address, registered_by, registered_at, updated_at
		FROM registrations WHERE address = ?
		ORDER BY registered_at ASC LIMIT 1
	`, addr.Hex())
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	return reg, err
}

// ListRegistrations returns all registrations, oldest first
func (s *SQLiteStore) ListRegistrations() ([]*models.Registration, error) {
	rows, err := s.db.Query(`
		SELECT id, address, registered_by, registered_at, updated_at
		FROM registrations ORDER BY registered_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// UpdateRegistration replaces an existing registration
func (s *SQLiteStore) UpdateRegistration(reg *models.Registration) error {
	res, err := s.db.Exec(`
		UPDATE registrations SET address = ?, registered_by = ?, updated_at = ?
		WHERE id = ?
	`, reg.Address.Hex(), reg.RegisteredBy.Hex(), reg.UpdatedAt, reg.ID.Hex())
	if err != nil {
		return err
	}
	return requireAffected(res, ErrRegistrationNotFound)
}

// DeleteRegistration removes a registration
func (s *SQLiteStore) DeleteRegistration(id models.HandlerID) error {
	res, err := s.db.Exec(`DELETE FROM registrations WHERE id = ?`, id.Hex())
	if err != nil {
		return err
	}
	return requireAffected(res, ErrRegistrationNotFound)
}

// CreateBatch records a new batch
func (s *SQLiteStore) CreateBatch(batch *models.Batch) error {
	args, err := batchArgs(batch)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO batches
		(id, caller, value, targets, status, results, obligations_run, refund, error,
		 failed_index, created_at, finished_at, state_transitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	return err
}

// GetBatch retrieves a batch by ID
func (s *SQLiteStore) GetBatch(id uuid.UUID) (*models.Batch, error) {
	row := s.db.QueryRow(`
		SELECT id, caller, value, targets, status, results, obligations_run, refund, error,
		       failed_index, created_at, finished_at, state_transitions
		FROM batches WHERE id = ?
	`, id.String())
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return batch, err
}

// ListBatches returns matching batches, newest first
func (s *SQLiteStore) ListBatches(filter BatchFilter) ([]*models.Batch, error) {
	query := `
		SELECT id, caller, value, targets, status, results, obligations_run, refund, error,
		       failed_index, created_at, finished_at, state_transitions
		FROM batches`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Caller != nil {
		where = append(where, "caller = ?")
		args = append(args, filter.Caller.Hex())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// UpdateBatch replaces an existing batch record
func (s *SQLiteStore) UpdateBatch(batch *models.Batch) error {
	args, err := batchArgs(batch)
	if err != nil {
		return err
	}
	// Move id to the end for the WHERE clause
	args = append(args[1:], args[0])
	res, err := s.db.Exec(`
		UPDATE batches SET caller = ?, value = ?, targets = ?, status = ?, results = ?,
		       obligations_run = ?, refund = ?, error = ?, failed_index = ?, created_at = ?,
		       finished_at = ?, state_transitions = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrBatchNotFound)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// batchArgs flattens a batch into column order, id first
func batchArgs(b *models.Batch) ([]any, error) {
	targets, err := encodeTargets(b.Targets)
	if err != nil {
		return nil, err
	}
	results, err := encodeResults(b.Results)
	if err != nil {
		return nil, err
	}
	transitions, err := encodeTransitions(b.StateTransitions)
	if err != nil {
		return nil, err
	}
	return []any{
		b.ID.String(), b.Caller.Hex(), b.Value, targets, string(b.Status), results,
		b.ObligationsRun, b.Refund, b.Error, nullIndex(b.FailedIndex), b.CreatedAt,
		b.FinishedAt, transitions,
	}, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

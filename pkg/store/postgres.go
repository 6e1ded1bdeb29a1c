package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		registered_by TEXT NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_address ON registrations(address);

	CREATE TABLE IF NOT EXISTS batches (
		id UUID PRIMARY KEY,
		caller TEXT NOT NULL,
		value NUMERIC(78, 0) NOT NULL,
		targets BYTEA,
		status TEXT NOT NULL,
		results BYTEA,
		obligations_run INTEGER NOT NULL DEFAULT 0,
		refund TEXT,
		error TEXT,
		failed_index INTEGER,
		created_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		state_transitions JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
	CREATE INDEX IF NOT EXISTS idx_batches_caller ON batches(caller, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

// PutRegistration stores a new registration, refusing to overwrite
func (s *PostgreSQLStore) PutRegistration(reg *models.Registration) error {
	_, err := s.db.Exec(`
		INSERT INTO registrations (id, address, registered_by, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, reg.ID.Hex(), reg.Address.Hex(), reg.RegisteredBy.Hex(), reg.RegisteredAt, reg.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrRegistrationExists
	}
	return err
}

// GetRegistration retrieves a registration by handler id
func (s *PostgreSQLStore) GetRegistration(id models.HandlerID) (*models.Registration, error) {
	row := s.db.QueryRow(`
		SELECT id, address, registered_by, registered_at, updated_at
		FROM registrations WHERE id = $1
	`, id.Hex())
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	return reg, err
}

// GetRegistrationByAddress returns the earliest registration bound to addr
func (s *PostgreSQLStore) GetRegistrationByAddress(addr common.Address) (*models.Registration, error) {
	row := s.db.QueryRow(`
		SELECT id, address, registered_by, registered_at, updated_at
		FROM registrations WHERE address = $1
		ORDER BY registered_at ASC LIMIT 1
	`, addr.Hex())
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	return reg, err
}

// ListRegistrations returns all registrations, oldest first
func (s *PostgreSQLStore) ListRegistrations() ([]*models.Registration, error) {
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
func (s *PostgreSQLStore) UpdateRegistration(reg *models.Registration) error {
	res, err := s.db.Exec(`
		UPDATE registrations SET address = $1, registered_by = $2, updated_at = $3
		WHERE id = $4
	`, reg.Address.Hex(), reg.RegisteredBy.Hex(), reg.UpdatedAt, reg.ID.Hex())
	if err != nil {
		return err
	}
	return requireAffected(res, ErrRegistrationNotFound)
}

// DeleteRegistration removes a registration
func (s *PostgreSQLStore) DeleteRegistration(id models.HandlerID) error {
	res, err := s.db.Exec(`DELETE FROM registrations WHERE id = $1`, id.Hex())
	if err != nil {
		return err
	}
	return requireAffected(res, ErrRegistrationNotFound)
}

// CreateBatch records a new batch
func (s *PostgreSQLStore) CreateBatch(batch *models.Batch) error {
	args, err := batchArgs(batch)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO batches
		(id, caller, value, targets, status, results, obligations_run, refund, error,
		 failed_index, created_at, finished_at, state_transitions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, args...)
	return err
}

// GetBatch retrieves a batch by ID
func (s *PostgreSQLStore) GetBatch(id uuid.UUID) (*models.Batch, error) {
	row := s.db.QueryRow(`
		SELECT id, caller, value::TEXT, targets, status, results, obligations_run, refund, error,
		       failed_index, created_at, finished_at, state_transitions::TEXT
		FROM batches WHERE id = $1
	`, id.String())
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return batch, err
}

// ListBatches returns matching batches, newest first
func (s *PostgreSQLStore) ListBatches(filter BatchFilter) ([]*models.Batch, error) {
	query := `
		SELECT id, caller, value::TEXT, targets, status, results, obligations_run, refund, error,
		       failed_index, created_at, finished_at, state_transitions::TEXT
		FROM batches`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Caller != nil {
		args = append(args, filter.Caller.Hex())
		where = append(where, fmt.Sprintf("caller = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
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
func (s *PostgreSQLStore) UpdateBatch(batch *models.Batch) error {
	args, err := batchArgs(batch)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE batches SET caller = $2, value = $3, targets = $4, status = $5, results = $6,
		       obligations_run = $7, refund = $8, error = $9, failed_index = $10,
		       created_at = $11, finished_at = $12, state_transitions = $13
		WHERE id = $1
	`, args...)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrBatchNotFound)
}

// Close closes the database connection
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *PostgreSQLStore) HealthCheck() error {
	return s.db.Ping()
}

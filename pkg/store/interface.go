package store

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// Store defines the interface for data persistence.
// Memory, SQLite and PostgreSQL implement this interface.
type Store interface {
	// Registration operations
	PutRegistration(reg *models.Registration) error
	GetRegistration(id models.HandlerID) (*models.Registration, error)
	GetRegistrationByAddress(addr common.Address) (*models.Registration, error)
	ListRegistrations() ([]*models.Registration, error)
	UpdateRegistration(reg *models.Registration) error
	DeleteRegistration(id models.HandlerID) error

	// Batch audit records
	CreateBatch(batch *models.Batch) error
	GetBatch(id uuid.UUID) (*models.Batch, error)
	ListBatches(filter BatchFilter) ([]*models.Batch, error)
	UpdateBatch(batch *models.Batch) error

	// Lifecycle
	Close() error
	HealthCheck() error
}

// BatchFilter narrows ListBatches. Zero values match everything.
type BatchFilter struct {
	Status models.BatchStatus
	Caller *common.Address
	Limit  int
}

func (f BatchFilter) matches(b *models.Batch) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Caller != nil && b.Caller != *f.Caller {
		return false
	}
	return true
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string or SQLite path

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.DSN
		if path == "" {
			path = "proxyd.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

var (
	ErrUnsupportedDatabase  = errors.New("store: unsupported database type")
	ErrRegistrationNotFound = errors.New("store: registration not found")
	ErrRegistrationExists   = errors.New("store: registration already exists")
	ErrBatchNotFound        = errors.New("store: batch not found")
)

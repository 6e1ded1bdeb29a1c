package store

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/psantana5/dispatch-proxy/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	registrations map[models.HandlerID]*models.Registration
	regOrder      []models.HandlerID
	batches       map[uuid.UUID]*models.Batch
	batchOrder    []uuid.UUID
	regMu         sync.RWMutex
	batchMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		registrations: make(map[models.HandlerID]*models.Registration),
		batches:       make(map[uuid.UUID]*models.Batch),
	}
}

// Registration operations

// PutRegistration stores a new registration, refusing to overwrite
func (s *MemoryStore) PutRegistration(reg *models.Registration) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if _, ok := s.registrations[reg.ID]; ok {
		return ErrRegistrationExists
	}
	cp := *reg
	s.registrations[reg.ID] = &cp
	s.regOrder = append(s.regOrder, reg.ID)
	return nil
}

// GetRegistration retrieves a registration by handler id
func (s *MemoryStore) GetRegistration(id models.HandlerID) (*models.Registration, error) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()

	reg, ok := s.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	cp := *reg
	return &cp, nil
}

// GetRegistrationByAddress returns the earliest registration bound to addr
func (s *MemoryStore) GetRegistrationByAddress(addr common.Address) (*models.Registration, error) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()

	for _, id := range s.regOrder {
		if reg := s.registrations[id]; reg.Address == addr {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, ErrRegistrationNotFound
}

// ListRegistrations returns all registrations in insertion order
func (s *MemoryStore) ListRegistrations() ([]*models.Registration, error) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()

	regs := make([]*models.Registration, 0, len(s.regOrder))
	for _, id := range s.regOrder {
		cp := *s.registrations[id]
		regs = append(regs, &cp)
	}
	return regs, nil
}

// UpdateRegistration replaces an existing registration
func (s *MemoryStore) UpdateRegistration(reg *models.Registration) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if _, ok := s.registrations[reg.ID]; !ok {
		return ErrRegistrationNotFound
	}
	cp := *reg
	s.registrations[reg.ID] = &cp
	return nil
}

// DeleteRegistration removes a registration
func (s *MemoryStore) DeleteRegistration(id models.HandlerID) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if _, ok := s.registrations[id]; !ok {
		return ErrRegistrationNotFound
	}
	delete(s.registrations, id)
	for i, existing := range s.regOrder {
		if existing == id {
			s.regOrder = append(s.regOrder[:i], s.regOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Batch operations

// CreateBatch records a new batch
func (s *MemoryStore) CreateBatch(batch *models.Batch) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	s.batches[batch.ID] = cloneBatch(batch)
	s.batchOrder = append(s.batchOrder, batch.ID)
	return nil
}

// GetBatch retrieves a batch by ID
func (s *MemoryStore) GetBatch(id uuid.UUID) (*models.Batch, error) {
	s.batchMu.RLock()
	defer s.batchMu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return cloneBatch(batch), nil
}

// ListBatches returns matching batches, newest first
func (s *MemoryStore) ListBatches(filter BatchFilter) ([]*models.Batch, error) {
	s.batchMu.RLock()
	defer s.batchMu.RUnlock()

	var out []*models.Batch
	for i := len(s.batchOrder) - 1; i >= 0; i-- {
		batch := s.batches[s.batchOrder[i]]
		if !filter.matches(batch) {
			continue
		}
		out = append(out, cloneBatch(batch))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// UpdateBatch replaces an existing batch record
func (s *MemoryStore) UpdateBatch(batch *models.Batch) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if _, ok := s.batches[batch.ID]; !ok {
		return ErrBatchNotFound
	}
	s.batches[batch.ID] = cloneBatch(batch)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

func cloneBatch(b *models.Batch) *models.Batch {
	cp := *b
	cp.Targets = append([]common.Address(nil), b.Targets...)
	cp.Results = append([][]byte(nil), b.Results...)
	cp.StateTransitions = append([]models.StateTransition(nil), b.StateTransitions...)
	return &cp
}

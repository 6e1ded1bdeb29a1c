// Package registry is the admin-gated catalog of approved handler addresses.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/dispatch-proxy/pkg/logging"
	"github.com/psantana5/dispatch-proxy/pkg/models"
	"github.com/psantana5/dispatch-proxy/pkg/store"
)

// Registry maps handler identifiers to approved handler addresses. Bindings
// are cached in memory and written through to the store.
type Registry struct {
	administrator common.Address
	store         store.Store
	logger        *logging.Logger

	mu        sync.RWMutex
	byID      map[models.HandlerID]*models.Registration
	addrCount map[common.Address]int
}

// New creates a registry administered by admin and loads existing bindings
// from the store.
func New(admin common.Address, st store.Store, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Registry{
		administrator: admin,
		store:         st,
		logger:        logger.WithField("component", "registry"),
		byID:          make(map[models.HandlerID]*models.Registration),
		addrCount:     make(map[common.Address]int),
	}

	regs, err := st.ListRegistrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load registrations: %w", err)
	}
	for _, reg := range regs {
		r.byID[reg.ID] = reg
		r.addrCount[reg.Address]++
	}
	r.logger.Info("Registry loaded", logging.Fields{
		"administrator": admin.Hex(),
		"handlers":      len(regs),
	})
	return r, nil
}

// Administrator returns the address allowed to mutate the registry
func (r *Registry) Administrator() common.Address {
	return r.administrator
}

func (r *Registry) authorize(caller common.Address) error {
	if caller != r.administrator {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// Register binds id to addr. Existing bindings are never overwritten.
func (r *Registry) Register(ctx context.Context, caller common.Address, id models.HandlerID, addr common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.authorize(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	reg := &models.Registration{
		ID:           id,
		Address:      addr,
		RegisteredBy: caller,
		RegisteredAt: time.Now().UTC(),
	}
	if err := r.store.PutRegistration(reg); err != nil {
		if errors.Is(err, store.ErrRegistrationExists) {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
		}
		return fmt.Errorf("failed to persist registration: %w", err)
	}
	r.byID[id] = reg
	r.addrCount[addr]++

	r.logger.Info("Handler registered", logging.Fields{"id": id.String(), "address": addr.Hex()})
	return nil
}

// Rebind moves an existing binding to a new address
func (r *Registry) Rebind(ctx context.Context, caller common.Address, id models.HandlerID, addr common.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.authorize(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}

	now := time.Now().UTC()
	updated := *existing
	updated.Address = addr
	updated.RegisteredBy = caller
	updated.UpdatedAt = &now
	if err := r.store.UpdateRegistration(&updated); err != nil {
		return fmt.Errorf("failed to persist registration: %w", err)
	}

	r.dropAddress(existing.Address)
	r.byID[id] = &updated
	r.addrCount[addr]++

	r.logger.Info("Handler rebound", logging.Fields{
		"id":   id.String(),
		"from": existing.Address.Hex(),
		"to":   addr.Hex(),
	})
	return nil
}

// Deregister removes a binding
func (r *Registry) Deregister(ctx context.Context, caller common.Address, id models.HandlerID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.authorize(caller); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}
	if err := r.store.DeleteRegistration(id); err != nil && !errors.Is(err, store.ErrRegistrationNotFound) {
		return fmt.Errorf("failed to delete registration: %w", err)
	}

	delete(r.byID, id)
	r.dropAddress(existing.Address)

	r.logger.Info("Handler deregistered", logging.Fields{"id": id.String(), "address": existing.Address.Hex()})
	return nil
}

func (r *Registry) dropAddress(addr common.Address) {
	if r.addrCount[addr] <= 1 {
		delete(r.addrCount, addr)
		return
	}
	r.addrCount[addr]--
}

// Resolve returns the address bound to id
func (r *Registry) Resolve(ctx context.Context, id models.HandlerID) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byID[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}
	return reg.Address, nil
}

// Get returns the full registration for id
func (r *Registry) Get(ctx context.Context, id models.HandlerID) (*models.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}
	cp := *reg
	return &cp, nil
}

// IsRegistered reports whether addr is bound under any identifier
func (r *Registry) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addrCount[addr] > 0, nil
}

// Admitted returns a copy of the bound address set. Later writes do not
// affect the returned map.
func (r *Registry) Admitted(ctx context.Context) (map[common.Address]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[common.Address]bool, len(r.addrCount))
	for addr := range r.addrCount {
		set[addr] = true
	}
	return set, nil
}

// List returns every registration, oldest first
func (r *Registry) List(ctx context.Context) ([]*models.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.store.ListRegistrations()
}

// Len returns the number of bound identifiers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

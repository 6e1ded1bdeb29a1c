// Package ledger is an in-memory account ledger with native balances,
// per-account storage, installed contract code and journaled snapshots.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// GenesisAlloc seeds native balances when the ledger is created
type GenesisAlloc map[common.Address]*uint256.Int

// State holds every account of the ledger. All mutations are journaled so
// that a snapshot can be restored exactly.
type State struct {
	mu sync.RWMutex

	balances map[common.Address]*uint256.Int
	storage  map[common.Address]map[common.Hash]common.Hash
	code     map[common.Address]Contract
	nonces   map[common.Address]uint64

	journal        []journalEntry
	validRevisions []revision
	nextRevisionID int
}

// NewState creates a ledger seeded with the genesis allocation
func NewState(alloc GenesisAlloc) *State {
	s := &State{
		balances: make(map[common.Address]*uint256.Int),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		code:     make(map[common.Address]Contract),
		nonces:   make(map[common.Address]uint64),
	}
	for addr, amount := range alloc {
		if amount != nil && !amount.IsZero() {
			s.balances[addr] = new(uint256.Int).Set(amount)
		}
	}
	return s
}

// Snapshot returns an identifier for the current revision of the state.
func (s *State) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id, len(s.journal)})
	return id
}

// RevertToSnapshot undoes every change made since the given snapshot.
// Snapshots taken after it become invalid.
func (s *State) RevertToSnapshot(revid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	snapshot := s.validRevisions[idx].journalIndex

	for i := len(s.journal) - 1; i >= snapshot; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:snapshot]
	s.validRevisions = s.validRevisions[:idx]
}

// Commit discards the journal, making every change since the last commit final.
func (s *State) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = s.journal[:0]
	s.validRevisions = s.validRevisions[:0]
}

// JournalLength reports the number of uncommitted changes
func (s *State) JournalLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.journal)
}

// GetBalance returns a copy of the native balance of addr
func (s *State) GetBalance(addr common.Address) *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bal, ok := s.balances[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// AddBalance credits amount to addr
func (s *State) AddBalance(addr common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.balances[addr]
	next := new(uint256.Int).Set(amount)
	if prev != nil {
		next.Add(prev, amount)
	}
	s.journal = append(s.journal, balanceChange{account: addr, prev: prev})
	s.balances[addr] = next
}

// SubBalance debits amount from addr, failing if the balance is too small
func (s *State) SubBalance(addr common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.balances[addr]
	if prev == nil || prev.Lt(amount) {
		have := new(uint256.Int)
		if prev != nil {
			have.Set(prev)
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr.Hex(), have.Dec(), amount.Dec())
	}
	s.journal = append(s.journal, balanceChange{account: addr, prev: prev})
	s.balances[addr] = new(uint256.Int).Sub(prev, amount)
	return nil
}

// Transfer moves amount of native balance from one account to another
func (s *State) Transfer(from, to common.Address, amount *uint256.Int) error {
	if err := s.SubBalance(from, amount); err != nil {
		return err
	}
	s.AddBalance(to, amount)
	return nil
}

// GetState reads a storage slot of addr
func (s *State) GetState(addr common.Address, key common.Hash) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage[addr][key]
}

// SetState writes a storage slot of addr
func (s *State) SetState(addr common.Address, key, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots, ok := s.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.storage[addr] = slots
	}
	prev, existed := slots[key]
	s.journal = append(s.journal, storageChange{account: addr, key: key, prev: prev, existed: existed})
	slots[key] = value
}

// StorageSize reports how many slots addr has written
func (s *State) StorageSize(addr common.Address) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.storage[addr])
}

// GetNonce returns the deployment nonce of addr
func (s *State) GetNonce(addr common.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[addr]
}

// GetCode returns the contract installed at addr, or nil
func (s *State) GetCode(addr common.Address) Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code[addr]
}

// HasCode reports whether a contract is installed at addr
func (s *State) HasCode(addr common.Address) bool {
	return s.GetCode(addr) != nil
}

// Deploy installs code at the address derived from the deployer and its
// nonce, then increments the nonce.
func (s *State) Deploy(deployer common.Address, code Contract) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := s.nonces[deployer]
	addr := crypto.CreateAddress(deployer, nonce)
	if _, ok := s.code[addr]; ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrAlreadyDeployed, addr.Hex())
	}
	s.journal = append(s.journal, nonceChange{account: deployer, prev: nonce})
	s.nonces[deployer] = nonce + 1
	s.journal = append(s.journal, codeChange{account: addr})
	s.code[addr] = code
	return addr, nil
}

// InstallCode places code at a fixed address
func (s *State) InstallCode(addr common.Address, code Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.code[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, addr.Hex())
	}
	s.journal = append(s.journal, codeChange{account: addr})
	s.code[addr] = code
	return nil
}

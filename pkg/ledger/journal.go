package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journalEntry is a modification that can be undone.
type journalEntry interface {
	revert(s *State)
}

type revision struct {
	id           int
	journalIndex int
}

type (
	balanceChange struct {
		account common.Address
		prev    *uint256.Int // nil when the account had no balance entry
	}
	storageChange struct {
		account common.Address
		key     common.Hash
		prev    common.Hash
		existed bool
	}
	codeChange struct {
		account common.Address
	}
	nonceChange struct {
		account common.Address
		prev    uint64
	}
)

func (ch balanceChange) revert(s *State) {
	if ch.prev == nil {
		delete(s.balances, ch.account)
		return
	}
	s.balances[ch.account] = ch.prev
}

func (ch storageChange) revert(s *State) {
	slots := s.storage[ch.account]
	if !ch.existed {
		delete(slots, ch.key)
		if len(slots) == 0 {
			delete(s.storage, ch.account)
		}
		return
	}
	slots[ch.key] = ch.prev
}

func (ch codeChange) revert(s *State) {
	delete(s.code, ch.account)
}

func (ch nonceChange) revert(s *State) {
	if ch.prev == 0 {
		delete(s.nonces, ch.account)
		return
	}
	s.nonces[ch.account] = ch.prev
}

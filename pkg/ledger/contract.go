package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Contract is code installed at a ledger address
type Contract interface {
	Run(env *Env, input []byte) ([]byte, error)
}

// Env is the frame a contract runs in: its own address, the immediate
// caller and the native value sent along with the call.
type Env struct {
	State  *State
	Caller common.Address
	Self   common.Address
	Value  *uint256.Int
}

// Call performs a nested call from the running contract
func (e *Env) Call(to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	return e.State.Call(e.Self, to, value, input)
}

// GetState reads a slot of the running contract's storage
func (e *Env) GetState(key common.Hash) common.Hash {
	return e.State.GetState(e.Self, key)
}

// SetState writes a slot of the running contract's storage
func (e *Env) SetState(key, value common.Hash) {
	e.State.SetState(e.Self, key, value)
}

// Call transfers value from caller to the destination and, when code is
// installed there, runs it. Any failure leaves the state as it was before the call.
func (s *State) Call(caller, to common.Address, value *uint256.Int, input []byte) ([]byte, error) {
	if value == nil {
		value = new(uint256.Int)
	}
	snap := s.Snapshot()

	if err := s.Transfer(caller, to, value); err != nil {
		s.RevertToSnapshot(snap)
		return nil, err
	}

	code := s.GetCode(to)
	if code == nil {
		if len(input) > 0 {
			s.RevertToSnapshot(snap)
			return nil, fmt.Errorf("%w: %s", ErrNoCode, to.Hex())
		}
		return nil, nil
	}

	out, err := code.Run(&Env{State: s, Caller: caller, Self: to, Value: value}, input)
	if err != nil {
		s.RevertToSnapshot(snap)
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}

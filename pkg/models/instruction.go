package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Instruction is one delegated call inside a batch
type Instruction struct {
	Target  common.Address
	Payload []byte
	// Value is the native amount attached to this instruction. nil means zero.
	Value *uint256.Int
}

// AttachedValue returns the attached amount, never nil
func (i Instruction) AttachedValue() *uint256.Int {
	if i.Value == nil {
		return new(uint256.Int)
	}
	return i.Value
}

// Obligation is a post-process call queued by a handler during a batch
type Obligation struct {
	Target  common.Address
	Payload []byte
}

package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BatchStatus represents where a batch is in its lifecycle
type BatchStatus string

const (
	BatchStatusReceived  BatchStatus = "received"  // Accepted, nothing executed yet
	BatchStatusExecuting BatchStatus = "executing" // Instructions running in order
	BatchStatusDraining  BatchStatus = "draining"  // Post-process queue and default refund
	BatchStatusCommitted BatchStatus = "committed" // Ledger checkpoint kept
	BatchStatusReverted  BatchStatus = "reverted"  // Ledger restored to the pre-batch checkpoint
)

// Batch is the audit record of one Execute or BatchExecute call.
// It is written outside the atomic unit and never consulted by dispatch.
type Batch struct {
	ID               uuid.UUID         `json:"id"`
	Caller           common.Address    `json:"caller"`
	Value            string            `json:"value"`
	Targets          []common.Address  `json:"targets"`
	Status           BatchStatus       `json:"status"`
	Results          [][]byte          `json:"results,omitempty"`
	ObligationsRun   int               `json:"obligations_run"`
	Refund           string            `json:"refund,omitempty"`
	Error            string            `json:"error,omitempty"`
	FailedIndex      *int              `json:"failed_index,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// StateTransition tracks batch state changes with timestamps
type StateTransition struct {
	From      BatchStatus `json:"from"`
	To        BatchStatus `json:"to"`
	Timestamp time.Time   `json:"timestamp"`
	Reason    string      `json:"reason,omitempty"`
}

// Transition validates and applies a state change, appending to the history
func (b *Batch) Transition(to BatchStatus, reason string) error {
	if err := ValidateTransition(b.Status, to); err != nil {
		return err
	}
	now := time.Now()
	b.StateTransitions = append(b.StateTransitions, StateTransition{
		From:      b.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	b.Status = to
	if IsTerminalState(to) {
		b.FinishedAt = &now
	}
	return nil
}

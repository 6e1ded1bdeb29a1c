package models

import "fmt"

// validTransitions maps from-state to allowed to-states
var validTransitions = map[BatchStatus]map[BatchStatus]bool{
	BatchStatusReceived: {
		BatchStatusExecuting: true, // Received → Executing (first instruction starts)
		BatchStatusReverted:  true, // Received → Reverted (rejected before execution)
	},
	BatchStatusExecuting: {
		BatchStatusDraining: true, // Executing → Draining (all instructions succeeded)
		BatchStatusReverted: true, // Executing → Reverted (an instruction failed)
	},
	BatchStatusDraining: {
		BatchStatusCommitted: true, // Draining → Committed (queue empty, invariant holds)
		BatchStatusReverted:  true, // Draining → Reverted (obligation or invariant failed)
	},
	// Terminal states
	BatchStatusCommitted: {},
	BatchStatusReverted:  {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to BatchStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the batch can no longer change
func IsTerminalState(state BatchStatus) bool {
	return state == BatchStatusCommitted || state == BatchStatusReverted
}

// ParseBatchStatus validates a status string from a query parameter
func ParseBatchStatus(s string) (BatchStatus, error) {
	st := BatchStatus(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("unknown batch status: %s", s)
	}
	return st, nil
}

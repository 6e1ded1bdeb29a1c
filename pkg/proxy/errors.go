package proxy

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for dispatch failures. Registry errors live in package registry.
var (
	// ErrHandlerNotRegistered is returned when a target is not an approved handler.
	ErrHandlerNotRegistered = errors.New("proxy: handler not registered")

	// ErrArityMismatch is returned when targets and payloads differ in length.
	ErrArityMismatch = errors.New("proxy: targets and payloads differ in length")

	// ErrInsufficientValue is returned when instruction values exceed the attached value.
	ErrInsufficientValue = errors.New("proxy: attached value does not cover instruction values")

	// ErrHandlerExecutionFailed wraps a failure raised by handler logic.
	ErrHandlerExecutionFailed = errors.New("proxy: handler execution failed")

	// ErrPostProcessOverflow is returned when draining exceeds the iteration cap.
	ErrPostProcessOverflow = errors.New("proxy: post-process queue exceeded iteration cap")

	// ErrInvariantViolation is returned when the proxy balance does not return to its baseline.
	ErrInvariantViolation = errors.New("proxy: balance differs from pre-batch baseline")

	// ErrDirectDepositRejected is returned for every bare transfer to the proxy.
	ErrDirectDepositRejected = errors.New("proxy: direct deposit rejected")

	// ErrNotDelegated is returned when handler code is called outside the proxy.
	ErrNotDelegated = errors.New("proxy: handler code only runs through the proxy")
)

// Phase names the stage of a batch an invocation belongs to
type Phase string

const (
	PhaseInstruction Phase = "instruction"
	PhasePostProcess Phase = "post_process"
)

// InstructionError describes which invocation of a batch failed. It matches
// its Kind sentinel and the handler's own error through errors.Is and errors.As.
type InstructionError struct {
	Index  int
	Target common.Address
	Phase  Phase
	Kind   error
	Err    error
}

func (e *InstructionError) Error() string {
	msg := fmt.Sprintf("%s %d (%s): %v", e.Phase, e.Index, e.Target.Hex(), e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InstructionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Cause returns the handler's original error, if any
func (e *InstructionError) Cause() error {
	return e.Err
}

package ledger

import "errors"

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrNoCode              = errors.New("ledger: no code at address")
	ErrAlreadyDeployed     = errors.New("ledger: code already deployed at address")
	ErrUnknownMethod       = errors.New("ledger: unknown method")
)

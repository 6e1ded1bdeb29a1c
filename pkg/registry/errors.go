package registry

import "errors"

var (
	// ErrUnauthorized is returned when a non-administrator attempts a mutation.
	ErrUnauthorized = errors.New("registry: caller is not the administrator")

	// ErrAlreadyRegistered is returned when binding an identifier that is already bound.
	ErrAlreadyRegistered = errors.New("registry: handler already registered")

	// ErrUnknownHandler is returned when an identifier has no binding.
	ErrUnknownHandler = errors.New("registry: unknown handler")

	// ErrZeroAddress is returned when binding an identifier to the zero address.
	ErrZeroAddress = errors.New("registry: handler address is zero")
)

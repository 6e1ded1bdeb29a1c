package models

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HandlerIDLength is the size of a handler identifier tag
const HandlerIDLength = 32

var ErrInvalidHandlerID = errors.New("invalid handler id")

// HandlerID is a fixed-size tag naming a handler in the registry.
// ASCII names are stored left-aligned and zero padded ("foo" -> 0x666f6f00...).
type HandlerID [HandlerIDLength]byte

// ParseHandlerID accepts either a 0x-prefixed hex tag of at most 32 bytes or
// a plain ASCII name of at most 32 characters.
func ParseHandlerID(s string) (HandlerID, error) {
	var id HandlerID
	if s == "" {
		return id, fmt.Errorf("%w: empty", ErrInvalidHandlerID)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return id, fmt.Errorf("%w: %v", ErrInvalidHandlerID, err)
		}
		if len(raw) > HandlerIDLength {
			return id, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidHandlerID, len(raw), HandlerIDLength)
		}
		copy(id[:], raw)
		return id, nil
	}
	if len(s) > HandlerIDLength {
		return id, fmt.Errorf("%w: name longer than %d characters", ErrInvalidHandlerID, HandlerIDLength)
	}
	copy(id[:], s)
	return id, nil
}

// MustHandlerID is ParseHandlerID for constants
func MustHandlerID(s string) HandlerID {
	id, err := ParseHandlerID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsZero reports whether the tag is all zero bytes
func (id HandlerID) IsZero() bool {
	return id == HandlerID{}
}

// Hex returns the full 0x-prefixed tag
func (id HandlerID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// String returns the ASCII name when the tag is printable and cannot be read
// back as hex, otherwise Hex. ParseHandlerID(id.String()) always yields id.
func (id HandlerID) String() string {
	trimmed := bytes.TrimRight(id[:], "\x00")
	if len(trimmed) == 0 || bytes.HasPrefix(trimmed, []byte("0x")) || bytes.HasPrefix(trimmed, []byte("0X")) {
		return id.Hex()
	}
	for _, b := range trimmed {
		if b < 0x20 || b > 0x7e {
			return id.Hex()
		}
	}
	return string(trimmed)
}

func (id HandlerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *HandlerID) UnmarshalText(text []byte) error {
	parsed, err := ParseHandlerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Registration binds a handler identifier to the approved handler address
type Registration struct {
	ID           HandlerID      `json:"id"`
	Address      common.Address `json:"address"`
	RegisteredBy common.Address `json:"registered_by"`
	RegisteredAt time.Time      `json:"registered_at"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
}

// RegistrationRequest is the API body for binding a handler
type RegistrationRequest struct {
	ID      string         `json:"id"`
	Address common.Address `json:"address"`
}

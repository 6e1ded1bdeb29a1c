// Package codec encodes and decodes call payloads as a 4-byte selector
// followed by ABI-encoded arguments.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	ErrUnknownMethod = errors.New("codec: unknown method")
	ErrShortInput    = errors.New("codec: input shorter than a selector")
)

// ABI is a set of callable methods
type ABI struct {
	abi abi.ABI
}

// Parse builds an ABI from signatures such as
// "bar(uint256,uint256) returns (uint256)".
func Parse(signatures ...string) (*ABI, error) {
	parsed := abi.ABI{Methods: make(map[string]abi.Method, len(signatures))}
	for _, sig := range signatures {
		m, err := parseMethod(sig)
		if err != nil {
			return nil, err
		}
		if _, dup := parsed.Methods[m.Name]; dup {
			return nil, fmt.Errorf("codec: duplicate method %s", m.Name)
		}
		parsed.Methods[m.Name] = m
	}
	return &ABI{abi: parsed}, nil
}

// MustParse is Parse for package-level declarations
func MustParse(signatures ...string) *ABI {
	a, err := Parse(signatures...)
	if err != nil {
		panic(err)
	}
	return a
}

func parseMethod(sig string) (abi.Method, error) {
	in, out, _ := strings.Cut(sig, " returns ")
	sel, err := abi.ParseSelector(strings.TrimSpace(in))
	if err != nil {
		return abi.Method{}, fmt.Errorf("codec: parse %q: %w", sig, err)
	}
	inputs, err := arguments(sel.Inputs)
	if err != nil {
		return abi.Method{}, fmt.Errorf("codec: parse %q: %w", sig, err)
	}

	var outputs abi.Arguments
	if out = strings.TrimSpace(out); out != "" {
		outSel, err := abi.ParseSelector("out" + out)
		if err != nil {
			return abi.Method{}, fmt.Errorf("codec: parse outputs of %q: %w", sig, err)
		}
		if outputs, err = arguments(outSel.Inputs); err != nil {
			return abi.Method{}, fmt.Errorf("codec: parse outputs of %q: %w", sig, err)
		}
	}
	return abi.NewMethod(sel.Name, sel.Name, abi.Function, "nonpayable", false, false, inputs, outputs), nil
}

func arguments(marshaled []abi.ArgumentMarshaling) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(marshaled))
	for _, am := range marshaled {
		typ, err := abi.NewType(am.Type, am.InternalType, am.Components)
		if err != nil {
			return nil, err
		}
		args = append(args, abi.Argument{Name: am.Name, Type: typ})
	}
	return args, nil
}

// Pack encodes a call to name
func (a *ABI) Pack(name string, args ...interface{}) ([]byte, error) {
	if _, ok := a.abi.Methods[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return a.abi.Pack(name, args...)
}

// MustPack is Pack for arguments known to be valid
func (a *ABI) MustPack(name string, args ...interface{}) []byte {
	out, err := a.Pack(name, args...)
	if err != nil {
		panic(err)
	}
	return out
}

// Decode resolves the selector of input and unpacks its arguments
func (a *ABI) Decode(input []byte) (string, []interface{}, error) {
	if len(input) < 4 {
		return "", nil, ErrShortInput
	}
	method, err := a.abi.MethodById(input[:4])
	if err != nil {
		return "", nil, fmt.Errorf("%w: selector %x", ErrUnknownMethod, input[:4])
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return "", nil, fmt.Errorf("codec: unpack %s arguments: %w", method.Name, err)
	}
	return method.Name, args, nil
}

// PackResult encodes the return values of name
func (a *ABI) PackResult(name string, values ...interface{}) ([]byte, error) {
	method, ok := a.abi.Methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return method.Outputs.Pack(values...)
}

// UnpackResult decodes the return values of name
func (a *ABI) UnpackResult(name string, data []byte) ([]interface{}, error) {
	if _, ok := a.abi.Methods[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return a.abi.Unpack(name, data)
}

// Selector returns the 4-byte identifier of name
func (a *ABI) Selector(name string) ([]byte, error) {
	method, ok := a.abi.Methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return method.ID, nil
}

// Methods returns the method signatures, e.g. "bar(uint256,uint256)"
func (a *ABI) Methods() []string {
	sigs := make([]string, 0, len(a.abi.Methods))
	for _, m := range a.abi.Methods {
		sigs = append(sigs, m.Sig)
	}
	return sigs
}

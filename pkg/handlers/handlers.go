// Package handlers provides the built-in handler variants the proxy can run.
package handlers

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/codec"
	"github.com/psantana5/dispatch-proxy/pkg/proxy"
	"github.com/psantana5/dispatch-proxy/pkg/targets"
)

// ABIs of the built-in handlers, used by clients to build payloads
var (
	CallABI    = codec.MustParse("bar(uint256,uint256) returns (uint256)")
	ConvertABI = codec.MustParse("bar(uint256,uint256) returns (uint256)")
	HookABI    = codec.MustParse("bar1(address)", "bar2(address)", "postProcess(address)")
)

// lookupInstance resolves factory.addressOf(index) from the proxy account
func lookupInstance(ec *proxy.ExecContext, factory common.Address, index *big.Int) (common.Address, error) {
	out, err := ec.Call(factory, nil, targets.FactoryABI.MustPack("addressOf", index))
	if err != nil {
		return common.Address{}, err
	}
	vals, err := targets.FactoryABI.UnpackResult("addressOf", out)
	if err != nil {
		return common.Address{}, err
	}
	return vals[0].(common.Address), nil
}

// CallHandler drives Vault instances: bar(index, num) sets num in the vault
// at index for the proxy account and returns the stored value.
type CallHandler struct {
	factory common.Address
}

// NewCallHandler binds the handler to a Vault factory
func NewCallHandler(factory common.Address) *CallHandler {
	return &CallHandler{factory: factory}
}

func (h *CallHandler) Name() string { return "call" }

func (h *CallHandler) Handle(ec *proxy.ExecContext, payload []byte) ([]byte, error) {
	name, args, err := CallABI.Decode(payload)
	if err != nil {
		return nil, err
	}
	if name != "bar" {
		return nil, fmt.Errorf("call: unsupported method %s", name)
	}
	index, num := args[0].(*big.Int), args[1].(*big.Int)

	vault, err := lookupInstance(ec, h.factory, index)
	if err != nil {
		return nil, fmt.Errorf("call: resolve vault %s: %w", index, err)
	}
	if _, err := ec.Call(vault, nil, targets.VaultABI.MustPack("set", num)); err != nil {
		return nil, fmt.Errorf("call: set: %w", err)
	}

	out, err := ec.Call(vault, nil, targets.VaultABI.MustPack("accounts", ec.Self()))
	if err != nil {
		return nil, fmt.Errorf("call: read back: %w", err)
	}
	return out, nil
}

// ConvertHandler drives Exchange instances: bar(value, index) sends value
// to the exchange at index and forwards the minted tokens to the origin
// caller. Returned change stays on the proxy until the default refund.
type ConvertHandler struct {
	factory common.Address
}

// NewConvertHandler binds the handler to an Exchange factory
func NewConvertHandler(factory common.Address) *ConvertHandler {
	return &ConvertHandler{factory: factory}
}

func (h *ConvertHandler) Name() string { return "convert" }

func (h *ConvertHandler) Handle(ec *proxy.ExecContext, payload []byte) ([]byte, error) {
	name, args, err := ConvertABI.Decode(payload)
	if err != nil {
		return nil, err
	}
	if name != "bar" {
		return nil, fmt.Errorf("convert: unsupported method %s", name)
	}
	value, index := args[0].(*big.Int), args[1].(*big.Int)
	amount, err := toUint256(value)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}

	exchange, err := lookupInstance(ec, h.factory, index)
	if err != nil {
		return nil, fmt.Errorf("convert: resolve exchange %s: %w", index, err)
	}
	out, err := ec.Call(exchange, amount, targets.ExchangeABI.MustPack("convert"))
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	vals, err := targets.ExchangeABI.UnpackResult("convert", out)
	if err != nil {
		return nil, err
	}
	minted := vals[0].(*big.Int)

	if _, err := ec.Call(exchange, nil, targets.ExchangeABI.MustPack("transfer", ec.Origin(), minted)); err != nil {
		return nil, fmt.Errorf("convert: forward tokens: %w", err)
	}
	return ConvertABI.PackResult("bar", minted)
}

// HookHandler exercises custom post-processing: bar1 queues one
// postProcess obligation against its own code, bar2 queues two.
// postProcess(counter) bumps the counter.
type HookHandler struct{}

// NewHookHandler creates the hook handler
func NewHookHandler() *HookHandler { return &HookHandler{} }

func (h *HookHandler) Name() string { return "hook" }

func (h *HookHandler) Handle(ec *proxy.ExecContext, payload []byte) ([]byte, error) {
	name, args, err := HookABI.Decode(payload)
	if err != nil {
		return nil, err
	}
	counter := args[0].(common.Address)

	switch name {
	case "bar1":
		h.enqueue(ec, counter, 1)
	case "bar2":
		h.enqueue(ec, counter, 2)
	case "postProcess":
		if _, err := ec.Call(counter, nil, targets.CounterABI.MustPack("bar")); err != nil {
			return nil, fmt.Errorf("hook: post process: %w", err)
		}
	default:
		return nil, fmt.Errorf("hook: unsupported method %s", name)
	}
	return nil, nil
}

func (h *HookHandler) enqueue(ec *proxy.ExecContext, counter common.Address, n int) {
	for i := 0; i < n; i++ {
		ec.EnqueuePostProcess(ec.CodeAddress(), HookABI.MustPack("postProcess", counter))
	}
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %s is negative", v)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount %s out of range", v)
	}
	return u, nil
}

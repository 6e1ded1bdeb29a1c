package targets

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/codec"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
)

// ExchangeABI is the interface of Exchange
var ExchangeABI = codec.MustParse(
	"convert() returns (uint256)",
	"balanceOf(address) returns (uint256)",
	"transfer(address,uint256) returns (bool)",
	"totalSupply() returns (uint256)",
)

// Exchange converts native value into its own token. It keeps half of
// the value sent, mints that many tokens to the sender and sends the rest back.
// Storage: slot 0 total supply, mapping at slot 1 token balances.
type Exchange struct{}

// NewExchange returns an Exchange instance for a factory
func NewExchange() ledger.Contract { return Exchange{} }

var exchangeSupplySlot = common.Hash{}

func (x Exchange) Run(env *ledger.Env, input []byte) ([]byte, error) {
	return dispatch(ExchangeABI, env, input, map[string]method{
		"convert":     x.convert,
		"balanceOf":   x.balanceOf,
		"transfer":    x.transfer,
		"totalSupply": x.totalSupply,
	})
}

func (Exchange) convert(env *ledger.Env, _ []interface{}) ([]interface{}, error) {
	if env.Value == nil || env.Value.IsZero() {
		return nil, fmt.Errorf("convert requires value")
	}
	minted := new(uint256.Int).Rsh(env.Value, 1)
	change := new(uint256.Int).Sub(env.Value, minted)

	slot := mappingSlot(1, addressKey(env.Caller))
	env.SetState(slot, uintToHash(new(uint256.Int).Add(hashToUint(env.GetState(slot)), minted)))
	supply := hashToUint(env.GetState(exchangeSupplySlot))
	env.SetState(exchangeSupplySlot, uintToHash(supply.Add(supply, minted)))

	if !change.IsZero() {
		if _, err := env.Call(env.Caller, change, nil); err != nil {
			return nil, fmt.Errorf("return change: %w", err)
		}
	}
	return []interface{}{minted.ToBig()}, nil
}

func (Exchange) balanceOf(env *ledger.Env, args []interface{}) ([]interface{}, error) {
	owner := args[0].(common.Address)
	return []interface{}{hashToUint(env.GetState(mappingSlot(1, addressKey(owner)))).ToBig()}, nil
}

func (Exchange) transfer(env *ledger.Env, args []interface{}) ([]interface{}, error) {
	if err := requireNoValue(env); err != nil {
		return nil, err
	}
	to := args[0].(common.Address)
	amount, overflow := uint256.FromBig(args[1].(*big.Int))
	if overflow {
		return nil, fmt.Errorf("amount out of range")
	}

	fromSlot := mappingSlot(1, addressKey(env.Caller))
	fromBal := hashToUint(env.GetState(fromSlot))
	if fromBal.Lt(amount) {
		return nil, fmt.Errorf("transfer amount %s exceeds balance %s", amount.Dec(), fromBal.Dec())
	}
	env.SetState(fromSlot, uintToHash(fromBal.Sub(fromBal, amount)))

	toSlot := mappingSlot(1, addressKey(to))
	toBal := hashToUint(env.GetState(toSlot))
	env.SetState(toSlot, uintToHash(toBal.Add(toBal, amount)))
	return []interface{}{true}, nil
}

func (Exchange) totalSupply(env *ledger.Env, _ []interface{}) ([]interface{}, error) {
	return []interface{}{hashToUint(env.GetState(exchangeSupplySlot)).ToBig()}, nil
}

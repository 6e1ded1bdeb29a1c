package targets

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/codec"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
)

// CounterABI is the interface of Counter
var CounterABI = codec.MustParse(
	"bar()",
	"num() returns (uint256)",
)

// Counter increments slot 0 on every bar() call
type Counter struct{}

var counterSlot = common.Hash{}

func (c Counter) Run(env *ledger.Env, input []byte) ([]byte, error) {
	return dispatch(CounterABI, env, input, map[string]method{
		"bar": c.bar,
		"num": c.num,
	})
}

func (Counter) bar(env *ledger.Env, _ []interface{}) ([]interface{}, error) {
	n := hashToUint(env.GetState(counterSlot))
	env.SetState(counterSlot, uintToHash(n.AddUint64(n, 1)))
	return nil, nil
}

func (Counter) num(env *ledger.Env, _ []interface{}) ([]interface{}, error) {
	return []interface{}{hashToUint(env.GetState(counterSlot)).ToBig()}, nil
}

// ReadUint calls a view method returning a single uint256
func ReadUint(state *ledger.State, a *codec.ABI, target common.Address, name string, args ...interface{}) (*uint256.Int, error) {
	out, err := state.Call(common.Address{}, target, nil, a.MustPack(name, args...))
	if err != nil {
		return nil, err
	}
	vals, err := a.UnpackResult(name, out)
	if err != nil {
		return nil, err
	}
	v, _ := uint256.FromBig(vals[0].(*big.Int))
	return v, nil
}

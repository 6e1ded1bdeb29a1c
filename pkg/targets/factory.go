package targets

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/codec"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
)

// FactoryABI is the interface of Factory
var FactoryABI = codec.MustParse(
	"create() returns (address)",
	"addressOf(uint256) returns (address)",
	"count() returns (uint256)",
)

// Storage layout: slot 0 holds the instance count, mapping at slot 1 the
// index -> instance address table.
var factoryCountSlot = common.Hash{}

// Factory deploys instances of one contract kind and indexes them
type Factory struct {
	newInstance func() ledger.Contract
}

// NewFactory creates a factory for instances built by newInstance
func NewFactory(newInstance func() ledger.Contract) *Factory {
	return &Factory{newInstance: newInstance}
}

func (f *Factory) Run(env *ledger.Env, input []byte) ([]byte, error) {
	return dispatch(FactoryABI, env, input, map[string]method{
		"create":    f.create,
		"addressOf": f.addressOf,
		"count":     f.count,
	})
}

func (f *Factory) create(env *ledger.Env, _ []interface{}) ([]interface{}, error) {
	if err := requireNoValue(env); err != nil {
		return nil, err
	}
	addr, err := env.State.Deploy(env.Self, f.newInstance())
	if err != nil {
		return nil, err
	}
	n := hashToUint(env.GetState(factoryCountSlot))
	env.SetState(mappingSlot(1, uintToHash(n)), addressKey(addr))
	env.SetState(factoryCountSlot, uintToHash(new(uint256.Int).AddUint64(n, 1)))
	return []interface{}{addr}, nil
}

func (f *Factory) addressOf(env *ledger.Env, args []interface{}) ([]interface{}, error) {
	idx, overflow := uint256.FromBig(args[0].(*big.Int))
	if overflow {
		return nil, fmt.Errorf("index out of range")
	}
	if !idx.Lt(hashToUint(env.GetState(factoryCountSlot))) {
		return nil, fmt.Errorf("no instance at index %s", idx.Dec())
	}
	slot := env.GetState(mappingSlot(1, uintToHash(idx)))
	return []interface{}{common.BytesToAddress(slot.Bytes())}, nil
}

func (f *Factory) count(env *ledger.Env, _ []interface{}) ([]interface{}, error) {
	return []interface{}{hashToUint(env.GetState(factoryCountSlot)).ToBig()}, nil
}

// DeployFactory deploys a factory and creates n instances
func DeployFactory(state *ledger.State, deployer common.Address, newInstance func() ledger.Contract, n int) (common.Address, []common.Address, error) {
	factory, err := state.Deploy(deployer, NewFactory(newInstance))
	if err != nil {
		return common.Address{}, nil, err
	}
	instances := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		out, err := state.Call(deployer, factory, nil, FactoryABI.MustPack("create"))
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("failed to create instance %d: %w", i, err)
		}
		vals, err := FactoryABI.UnpackResult("create", out)
		if err != nil {
			return common.Address{}, nil, err
		}
		instances = append(instances, vals[0].(common.Address))
	}
	return factory, instances, nil
}

package targets

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/codec"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
)

// VaultABI is the interface of Vault
var VaultABI = codec.MustParse(
	"set(uint256)",
	"accounts(address) returns (uint256)",
)

// Vault keeps one number per caller in mapping slot 0
type Vault struct{}

// NewVault returns a Vault instance for a factory
func NewVault() ledger.Contract { return Vault{} }

func (v Vault) Run(env *ledger.Env, input []byte) ([]byte, error) {
	return dispatch(VaultABI, env, input, map[string]method{
		"set":      v.set,
		"accounts": v.accounts,
	})
}

func (Vault) set(env *ledger.Env, args []interface{}) ([]interface{}, error) {
	if err := requireNoValue(env); err != nil {
		return nil, err
	}
	num, _ := uint256.FromBig(args[0].(*big.Int))
	env.SetState(mappingSlot(0, addressKey(env.Caller)), uintToHash(num))
	return nil, nil
}

func (Vault) accounts(env *ledger.Env, args []interface{}) ([]interface{}, error) {
	owner := args[0].(common.Address)
	return []interface{}{hashToUint(env.GetState(mappingSlot(0, addressKey(owner)))).ToBig()}, nil
}

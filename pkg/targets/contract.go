// Package targets holds the ledger contracts that built-in handlers drive.
package targets

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/psantana5/dispatch-proxy/pkg/codec"
	"github.com/psantana5/dispatch-proxy/pkg/ledger"
)

type method func(env *ledger.Env, args []interface{}) ([]interface{}, error)

// dispatch decodes input against a and runs the matching method
func dispatch(a *codec.ABI, env *ledger.Env, input []byte, methods map[string]method) ([]byte, error) {
	name, args, err := a.Decode(input)
	if err != nil {
		return nil, err
	}
	fn, ok := methods[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownMethod, name)
	}
	out, err := fn(env, args)
	if err != nil {
		return nil, err
	}
	return a.PackResult(name, out...)
}

// mappingSlot is the storage slot of mapping[key] declared at slot index
func mappingSlot(index uint64, key common.Hash) common.Hash {
	return crypto.Keccak256Hash(key.Bytes(), common.BigToHash(new(big.Int).SetUint64(index)).Bytes())
}

func addressKey(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func hashToUint(h common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes32(h.Bytes())
}

func uintToHash(v *uint256.Int) common.Hash {
	return common.Hash(v.Bytes32())
}

func requireNoValue(env *ledger.Env) error {
	if env.Value != nil && !env.Value.IsZero() {
		return fmt.Errorf("method is not payable")
	}
	return nil
}

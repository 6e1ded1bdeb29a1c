package targets

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/dispatch-proxy/pkg/ledger"
)

var (
	deployer = common.HexToAddress("0xde00000000000000000000000000000000000001")
	user     = common.HexToAddress("0x0000000000000000000000000000000000005e12")
)

func TestFactoryIndexesInstances(t *testing.T) {
	s := ledger.NewState(nil)
	factory, instances, err := DeployFactory(s, deployer, NewVault, 3)
	require.NoError(t, err)
	require.Len(t, instances, 3)

	count, err := ReadUint(s, FactoryABI, factory, "count")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count.Uint64())

	for i, want := range instances {
		out, err := s.Call(user, factory, nil, FactoryABI.MustPack("addressOf", big.NewInt(int64(i))))
		require.NoError(t, err)
		vals, err := FactoryABI.UnpackResult("addressOf", out)
		require.NoError(t, err)
		assert.Equal(t, want, vals[0].(common.Address))
		assert.True(t, s.HasCode(want))
	}

	_, err = s.Call(user, factory, nil, FactoryABI.MustPack("addressOf", big.NewInt(3)))
	assert.Error(t, err)
}

func TestVaultStoresPerCaller(t *testing.T) {
	s := ledger.NewState(nil)
	vault, err := s.Deploy(deployer, NewVault())
	require.NoError(t, err)

	_, err = s.Call(user, vault, nil, VaultABI.MustPack("set", big.NewInt(25)))
	require.NoError(t, err)

	got, err := ReadUint(s, VaultABI, vault, "accounts", user)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), got.Uint64())

	other, err := ReadUint(s, VaultABI, vault, "accounts", deployer)
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestExchangeConvertKeepsHalf(t *testing.T) {
	s := ledger.NewState(ledger.GenesisAlloc{user: uint256.NewInt(1000)})
	exchange, err := s.Deploy(deployer, NewExchange())
	require.NoError(t, err)

	out, err := s.Call(user, exchange, uint256.NewInt(101), ExchangeABI.MustPack("convert"))
	require.NoError(t, err)
	vals, err := ExchangeABI.UnpackResult("convert", out)
	require.NoError(t, err)
	assert.Equal(t, int64(50), vals[0].(*big.Int).Int64())

	assert.Equal(t, uint64(50), s.GetBalance(exchange).Uint64())
	assert.Equal(t, uint64(950), s.GetBalance(user).Uint64())

	bal, err := ReadUint(s, ExchangeABI, exchange, "balanceOf", user)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), bal.Uint64())

	_, err = s.Call(user, exchange, nil, ExchangeABI.MustPack("transfer", deployer, big.NewInt(20)))
	require.NoError(t, err)
	bal, _ = ReadUint(s, ExchangeABI, exchange, "balanceOf", deployer)
	assert.Equal(t, uint64(20), bal.Uint64())

	_, err = s.Call(user, exchange, nil, ExchangeABI.MustPack("transfer", deployer, big.NewInt(31)))
	assert.Error(t, err)

	_, err = s.Call(user, exchange, nil, ExchangeABI.MustPack("convert"))
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	s := ledger.NewState(nil)
	counter, err := s.Deploy(deployer, Counter{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Call(user, counter, nil, CounterABI.MustPack("bar"))
		require.NoError(t, err)
	}
	n, err := ReadUint(s, CounterABI, counter, "num")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n.Uint64())
}

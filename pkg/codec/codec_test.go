package codec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testABI = MustParse(
	"bar(uint256,uint256) returns (uint256)",
	"bar1(address)",
	"flag(bool,bytes32) returns (bool)",
)

func TestSelectorMatchesKeccak(t *testing.T) {
	sel, err := testABI.Selector("bar")
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256([]byte("bar(uint256,uint256)"))[:4], sel)
}

func TestPackDecodeRoundTrip(t *testing.T) {
	input, err := testABI.Pack("bar", big.NewInt(0), big.NewInt(25))
	require.NoError(t, err)
	assert.Len(t, input, 4+64)

	name, args, err := testABI.Decode(input)
	require.NoError(t, err)
	assert.Equal(t, "bar", name)
	require.Len(t, args, 2)
	assert.Equal(t, int64(25), args[1].(*big.Int).Int64())
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := testABI.Decode([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortInput)

	_, _, err = testABI.Decode([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = testABI.Pack("missing")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestResults(t *testing.T) {
	out, err := testABI.PackResult("bar", big.NewInt(7))
	require.NoError(t, err)

	vals, err := testABI.UnpackResult("bar", out)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, int64(7), vals[0].(*big.Int).Int64())
}

func TestEncodeCallMatchesPack(t *testing.T) {
	counter := common.HexToAddress("0x00000000000000000000000000000000000000c0")

	fromCLI, err := EncodeCall("bar1(address)", counter.Hex())
	require.NoError(t, err)
	assert.Equal(t, testABI.MustPack("bar1", counter), fromCLI)

	fromCLI, err = EncodeCall("bar(uint256,uint256)", "0", "0x19")
	require.NoError(t, err)
	assert.Equal(t, testABI.MustPack("bar", big.NewInt(0), big.NewInt(25)), fromCLI)

	word := [32]byte{0xaa}
	fromCLI, err = EncodeCall("flag(bool,bytes32)", "true", "0xaa")
	require.NoError(t, err)
	assert.Equal(t, testABI.MustPack("flag", true, word), fromCLI)
}

func TestEncodeCallErrors(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		args []string
	}{
		{"arity", "bar(uint256,uint256)", []string{"1"}},
		{"bad integer", "bar(uint256,uint256)", []string{"x", "1"}},
		{"negative uint", "bar(uint256,uint256)", []string{"-1", "1"}},
		{"bad address", "bar1(address)", []string{"0x1234"}},
		{"bad signature", "bar(uint256", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeCall(tt.sig, tt.args...)
			assert.Error(t, err)
		})
	}
}

package codec

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EncodeCall encodes a call from a signature and textual arguments, for
// command-line use: EncodeCall("bar(uint256,uint256)", "0", "25").
// Supported argument types are uintN, intN, address, bool, string, bytes and bytesN.
func EncodeCall(signature string, args ...string) ([]byte, error) {
	m, err := parseMethod(signature)
	if err != nil {
		return nil, err
	}
	if len(args) != len(m.Inputs) {
		return nil, fmt.Errorf("codec: %s takes %d arguments, got %d", m.Sig, len(m.Inputs), len(args))
	}

	values := make([]interface{}, len(args))
	for i, raw := range args {
		v, err := convertArg(m.Inputs[i].Type, raw)
		if err != nil {
			return nil, fmt.Errorf("codec: argument %d: %w", i, err)
		}
		values[i] = v
	}

	packed, err := m.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("codec: pack %s: %w", m.Sig, err)
	}
	return append(append([]byte{}, m.ID...), packed...), nil
}

func convertArg(t abi.Type, raw string) (interface{}, error) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		n, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return intForType(t, n)
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address %q", raw)
		}
		return common.HexToAddress(raw), nil
	case abi.BoolTy:
		return strconv.ParseBool(raw)
	case abi.StringTy:
		return raw, nil
	case abi.BytesTy:
		return decodeHex(raw)
	case abi.FixedBytesTy:
		b, err := decodeHex(raw)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes exceeds bytes%d", len(b), t.Size)
		}
		return fixedBytes(t, b), nil
	default:
		return nil, fmt.Errorf("unsupported type %s", t.String())
	}
}

// intForType converts n to the Go type go-ethereum expects for t
func intForType(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value for %s", t.String())
	}
	if t.Size > 64 {
		return n, nil
	}
	if t.T == abi.UintTy {
		if !n.IsUint64() {
			return nil, fmt.Errorf("value overflows %s", t.String())
		}
		u := n.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		default:
			return u, nil
		}
	}
	if !n.IsInt64() {
		return nil, fmt.Errorf("value overflows %s", t.String())
	}
	i := n.Int64()
	switch t.Size {
	case 8:
		return int8(i), nil
	case 16:
		return int16(i), nil
	case 32:
		return int32(i), nil
	default:
		return i, nil
	}
}

func decodeHex(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"))
}

// fixedBytes copies b into a value of the [N]byte array type of t
func fixedBytes(t abi.Type, b []byte) interface{} {
	v := reflect.New(t.GetType()).Elem()
	reflect.Copy(v, reflect.ValueOf(b))
	return v.Interface()
}

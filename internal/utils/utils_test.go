package utils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBigInt(t *testing.T) {
	t.Parallel()

	v, err := ParseBigInt("")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())

	v, err = ParseBigInt("1000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), v.Int64())

	v, err = ParseBigInt("0xde0b6b3a7640000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", v.String())

	_, err = ParseBigInt("12z")
	assert.Error(t, err)
}

func TestLeftPad32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, make([]byte, 32), LeftPad32(nil))

	padded := LeftPad32([]byte{0x01, 0x02})
	assert.Len(t, padded, 32)
	assert.Equal(t, byte(0x01), padded[30])
	assert.Equal(t, byte(0x02), padded[31])

	long := make([]byte, 40)
	long[39] = 0xff
	assert.Equal(t, byte(0xff), LeftPad32(long)[31])
}

func TestDecodeHex(t *testing.T) {
	t.Parallel()

	b, err := DecodeHex("")
	require.NoError(t, err)
	assert.Empty(t, b)

	b, err = DecodeHex("0x")
	require.NoError(t, err)
	assert.Empty(t, b)

	b, err = DecodeHex("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	b, err = DecodeHex("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	_, err = DecodeHex("0xzz")
	assert.Error(t, err)
}

func TestSignatureString(t *testing.T) {
	t.Parallel()

	sig := make([]byte, 65)
	sig[0] = 0xaa
	sig[64] = 0 // recovery id form
	s, err := SignatureString(sig)
	require.NoError(t, err)
	assert.Len(t, s, 130)
	assert.Equal(t, "aa", s[:2])
	assert.Equal(t, "1b", s[128:]) // v normalized to 27

	sig[64] = 28
	s, err = SignatureString(sig)
	require.NoError(t, err)
	assert.Equal(t, "1c", s[128:])

	_, err = SignatureString(sig[:64])
	assert.Error(t, err)

	sig[64] = 5
	_, err = SignatureString(sig)
	assert.Error(t, err)
}

func TestShortChecksum(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	assert.Equal(t, "0x6B17…1d0F", ShortChecksum(addr, 4))
	assert.Equal(t, addr.Hex(), ShortChecksum(addr, 0))
	assert.Equal(t, addr.Hex(), ShortChecksum(addr, 40))
}

func TestShiftedString(t *testing.T) {
	t.Parallel()

	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", ShiftedString(v, 18))
	assert.Equal(t, "0.000005", ShiftedString(big.NewInt(5), 6))
	assert.Equal(t, "5", ShiftedString(big.NewInt(5), 0))
	assert.Equal(t, "0", ShiftedString(nil, 18))
	assert.Equal(t, "0", ShiftedString(big.NewInt(0), 18))
	assert.Equal(t, "123", ShiftedString(big.NewInt(123), 0))
}

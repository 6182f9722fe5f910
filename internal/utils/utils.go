package utils

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseBigInt accepts decimal or 0x-prefixed hex strings. Empty is zero.
func ParseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	clean := strings.TrimSpace(value)
	base := 10
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		base = 0
	}
	v, ok := new(big.Int).SetString(clean, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer: %s", value)
	}
	return v, nil
}

// LeftPad32 left-pads (or truncates from the left) to a 32-byte word.
func LeftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// DecodeHex decodes a hex string with or without 0x prefix. Empty decodes to
// an empty slice.
func DecodeHex(data string) ([]byte, error) {
	if data == "" || data == "0x" {
		return []byte{}, nil
	}
	if strings.HasPrefix(data, "0x") || strings.HasPrefix(data, "0X") {
		return hexutil.Decode(data)
	}
	decoded, err := hex.DecodeString(data)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// SignatureString packs a 65-byte signature as r||s||v hex without prefix,
// normalizing v to 27/28 the way the transaction service expects it.
func SignatureString(sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("invalid signature v: %d", sig[64])
	}
	packed := make([]byte, 65)
	copy(packed, sig[:64])
	packed[64] = v
	return hex.EncodeToString(packed), nil
}

// ShortChecksum renders an address as a middle-ellipsized checksum string,
// keeping chars leading and trailing characters of the hex body.
func ShortChecksum(addr common.Address, chars int) string {
	full := addr.Hex()
	body := full[2:]
	if chars <= 0 || len(body) <= chars*2 {
		return full
	}
	return "0x" + body[:chars] + "…" + body[len(body)-chars:]
}

// ShiftedString renders an integer amount shifted by decimals, trimming
// trailing zeros ("1500000000000000000", 18 -> "1.5").
func ShiftedString(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	s := amount.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if decimals <= 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

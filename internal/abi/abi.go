// Package abi encodes and decodes Solidity call data as hex strings.
//
// Encoding follows the standard head/tail layout: every argument owns one
// 32-byte head slot; dynamic arguments put an offset there and append their
// length-prefixed payload to the tail in argument order.
package abi

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gnosiskit/go-safe-authenticator/internal/utils"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// Word is the slot size of the ABI encoding.
const Word = 32

// Selector returns the 4-byte method id for a canonical signature like
// "transfer(address,uint256)".
func Selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// Value is a single encodable argument.
type Value interface {
	dynamic() bool
	// encode returns the head word for static values and the full
	// length-prefixed tail for dynamic ones.
	encode() ([]byte, error)
}

// Address encodes as a right-aligned 20-byte value in one word.
type Address common.Address

func (a Address) dynamic() bool { return false }

func (a Address) encode() ([]byte, error) {
	return utils.LeftPad32(common.Address(a).Bytes()), nil
}

// Uint is an unsigned integer of a declared bit width.
type Uint struct {
	Bits int
	V    *big.Int
}

func NewUint(bits int, v *big.Int) Uint {
	return Uint{Bits: bits, V: v}
}

func (u Uint) dynamic() bool { return false }

func (u Uint) encode() ([]byte, error) {
	v := u.V
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 {
		return nil, types.NewValidationError("uint", "negative value")
	}
	bits := u.Bits
	if bits == 0 {
		bits = 256
	}
	if v.BitLen() > bits {
		return nil, types.NewValidationError("uint", fmt.Sprintf("value exceeds uint%d", bits))
	}
	return utils.LeftPad32(v.Bytes()), nil
}

// Bytes32 is a fixed 32-byte value.
type Bytes32 [Word]byte

func (b Bytes32) dynamic() bool { return false }

func (b Bytes32) encode() ([]byte, error) { return b[:], nil }

// Bytes is a dynamic byte string.
type Bytes []byte

func (b Bytes) dynamic() bool { return true }

func (b Bytes) encode() ([]byte, error) {
	out := utils.LeftPad32(big.NewInt(int64(len(b))).Bytes())
	out = append(out, b...)
	if rem := len(b) % Word; rem != 0 {
		out = append(out, make([]byte, Word-rem)...)
	}
	return out, nil
}

// EncodeArgs produces the head/tail encoding for the argument list.
func EncodeArgs(args ...Value) ([]byte, error) {
	head := make([]byte, 0, len(args)*Word)
	tail := make([]byte, 0)
	tailBase := len(args) * Word
	for _, arg := range args {
		enc, err := arg.encode()
		if err != nil {
			return nil, err
		}
		if arg.dynamic() {
			offset := big.NewInt(int64(tailBase + len(tail)))
			head = append(head, utils.LeftPad32(offset.Bytes())...)
			tail = append(tail, enc...)
		} else {
			head = append(head, enc...)
		}
	}
	return append(head, tail...), nil
}

// EncodeCall builds 0x-prefixed call data for a canonical method signature.
func EncodeCall(signature string, args ...Value) (string, error) {
	enc, err := EncodeArgs(args...)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(append(Selector(signature), enc...)), nil
}

// Decoder reads typed values out of returned call data. The head slots are
// consumed in order; dynamic values are resolved through their offsets.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder parses 0x-prefixed (or bare) hex return data.
func NewDecoder(hexData string) (*Decoder, error) {
	raw, err := utils.DecodeHex(hexData)
	if err != nil {
		return nil, types.NewMalformedResponseError("invalid hex: %v", err)
	}
	if len(raw)%Word != 0 {
		return nil, types.NewMalformedResponseError("response length %d is not a multiple of %d", len(raw), Word)
	}
	return &Decoder{data: raw}, nil
}

func (d *Decoder) word() ([]byte, error) {
	w, err := d.wordAt(d.pos)
	if err != nil {
		return nil, err
	}
	d.pos += Word
	return w, nil
}

func (d *Decoder) wordAt(offset int) ([]byte, error) {
	if offset < 0 || offset+Word > len(d.data) {
		return nil, types.NewMalformedResponseError("slot at %d out of range (%d bytes)", offset, len(d.data))
	}
	return d.data[offset : offset+Word], nil
}

// Address consumes one head slot as a right-aligned address.
func (d *Decoder) Address() (common.Address, error) {
	w, err := d.word()
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(w[Word-common.AddressLength:]), nil
}

// Uint consumes one head slot as an unsigned integer.
func (d *Decoder) Uint() (*big.Int, error) {
	w, err := d.word()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// Uint64 consumes one head slot, failing if the value overflows 64 bits.
func (d *Decoder) Uint64() (uint64, error) {
	v, err := d.Uint()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, types.NewMalformedResponseError("value %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

// Bytes32 consumes one head slot verbatim.
func (d *Decoder) Bytes32() ([]byte, error) {
	w, err := d.word()
	if err != nil {
		return nil, err
	}
	out := make([]byte, Word)
	copy(out, w)
	return out, nil
}

// Bytes consumes one head slot as an offset and resolves the dynamic byte
// string it points at.
func (d *Decoder) Bytes() ([]byte, error) {
	base, err := d.offset()
	if err != nil {
		return nil, err
	}
	lenWord, err := d.wordAt(base)
	if err != nil {
		return nil, err
	}
	length := new(big.Int).SetBytes(lenWord)
	if !length.IsInt64() || length.Int64() > int64(len(d.data)-base-Word) {
		return nil, types.NewMalformedResponseError("bytes length %s out of range", length)
	}
	n := int(length.Int64())
	out := make([]byte, n)
	copy(out, d.data[base+Word:base+Word+n])
	return out, nil
}

// Addresses consumes one head slot as an offset and resolves a dynamic
// address array.
func (d *Decoder) Addresses() ([]common.Address, error) {
	base, err := d.offset()
	if err != nil {
		return nil, err
	}
	lenWord, err := d.wordAt(base)
	if err != nil {
		return nil, err
	}
	length := new(big.Int).SetBytes(lenWord)
	if !length.IsInt64() || length.Int64() > int64((len(d.data)-base-Word)/Word) {
		return nil, types.NewMalformedResponseError("array length %s out of range", length)
	}
	n := int(length.Int64())
	out := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		w, err := d.wordAt(base + Word + i*Word)
		if err != nil {
			return nil, err
		}
		out = append(out, common.BytesToAddress(w[Word-common.AddressLength:]))
	}
	return out, nil
}

func (d *Decoder) offset() (int, error) {
	w, err := d.word()
	if err != nil {
		return 0, err
	}
	off := new(big.Int).SetBytes(w)
	if !off.IsInt64() || int(off.Int64()) >= len(d.data) {
		return 0, types.NewMalformedResponseError("offset %s out of range (%d bytes)", off, len(d.data))
	}
	return int(off.Int64()), nil
}

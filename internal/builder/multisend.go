package builder

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosiskit/go-safe-authenticator/internal/utils"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

var multisendABI abi.ABI

func init() {
	const multisendJSON = `[{"constant":false,"inputs":[{"internalType":"bytes","name":"transactions","type":"bytes"}],"name":"multiSend","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}]`
	if err := json.Unmarshal([]byte(multisendJSON), &multisendABI); err != nil {
		panic(fmt.Sprintf("invalid multisend abi: %v", err))
	}
}

// Aggregate returns the transaction unchanged for a single entry and wraps
// longer lists into one multi-send delegate call.
func Aggregate(txns []types.SafeTx, multiSendAddress common.Address) (types.SafeTx, error) {
	if len(txns) == 1 {
		return txns[0], nil
	}
	return BuildMultiSend(txns, multiSendAddress)
}

// BuildMultiSend packs the ordered sub-transactions into a single SafeTx
// targeting the multi-send library with a delegate call.
func BuildMultiSend(txns []types.SafeTx, multiSendAddress common.Address) (types.SafeTx, error) {
	if len(txns) == 0 {
		return types.SafeTx{}, types.NewValidationError("transactions", "empty multi-send")
	}
	packed := encodePackedMultisend(txns)
	data, err := multisendABI.Pack("multiSend", packed)
	if err != nil {
		return types.SafeTx{}, fmt.Errorf("pack multisend: %w", err)
	}
	return types.SafeTx{
		To:        multiSendAddress,
		Value:     big.NewInt(0),
		Data:      data,
		Operation: types.OperationDelegateCall,
	}, nil
}

// Each entry is byte-packed, not 32-byte aligned: 1-byte operation, 20-byte
// to, 32-byte value, 32-byte data length, raw data.
func encodePackedMultisend(txns []types.SafeTx) []byte {
	out := make([]byte, 0)
	for _, tx := range txns {
		value := tx.Value
		if value == nil {
			value = big.NewInt(0)
		}
		out = append(out, byte(tx.Operation))
		out = append(out, tx.To.Bytes()...)
		out = append(out, utils.LeftPad32(value.Bytes())...)
		out = append(out, utils.LeftPad32(big.NewInt(int64(len(tx.Data))).Bytes())...)
		out = append(out, tx.Data...)
	}
	return out
}

// DecodeMultiSend recovers the ordered sub-transactions from multi-send call
// data produced by BuildMultiSend.
func DecodeMultiSend(data []byte) ([]types.SafeTx, error) {
	method := multisendABI.Methods["multiSend"]
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		return nil, types.NewMalformedResponseError("not a multiSend call")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, types.NewMalformedResponseError("unpack multisend: %v", err)
	}
	packed, ok := args[0].([]byte)
	if !ok {
		return nil, types.NewMalformedResponseError("unexpected multisend argument type")
	}

	var txns []types.SafeTx
	for pos := 0; pos < len(packed); {
		if pos+1+20+32+32 > len(packed) {
			return nil, types.NewMalformedResponseError("truncated multisend entry at %d", pos)
		}
		op := types.Operation(packed[pos])
		if op != types.OperationCall && op != types.OperationDelegateCall {
			return nil, types.NewMalformedResponseError("invalid operation %d at %d", packed[pos], pos)
		}
		pos++
		to := common.BytesToAddress(packed[pos : pos+20])
		pos += 20
		value := new(big.Int).SetBytes(packed[pos : pos+32])
		pos += 32
		dataLen := new(big.Int).SetBytes(packed[pos : pos+32])
		pos += 32
		if !dataLen.IsInt64() || pos+int(dataLen.Int64()) > len(packed) {
			return nil, types.NewMalformedResponseError("invalid data length %s at %d", dataLen, pos)
		}
		n := int(dataLen.Int64())
		txData := make([]byte, n)
		copy(txData, packed[pos:pos+n])
		pos += n

		txns = append(txns, types.SafeTx{To: to, Value: value, Data: txData, Operation: op})
	}
	return txns, nil
}

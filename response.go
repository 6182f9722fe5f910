package safeauth

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosiskit/go-safe-authenticator/internal/utils"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// serviceTransactionToLocal converts a transaction-service record into the
// domain model. Missing addresses fall back to the zero address, matching the
// service's representation of native transfers.
func serviceTransactionToLocal(wire types.ServiceTransaction) (types.ServiceSafeTx, error) {
	value, err := utils.ParseBigInt(wire.Value)
	if err != nil {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("transaction value: %v", err)
	}
	data, err := utils.DecodeHex(wire.Data)
	if err != nil {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("transaction data: %v", err)
	}
	if wire.Operation != int(types.OperationCall) && wire.Operation != int(types.OperationDelegateCall) {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("unsupported operation %d", wire.Operation)
	}

	baseGas, err := utils.ParseBigInt(wire.BaseGas)
	if err != nil {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("baseGas: %v", err)
	}
	txGas, err := utils.ParseBigInt(wire.SafeTxGas)
	if err != nil {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("safeTxGas: %v", err)
	}
	gasPrice, err := utils.ParseBigInt(wire.GasPrice)
	if err != nil {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("gasPrice: %v", err)
	}
	nonce, err := utils.ParseBigInt(wire.Nonce)
	if err != nil {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("nonce: %v", err)
	}

	confirmations := make([]types.Confirmation, 0, len(wire.Confirmations))
	for _, conf := range wire.Confirmations {
		confirmations = append(confirmations, types.Confirmation{
			Owner:     common.HexToAddress(conf.Owner),
			Signature: conf.Signature,
		})
	}

	return types.ServiceSafeTx{
		Hash: wire.SafeTxHash,
		Tx: types.SafeTx{
			To:        common.HexToAddress(wire.To),
			Value:     value,
			Data:      data,
			Operation: types.Operation(wire.Operation),
		},
		ExecInfo: types.SafeTxExecInfo{
			BaseGas:        baseGas,
			TxGas:          txGas,
			GasPrice:       gasPrice,
			GasToken:       common.HexToAddress(wire.GasToken),
			RefundReceiver: common.HexToAddress(wire.RefundReceiver),
			Nonce:          nonce,
		},
		Confirmations:   confirmations,
		Executed:        wire.IsExecuted,
		TransactionHash: wire.TransactionHash,
	}, nil
}

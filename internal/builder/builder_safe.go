package builder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gnosiskit/go-safe-authenticator/internal/utils"
	"github.com/gnosiskit/go-safe-authenticator/pkg/signer"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// EIP-712 type hashes of the deployed Safe master copy.
//
// DomainTypeHash = keccak256("EIP712Domain(address verifyingContract)");
// the legacy domain carries no chainId.
// SafeTxTypeHash = keccak256("SafeTx(address to,uint256 value,bytes data,
// uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,
// address gasToken,address refundReceiver,uint256 nonce)").
var (
	DomainTypeHash = common.HexToHash("0x035aff83d86937d35b32e04f0ddc6ff469290eef2f1b692d8a815c89404d4749")
	SafeTxTypeHash = common.HexToHash("0xbb8310d486368db6bd6f849402fdd73ad53d316b5a4b2644ad6efe0f941286d8")
)

func padBig(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return utils.LeftPad32(v.Bytes())
}

// SafeTransactionHash computes the canonical 32-byte hash the Safe contract
// recovers signatures against:
//
//	keccak(0x19 || 0x01 || keccak(DomainTypeHash ++ safe) || structHash)
//
// refundReceiver is hashed as the zero address regardless of its logical
// value; the deployed master copy behaves that way and the fixed-vector test
// locks it in.
func SafeTransactionHash(safe common.Address, tx types.SafeTx, exec types.SafeTxExecInfo) common.Hash {
	domainHash := crypto.Keccak256(
		DomainTypeHash.Bytes(),
		utils.LeftPad32(safe.Bytes()),
	)
	structHash := crypto.Keccak256(
		SafeTxTypeHash.Bytes(),
		utils.LeftPad32(tx.To.Bytes()),
		padBig(tx.Value),
		crypto.Keccak256(tx.Data),
		padBig(big.NewInt(int64(tx.Operation))),
		padBig(exec.TxGas),
		padBig(exec.BaseGas),
		padBig(exec.GasPrice),
		utils.LeftPad32(exec.GasToken.Bytes()),
		make([]byte, 32), // refundReceiver, see above
		padBig(exec.Nonce),
	)
	return common.BytesToHash(crypto.Keccak256(
		[]byte{0x19, 0x01},
		domainHash,
		structHash,
	))
}

// BuildConfirmationRequest hashes the transaction, signs the hash with the
// device key and assembles the transaction-service confirmation payload.
func BuildConfirmationRequest(s signer.Signer, safe common.Address, tx types.SafeTx, exec types.SafeTxExecInfo) (*types.ServiceTransactionRequest, common.Hash, error) {
	if s == nil {
		return nil, common.Hash{}, types.ErrSignerUnavailable
	}
	hash := SafeTransactionHash(safe, tx, exec)

	sig, err := s.SignHash(hash.Bytes())
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("sign safe tx: %w", err)
	}
	sigStr, err := utils.SignatureString(sig)
	if err != nil {
		return nil, common.Hash{}, err
	}

	return &types.ServiceTransactionRequest{
		To:               tx.To.Hex(),
		Value:            decimalOrZero(tx.Value),
		Data:             hexData(tx.Data),
		Operation:        int(tx.Operation),
		GasToken:         exec.GasToken.Hex(),
		SafeTxGas:        decimalOrZero(exec.TxGas),
		BaseGas:          decimalOrZero(exec.BaseGas),
		GasPrice:         decimalOrZero(exec.GasPrice),
		RefundReceiver:   exec.RefundReceiver.Hex(),
		Nonce:            decimalOrZero(exec.Nonce),
		SafeTxHash:       hash.Hex(),
		Sender:           s.Address().Hex(),
		ConfirmationType: types.ConfirmationTypeConfirmation,
		Signature:        sigStr,
	}, hash, nil
}

func decimalOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func hexData(data []byte) string {
	if len(data) == 0 {
		return "0x"
	}
	return "0x" + common.Bytes2Hex(data)
}

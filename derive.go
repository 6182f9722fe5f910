package safeauth

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// DeriveState computes the lifecycle state of a tracked Safe transaction
// from the relayer record, the on-chain snapshot and the device identity.
//
// The checks are ordered: execution and nonce supersession always win over
// the device's own confirmation status.
func DeriveState(record types.ServiceSafeTx, info types.SafeInfo, device common.Address) types.SubmissionState {
	switch {
	case record.Executed:
		return types.StateExecuted
	case record.ExecInfo.Nonce != nil && info.CurrentNonce != nil &&
		record.ExecInfo.Nonce.Cmp(info.CurrentNonce) < 0:
		// A transaction at an already-consumed nonce can never execute.
		return types.StateCanceled
	case record.HasConfirmed(device):
		return types.StateConfirmed
	case info.IsOwner(device):
		return types.StateAwaitingConfirmation
	default:
		return types.StatePending
	}
}

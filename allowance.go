package safeauth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	intabi "github.com/gnosiskit/go-safe-authenticator/internal/abi"
	"github.com/gnosiskit/go-safe-authenticator/internal/utils"
	"github.com/gnosiskit/go-safe-authenticator/pkg/logger"
	"github.com/gnosiskit/go-safe-authenticator/pkg/rpc"
	"github.com/gnosiskit/go-safe-authenticator/pkg/store"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// ExecuteAllowanceTransferTopic is the topic0 of the allowance module's
// transfer-executed event. The safe is the only indexed argument; delegate,
// token, receiver, value and nonce live in the log data.
var ExecuteAllowanceTransferTopic = crypto.Keccak256Hash(
	[]byte("ExecuteAllowanceTransfer(address,address,address,address,uint96,uint16)"),
)

const delegatePageSize = 100

// LoadAllowanceDelegates enumerates the delegates registered on the
// allowance module for the Safe.
func (c *Client) LoadAllowanceDelegates(ctx context.Context, safe common.Address) ([]common.Address, error) {
	data, err := intabi.EncodeCall("getDelegates(address,uint48,uint8)",
		intabi.Address(safe),
		intabi.NewUint(48, big.NewInt(0)),
		intabi.NewUint(8, big.NewInt(delegatePageSize)),
	)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.Call(ctx, rpc.EthCall(1, c.cfg.AllowanceModule, data))
	if err != nil {
		return nil, fmt.Errorf("load delegates: %w", err)
	}
	result, err := resp.ResultString()
	if err != nil {
		return nil, err
	}
	dec, err := intabi.NewDecoder(result)
	if err != nil {
		return nil, err
	}
	// returns (address[] results, uint48 next); only the page is used
	return dec.Addresses()
}

// LoadAllowances reads the device's allowances on the Safe: one call
// enumerates the delegate's tokens, then one batched call per token reads
// the allowance tuple. The tuple order is fixed by the module's read method
// (amount, spent, resetPeriod, lastSpent, nonce).
func (c *Client) LoadAllowances(ctx context.Context, safe common.Address) ([]types.Allowance, error) {
	delegate, err := c.DeviceAddress()
	if err != nil {
		return nil, err
	}
	tokensData, err := intabi.EncodeCall("getTokens(address,address)",
		intabi.Address(safe), intabi.Address(delegate))
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.Call(ctx, rpc.EthCall(1, c.cfg.AllowanceModule, tokensData))
	if err != nil {
		return nil, fmt.Errorf("load allowance tokens: %w", err)
	}
	result, err := resp.ResultString()
	if err != nil {
		return nil, err
	}
	dec, err := intabi.NewDecoder(result)
	if err != nil {
		return nil, err
	}
	tokens, err := dec.Addresses()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	reqs := make([]rpc.Request, 0, len(tokens))
	for i, token := range tokens {
		data, err := intabi.EncodeCall("getTokenAllowance(address,address,address)",
			intabi.Address(safe), intabi.Address(delegate), intabi.Address(token))
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, rpc.EthCall(i, c.cfg.AllowanceModule, data))
	}
	resps, err := c.rpc.CallBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("load allowances: %w", err)
	}

	out := make([]types.Allowance, 0, len(tokens))
	for i, r := range resps {
		allowance, err := decodeAllowance(tokens[i], r)
		if err != nil {
			return nil, err
		}
		out = append(out, allowance)
	}
	return out, nil
}

func decodeAllowance(token common.Address, resp rpc.Response) (types.Allowance, error) {
	result, err := resp.ResultString()
	if err != nil {
		return types.Allowance{}, err
	}
	dec, err := intabi.NewDecoder(result)
	if err != nil {
		return types.Allowance{}, err
	}
	amount, err := dec.Uint()
	if err != nil {
		return types.Allowance{}, err
	}
	spent, err := dec.Uint()
	if err != nil {
		return types.Allowance{}, err
	}
	resetPeriod, err := dec.Uint64()
	if err != nil {
		return types.Allowance{}, err
	}
	lastSpent, err := dec.Uint64()
	if err != nil {
		return types.Allowance{}, err
	}
	nonce, err := dec.Uint()
	if err != nil {
		return types.Allowance{}, err
	}
	return types.Allowance{
		Token:       token,
		Amount:      amount,
		Spent:       spent,
		ResetPeriod: resetPeriod,
		LastSpent:   lastSpent,
		Nonce:       nonce,
	}, nil
}

// instantTransferHash asks the module for the transfer hash. The allowance
// nonce is passed through unmodified; the module advances it on execution.
func (c *Client) instantTransferHash(ctx context.Context, safe, token, to common.Address, amount, nonce *big.Int) ([]byte, error) {
	data, err := intabi.EncodeCall(
		"generateTransferHash(address,address,address,uint96,address,uint96,uint16)",
		intabi.Address(safe),
		intabi.Address(token),
		intabi.Address(to),
		intabi.NewUint(96, amount),
		intabi.Address(types.ZeroAddress), // payment token
		intabi.NewUint(96, big.NewInt(0)), // payment
		intabi.NewUint(16, nonce),
	)
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.Call(ctx, rpc.EthCall(1, c.cfg.AllowanceModule, data))
	if err != nil {
		return nil, fmt.Errorf("transfer hash: %w", err)
	}
	result, err := resp.ResultString()
	if err != nil {
		return nil, err
	}
	dec, err := intabi.NewDecoder(result)
	if err != nil {
		return nil, err
	}
	return dec.Bytes32()
}

// PerformInstantTransfer signs an allowance transfer and submits it to the
// instant-transfer service, then records it in the local ledger keyed by the
// returned transaction hash. The ledger insert is idempotent, so retrying a
// submission never duplicates rows.
func (c *Client) PerformInstantTransfer(ctx context.Context, safe, delegate common.Address, allowance types.Allowance, to common.Address, amount *big.Int) (string, error) {
	if c.signer == nil {
		return "", types.ErrSignerUnavailable
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", types.NewValidationError("amount", "not a positive amount")
	}
	if amount.Cmp(allowance.Remaining()) > 0 {
		return "", types.NewValidationError("amount", "exceeds remaining allowance")
	}

	hash, err := c.instantTransferHash(ctx, safe, allowance.Token, to, amount, allowance.Nonce)
	if err != nil {
		return "", err
	}
	sig, err := c.signer.SignHash(hash)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	sigStr, err := utils.SignatureString(sig)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(types.InstantTransferRequest{
		Target:    to.Hex(),
		Amount:    amount.String(),
		Signature: "0x" + sigStr,
	})
	if err != nil {
		return "", fmt.Errorf("encode transfer: %w", err)
	}

	path := fmt.Sprintf(InstantTransferEndpoint, safe.Hex(), delegate.Hex(), allowance.Token.Hex())
	var resp types.InstantTransferResponse
	err = c.send(ctx, http.MethodPost, c.cfg.InstantTransferServiceURL+path, &RequestOptions{
		Body:           payload,
		StatusMessages: map[int]string{http.StatusNotFound: "unknown safe or delegate"},
	}, &resp)
	if err != nil {
		return "", err
	}

	if c.ledger != nil {
		err := c.ledger.InsertInstantTransfer(store.InstantTransferRecord{
			TxHash: resp.Hash,
			Token:  allowance.Token,
			To:     to,
			Amount: amount,
			Nonce:  allowance.Nonce,
		})
		if err != nil {
			logger.Warn("ledger insert for %s failed: %v", resp.Hash, err)
		}
	}
	return resp.Hash, nil
}

// LoadInstantTransfers reconciles the local ledger against the module's
// execution logs. Rows whose hash appears on-chain are dropped from the
// ledger; the result is the remaining local rows (unmined) followed by the
// on-chain transfers (mined), most recent first.
func (c *Client) LoadInstantTransfers(ctx context.Context, safe common.Address) ([]types.InstantTransfer, error) {
	logs, err := c.rpc.Logs(ctx, rpc.GetLogs(1, rpc.LogFilter{
		FromBlock: c.cfg.AllowanceLogStart,
		Address:   c.cfg.AllowanceModule.Hex(),
		Topics:    []string{ExecuteAllowanceTransferTopic.Hex()},
	}))
	if err != nil {
		return nil, fmt.Errorf("load transfer logs: %w", err)
	}

	type minedTransfer struct {
		txHash string
		token  common.Address
		to     common.Address
		amount *big.Int
	}
	var mined []minedTransfer
	for _, l := range logs {
		if len(l.Topics) < 2 || common.HexToAddress(l.Topics[1]) != safe {
			continue
		}
		dec, err := intabi.NewDecoder(l.Data)
		if err != nil {
			return nil, err
		}
		if _, err := dec.Address(); err != nil { // delegate, unused
			return nil, err
		}
		token, err := dec.Address()
		if err != nil {
			return nil, err
		}
		to, err := dec.Address()
		if err != nil {
			return nil, err
		}
		amount, err := dec.Uint()
		if err != nil {
			return nil, err
		}
		mined = append(mined, minedTransfer{txHash: l.TransactionHash, token: token, to: to, amount: amount})
	}

	if c.ledger != nil {
		for _, m := range mined {
			if err := c.ledger.DeleteInstantTransfer(m.txHash); err != nil {
				logger.Warn("ledger delete for %s failed: %v", m.txHash, err)
			}
		}
	}

	var out []types.InstantTransfer
	if c.ledger != nil {
		local, err := c.ledger.LoadInstantTransfers()
		if err != nil {
			return nil, fmt.Errorf("load ledger: %w", err)
		}
		for _, rec := range local {
			out = append(out, types.InstantTransfer{
				TxHash:    rec.TxHash,
				Token:     rec.Token,
				TokenInfo: c.tokenInfoOrNil(ctx, rec.Token),
				To:        rec.To,
				Amount:    rec.Amount,
				Mined:     false,
			})
		}
	}
	for i := len(mined) - 1; i >= 0; i-- {
		m := mined[i]
		out = append(out, types.InstantTransfer{
			TxHash:    m.txHash,
			Token:     m.token,
			TokenInfo: c.tokenInfoOrNil(ctx, m.token),
			To:        m.to,
			Amount:    m.amount,
			Mined:     true,
		})
	}
	return out, nil
}

// tokenInfoOrNil degrades gracefully: a failed metadata fetch yields nil
// rather than failing the whole listing.
func (c *Client) tokenInfoOrNil(ctx context.Context, token common.Address) *types.TokenInfo {
	info, err := c.LoadTokenInfo(ctx, token)
	if err != nil {
		logger.Debug("token info for %s unavailable: %v", token.Hex(), err)
		return nil
	}
	return &info
}

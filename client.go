// Package safeauth implements the Safe transaction and session protocol
// engine: loading Safe state, deriving transaction lifecycle states,
// confirming transactions against the transaction service, and managing
// allowance-module delegated transfers.
package safeauth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	intabi "github.com/gnosiskit/go-safe-authenticator/internal/abi"
	"github.com/gnosiskit/go-safe-authenticator/internal/builder"
	"github.com/gnosiskit/go-safe-authenticator/pkg/rpc"
	"github.com/gnosiskit/go-safe-authenticator/pkg/signer"
	"github.com/gnosiskit/go-safe-authenticator/pkg/store"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// InstantTransferLedger is the persistent write-ahead cache for submitted
// instant transfers. Inserts must be idempotent per transaction hash.
type InstantTransferLedger interface {
	InsertInstantTransfer(rec store.InstantTransferRecord) error
	LoadInstantTransfers() ([]store.InstantTransferRecord, error)
	DeleteInstantTransfer(txHash string) error
}

// TokenCache persists token metadata between runs.
type TokenCache interface {
	PutTokenInfo(info store.CachedTokenInfo) error
	GetTokenInfo(token common.Address) (*store.CachedTokenInfo, error)
}

// Client provides access to Safe on-chain state, the transaction service and
// the allowance module.
type Client struct {
	cfg        ChainConfig
	rpc        *rpc.Client
	httpClient *HTTPClient
	signer     signer.Signer
	ledger     InstantTransferLedger
	tokenCache TokenCache
	startedAt  int64
}

// NewClient wires an engine client. The signer is the device key; ledger and
// cache may come from pkg/store or any other implementation.
func NewClient(cfg ChainConfig, s signer.Signer, ledger InstantTransferLedger, cache TokenCache) (*Client, error) {
	if !cfg.IsValid() {
		return nil, types.ErrConfigUnsupported
	}
	return &Client{
		cfg:        cfg,
		rpc:        rpc.NewClient(cfg.RPCURL, nil),
		httpClient: NewHTTPClient(nil),
		signer:     s,
		ledger:     ledger,
		tokenCache: cache,
		startedAt:  time.Now().UnixMilli(),
	}, nil
}

// SetHTTPClient allows overriding the underlying HTTP client.
func (c *Client) SetHTTPClient(client *HTTPClient) {
	if client != nil {
		c.httpClient = client
	}
}

// SetRPCClient allows overriding the chain RPC client.
func (c *Client) SetRPCClient(client *rpc.Client) {
	if client != nil {
		c.rpc = client
	}
}

// DeviceAddress returns the device key address, the identity used for
// confirmations and allowance delegation.
func (c *Client) DeviceAddress() (common.Address, error) {
	if c.signer == nil {
		return common.Address{}, types.ErrSignerUnavailable
	}
	return c.signer.Address(), nil
}

// LoadSafeInfo assembles the Safe snapshot from one 4-call batch: the master
// copy (raw storage slot 0), getOwners, getThreshold and nonce.
func (c *Client) LoadSafeInfo(ctx context.Context, safe common.Address) (types.SafeInfo, error) {
	ownersData, err := intabi.EncodeCall("getOwners()")
	if err != nil {
		return types.SafeInfo{}, err
	}
	thresholdData, err := intabi.EncodeCall("getThreshold()")
	if err != nil {
		return types.SafeInfo{}, err
	}
	nonceData, err := intabi.EncodeCall("nonce()")
	if err != nil {
		return types.SafeInfo{}, err
	}

	resps, err := c.rpc.CallBatch(ctx, []rpc.Request{
		rpc.GetStorageAt(0, safe, 0),
		rpc.EthCall(1, safe, ownersData),
		rpc.EthCall(2, safe, thresholdData),
		rpc.EthCall(3, safe, nonceData),
	})
	if err != nil {
		return types.SafeInfo{}, fmt.Errorf("load safe info: %w", err)
	}

	masterCopyHex, err := resps[0].ResultString()
	if err != nil {
		return types.SafeInfo{}, fmt.Errorf("master copy: %w", err)
	}
	masterCopy := common.HexToAddress(masterCopyHex)

	ownersResult, err := resps[1].ResultString()
	if err != nil {
		return types.SafeInfo{}, fmt.Errorf("owners: %w", err)
	}
	ownersDec, err := intabi.NewDecoder(ownersResult)
	if err != nil {
		return types.SafeInfo{}, err
	}
	owners, err := ownersDec.Addresses()
	if err != nil {
		return types.SafeInfo{}, err
	}

	thresholdResult, err := resps[2].ResultString()
	if err != nil {
		return types.SafeInfo{}, fmt.Errorf("threshold: %w", err)
	}
	thresholdDec, err := intabi.NewDecoder(thresholdResult)
	if err != nil {
		return types.SafeInfo{}, err
	}
	threshold, err := thresholdDec.Uint64()
	if err != nil {
		return types.SafeInfo{}, err
	}

	nonceResult, err := resps[3].ResultString()
	if err != nil {
		return types.SafeInfo{}, fmt.Errorf("nonce: %w", err)
	}
	nonceDec, err := intabi.NewDecoder(nonceResult)
	if err != nil {
		return types.SafeInfo{}, err
	}
	nonce, err := nonceDec.Uint()
	if err != nil {
		return types.SafeInfo{}, err
	}

	return types.SafeInfo{
		Address:      safe,
		MasterCopy:   masterCopy,
		Owners:       owners,
		Threshold:    threshold,
		CurrentNonce: nonce,
	}, nil
}

// LoadSafeNonce reads only the current on-chain nonce.
func (c *Client) LoadSafeNonce(ctx context.Context, safe common.Address) (*big.Int, error) {
	nonceData, err := intabi.EncodeCall("nonce()")
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.Call(ctx, rpc.EthCall(1, safe, nonceData))
	if err != nil {
		return nil, fmt.Errorf("load safe nonce: %w", err)
	}
	result, err := resp.ResultString()
	if err != nil {
		return nil, err
	}
	dec, err := intabi.NewDecoder(result)
	if err != nil {
		return nil, err
	}
	return dec.Uint()
}

// LoadModules enumerates the modules enabled on the Safe.
func (c *Client) LoadModules(ctx context.Context, safe common.Address) ([]common.Address, error) {
	data, err := intabi.EncodeCall("getModules()")
	if err != nil {
		return nil, err
	}
	resp, err := c.rpc.Call(ctx, rpc.EthCall(1, safe, data))
	if err != nil {
		return nil, fmt.Errorf("load modules: %w", err)
	}
	result, err := resp.ResultString()
	if err != nil {
		return nil, err
	}
	dec, err := intabi.NewDecoder(result)
	if err != nil {
		return nil, err
	}
	return dec.Addresses()
}

// LoadPendingTransactions lists the Safe's transactions as tracked by the
// transaction service, newest first.
func (c *Client) LoadPendingTransactions(ctx context.Context, safe common.Address) ([]types.ServiceSafeTx, error) {
	var page types.PaginatedResult
	path := fmt.Sprintf(SafeTransactionsEndpoint, safe.Hex())
	if err := c.txService(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	out := make([]types.ServiceSafeTx, 0, len(page.Results))
	for _, wire := range page.Results {
		local, err := serviceTransactionToLocal(wire)
		if err != nil {
			return nil, err
		}
		out = append(out, local)
	}
	return out, nil
}

// LoadPendingTransaction fetches a single tracked transaction by safe tx hash.
func (c *Client) LoadPendingTransaction(ctx context.Context, safeTxHash string) (types.ServiceSafeTx, error) {
	var wire types.ServiceTransaction
	path := fmt.Sprintf(TransactionEndpoint, safeTxHash)
	if err := c.txService(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return types.ServiceSafeTx{}, err
	}
	return serviceTransactionToLocal(wire)
}

// ConfirmSafeTransaction signs the transaction hash with the device key and
// submits the confirmation to the transaction service. A transaction whose
// nonce is already consumed on-chain is refused with ErrNonceSuperseded
// instead of being resubmitted.
func (c *Client) ConfirmSafeTransaction(ctx context.Context, safe common.Address, tx types.SafeTx, exec types.SafeTxExecInfo) error {
	if c.signer == nil {
		return types.ErrSignerUnavailable
	}
	current, err := c.LoadSafeNonce(ctx, safe)
	if err != nil {
		return err
	}
	if exec.Nonce != nil && exec.Nonce.Cmp(current) < 0 {
		return fmt.Errorf("%w: tx nonce %s, current %s", types.ErrNonceSuperseded, exec.Nonce, current)
	}

	request, _, err := builder.BuildConfirmationRequest(c.signer, safe, tx, exec)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	path := fmt.Sprintf(SafeTransactionsEndpoint, safe.Hex())
	return c.send(ctx, http.MethodPost, c.cfg.TransactionServiceURL+path, &RequestOptions{
		Body:           payload,
		StatusMessages: map[int]string{http.StatusNotFound: "unknown safe"},
	}, nil)
}

// BuildMultiSend wraps the ordered sub-transactions into one delegate call
// to the configured multi-send library.
func (c *Client) BuildMultiSend(txns []types.SafeTx) (types.SafeTx, error) {
	return builder.BuildMultiSend(txns, c.cfg.MultiSend)
}

// SafeTransactionHash computes the canonical hash a Safe recovers
// confirmation signatures against.
func SafeTransactionHash(safe common.Address, tx types.SafeTx, exec types.SafeTxExecInfo) common.Hash {
	return builder.SafeTransactionHash(safe, tx, exec)
}

func (c *Client) txService(ctx context.Context, method, path string, body []byte, out interface{}) error {
	opts := &RequestOptions{
		Body:           body,
		StatusMessages: map[int]string{http.StatusNotFound: "unknown safe"},
	}
	return c.send(ctx, method, c.cfg.TransactionServiceURL+path, opts, out)
}

func (c *Client) send(ctx context.Context, method, url string, opts *RequestOptions, out interface{}) error {
	return c.httpClient.Do(ctx, method, url, opts, out)
}

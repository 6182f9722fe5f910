// Package rpc is a minimal JSON-RPC 2.0 client for chain reads. It supports
// single and batched requests; batch responses are matched back to their
// requests by id because the remote end is not required to preserve order.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// Request is a single JSON-RPC call with a caller-assigned id.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// NewRequest builds a 2.0 request.
func NewRequest(id int, method string, params ...interface{}) Request {
	if params == nil {
		params = []interface{}{}
	}
	return Request{JSONRPC: "2.0", Method: method, Params: params, ID: id}
}

// Error is the error member of a JSON-RPC response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response carries the per-item result. In a batch, a failed item does not
// fail its siblings; each response carries its own optional error.
type Response struct {
	ID      int             `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Error   *Error          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result"`
}

// ResultString unmarshals the result as a hex string, surfacing the item's
// own error first.
func (r Response) ResultString() (string, error) {
	if r.Error != nil {
		return "", r.Error
	}
	var s string
	if err := json.Unmarshal(r.Result, &s); err != nil {
		return "", types.NewMalformedResponseError("non-string rpc result: %v", err)
	}
	return s, nil
}

// Log is one eth_getLogs entry.
type Log struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	TransactionHash string   `json:"transactionHash"`
}

// LogFilter restricts an eth_getLogs query.
type LogFilter struct {
	FromBlock string   `json:"fromBlock,omitempty"`
	ToBlock   string   `json:"toBlock,omitempty"`
	Address   string   `json:"address,omitempty"`
	Topics    []string `json:"topics,omitempty"`
}

type callMsg struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// EthCall builds an eth_call request against the latest block.
func EthCall(id int, to common.Address, data string) Request {
	return NewRequest(id, "eth_call", callMsg{To: to.Hex(), Data: data}, "latest")
}

// GetStorageAt builds an eth_getStorageAt request for a raw slot.
func GetStorageAt(id int, addr common.Address, slot int64) Request {
	return NewRequest(id, "eth_getStorageAt", addr.Hex(), hexutil.EncodeUint64(uint64(slot)), "latest")
}

// GetLogs builds an eth_getLogs request.
func GetLogs(id int, filter LogFilter) Request {
	return NewRequest(id, "eth_getLogs", filter)
}

// Client posts requests to a single JSON-RPC endpoint.
type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(endpoint string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{endpoint: endpoint, client: client}
}

// Call issues a single request.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	var resp Response
	if err := c.post(ctx, req, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// CallBatch issues up to a handful of requests as one JSON array. The
// returned slice is ordered like the input regardless of how the remote end
// ordered its answers.
func (c *Client) CallBatch(ctx context.Context, reqs []Request) ([]Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	var resps []Response
	if err := c.post(ctx, reqs, &resps); err != nil {
		return nil, err
	}
	byID := make(map[int]Response, len(resps))
	for _, r := range resps {
		byID[r.ID] = r
	}
	out := make([]Response, 0, len(reqs))
	for _, req := range reqs {
		r, ok := byID[req.ID]
		if !ok {
			return nil, types.NewMalformedResponseError("no batch response for id %d", req.ID)
		}
		out = append(out, r)
	}
	return out, nil
}

// Logs issues an eth_getLogs request and decodes the entries.
func (c *Client) Logs(ctx context.Context, req Request) ([]Log, error) {
	resp, err := c.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	var logs []Log
	if err := json.Unmarshal(resp.Result, &logs); err != nil {
		return nil, types.NewMalformedResponseError("invalid logs result: %v", err)
	}
	return logs, nil
}

func (c *Client) post(ctx context.Context, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", types.ErrNetworkUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &types.RemoteError{StatusCode: resp.StatusCode, Body: string(respBytes)}
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return types.NewMalformedResponseError("invalid rpc response: %v", err)
	}
	return nil
}

package safeauth

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnosiskit/go-safe-authenticator/internal/builder"
	"github.com/gnosiskit/go-safe-authenticator/pkg/rpc"
	"github.com/gnosiskit/go-safe-authenticator/pkg/signer"
	"github.com/gnosiskit/go-safe-authenticator/pkg/store"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

var (
	testSafe  = common.HexToAddress("0x1C8b9B78e3085866521FE206fa4c1a67F49f153A")
	testOwner = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func word(hex string) string {
	return strings.Repeat("0", 64-len(hex)) + hex
}

func addressWord(addr common.Address) string {
	return word(strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x")))
}

// rpcStub answers JSON-RPC single and batch posts from a per-id result table.
func rpcStub(t *testing.T, results map[int]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		answer := func(req rpc.Request) map[string]interface{} {
			result, ok := results[req.ID]
			if !ok {
				t.Errorf("unexpected rpc id %d (%s)", req.ID, req.Method)
				result = "0x"
			}
			return map[string]interface{}{"id": req.ID, "jsonrpc": "2.0", "result": result}
		}

		if raw[0] == '[' {
			var reqs []rpc.Request
			require.NoError(t, json.Unmarshal(raw, &reqs))
			// answer in reverse order to exercise id-based rematching
			out := make([]map[string]interface{}, 0, len(reqs))
			for i := len(reqs) - 1; i >= 0; i-- {
				out = append(out, answer(reqs[i]))
			}
			require.NoError(t, json.NewEncoder(w).Encode(out))
			return
		}
		var req rpc.Request
		require.NoError(t, json.Unmarshal(raw, &req))
		require.NoError(t, json.NewEncoder(w).Encode(answer(req)))
	}))
}

func newTestClient(t *testing.T, s signer.Signer, rpcURL string) *Client {
	t.Helper()
	cfg := mainnetConfig
	cfg.RPCURL = rpcURL
	cfg.TransactionServiceURL = "https://txservice.test"
	cfg.InstantTransferServiceURL = "https://transfers.test"
	client, err := NewClient(cfg, s, nil, nil)
	require.NoError(t, err)
	return client
}

func TestNewClient_RejectsIncompleteConfig(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ChainConfig{ChainID: 99}, nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrConfigUnsupported)
}

func TestLoadSafeInfo(t *testing.T) {
	t.Parallel()

	masterCopy := common.HexToAddress("0x34CfAC646f301356fAa8B21e94227e3583Fe3F5F")
	srv := rpcStub(t, map[int]string{
		0: "0x" + addressWord(masterCopy),
		1: "0x" + word("20") + word("2") + addressWord(testOwner) + addressWord(testSafe),
		2: "0x" + word("2"),
		3: "0x" + word("b"),
	})
	defer srv.Close()

	client := newTestClient(t, nil, srv.URL)

	info, err := client.LoadSafeInfo(context.Background(), testSafe)
	require.NoError(t, err)
	assert.Equal(t, testSafe, info.Address)
	assert.Equal(t, masterCopy, info.MasterCopy)
	assert.Equal(t, []common.Address{testOwner, testSafe}, info.Owners)
	assert.Equal(t, uint64(2), info.Threshold)
	assert.Equal(t, int64(11), info.CurrentNonce.Int64())
	assert.True(t, info.IsOwner(testOwner))
	assert.False(t, info.IsOwner(common.HexToAddress("0x99")))
}

func TestLoadModules(t *testing.T) {
	t.Parallel()

	module := mainnetConfig.AllowanceModule
	srv := rpcStub(t, map[int]string{
		1: "0x" + word("20") + word("1") + addressWord(module),
	})
	defer srv.Close()

	client := newTestClient(t, nil, srv.URL)
	modules, err := client.LoadModules(context.Background(), testSafe)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{module}, modules)
}

func TestConfirmSafeTransaction_NonceGuard(t *testing.T) {
	t.Parallel()

	device, err := signer.Generate()
	require.NoError(t, err)

	srv := rpcStub(t, map[int]string{1: "0x" + word("a")}) // current nonce 10
	defer srv.Close()

	client := newTestClient(t, device, srv.URL)
	posted := false
	client.SetHTTPClient(NewHTTPClient(&http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		posted = true
		return newResponse(http.StatusCreated, `{}`, nil), nil
	})}))

	tx := types.SafeTx{To: testOwner, Operation: types.OperationCall}
	exec := types.SafeTxExecInfo{Nonce: big.NewInt(4)}

	err = client.ConfirmSafeTransaction(context.Background(), testSafe, tx, exec)
	assert.ErrorIs(t, err, types.ErrNonceSuperseded)
	assert.False(t, posted, "superseded transaction must not reach the service")
}

func TestConfirmSafeTransaction_SubmitsSignedRequest(t *testing.T) {
	t.Parallel()

	device, err := signer.Generate()
	require.NoError(t, err)

	srv := rpcStub(t, map[int]string{1: "0x" + word("4")})
	defer srv.Close()

	client := newTestClient(t, device, srv.URL)

	var captured types.ServiceTransactionRequest
	var path string
	client.SetHTTPClient(NewHTTPClient(&http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		path = req.URL.Path
		require.NoError(t, json.NewDecoder(req.Body).Decode(&captured))
		return newResponse(http.StatusCreated, `{}`, nil), nil
	})}))

	tx := types.SafeTx{To: testOwner, Value: big.NewInt(1), Operation: types.OperationCall}
	exec := types.SafeTxExecInfo{Nonce: big.NewInt(4)}

	require.NoError(t, client.ConfirmSafeTransaction(context.Background(), testSafe, tx, exec))

	assert.Equal(t, fmt.Sprintf("/v1/safes/%s/transactions/", testSafe.Hex()), path)
	want := builder.SafeTransactionHash(testSafe, tx, exec)
	assert.Equal(t, want.Hex(), captured.SafeTxHash)
	assert.Equal(t, device.Address().Hex(), captured.Sender)
	assert.Equal(t, types.ConfirmationTypeConfirmation, captured.ConfirmationType)

	sig := common.Hex2Bytes(captured.Signature)
	require.Len(t, sig, 65)
	sig[64] -= 27
	pub, err := crypto.SigToPub(want.Bytes(), sig)
	require.NoError(t, err)
	assert.Equal(t, device.Address(), crypto.PubkeyToAddress(*pub))
}

func TestConfirmSafeTransaction_NoSigner(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil, "http://127.0.0.1:0")
	err := client.ConfirmSafeTransaction(context.Background(), testSafe, types.SafeTx{}, types.SafeTxExecInfo{})
	assert.ErrorIs(t, err, types.ErrSignerUnavailable)
}

func TestLoadPendingTransactions(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil, "http://127.0.0.1:0")
	client.SetHTTPClient(NewHTTPClient(&http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, fmt.Sprintf("/v1/safes/%s/transactions/", testSafe.Hex()), req.URL.Path)
		page := types.PaginatedResult{
			Count: 1,
			Results: []types.ServiceTransaction{{
				To:             testOwner.Hex(),
				Value:          "1000",
				Data:           "0x",
				Operation:      0,
				GasToken:       types.ZeroAddress.Hex(),
				SafeTxGas:      "0",
				BaseGas:        "0",
				GasPrice:       "0",
				RefundReceiver: types.ZeroAddress.Hex(),
				Nonce:          "5",
				SafeTxHash:     "0xfeed",
				Confirmations: []types.ServiceConfirmation{
					{Owner: testOwner.Hex(), Signature: "0xsig"},
				},
			}},
		}
		raw, err := json.Marshal(page)
		require.NoError(t, err)
		return newResponse(http.StatusOK, string(raw), nil), nil
	})}))

	txns, err := client.LoadPendingTransactions(context.Background(), testSafe)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "0xfeed", txns[0].Hash)
	assert.Equal(t, testOwner, txns[0].Tx.To)
	assert.Equal(t, int64(1000), txns[0].Tx.Value.Int64())
	assert.Equal(t, int64(5), txns[0].ExecInfo.Nonce.Int64())
	assert.True(t, txns[0].HasConfirmed(testOwner))
}

func TestLoadPendingTransactions_RejectsBadOperation(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil, "http://127.0.0.1:0")
	client.SetHTTPClient(NewHTTPClient(&http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{"count":1,"results":[{"to":"0x01","value":"0","operation":7,"nonce":"0"}]}`, nil), nil
	})}))

	_, err := client.LoadPendingTransactions(context.Background(), testSafe)
	assert.True(t, types.IsMalformedResponse(err))
}

// fakeLedger is an in-memory InstantTransferLedger.
type fakeLedger struct {
	records map[string]store.InstantTransferRecord
	order   []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]store.InstantTransferRecord{}}
}

func (l *fakeLedger) InsertInstantTransfer(rec store.InstantTransferRecord) error {
	if _, ok := l.records[rec.TxHash]; ok {
		return nil
	}
	l.records[rec.TxHash] = rec
	l.order = append(l.order, rec.TxHash)
	return nil
}

func (l *fakeLedger) LoadInstantTransfers() ([]store.InstantTransferRecord, error) {
	out := make([]store.InstantTransferRecord, 0, len(l.records))
	for _, h := range l.order {
		if rec, ok := l.records[h]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *fakeLedger) DeleteInstantTransfer(txHash string) error {
	delete(l.records, txHash)
	return nil
}

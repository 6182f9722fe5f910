package bridge

import (
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gnosiskit/go-safe-authenticator/internal/utils"
	"github.com/gnosiskit/go-safe-authenticator/pkg/logger"
	"github.com/gnosiskit/go-safe-authenticator/pkg/store"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// EventKind discriminates session events delivered to the consumer.
type EventKind int

const (
	// EventSessionEstablished signals that the dapp handshake completed.
	EventSessionEstablished EventKind = iota
	// EventTransactionRequest carries a dapp transaction for co-signing.
	EventTransactionRequest
	// EventSessionClosed signals that the session ended, either side.
	EventSessionClosed
)

// Event is a session notification. For transaction requests the consumer
// answers with ApproveRequest or RejectRequest using the carried ID.
type Event struct {
	Kind     EventKind
	PeerMeta *store.PeerMeta

	// transaction request fields
	ID    int64
	To    common.Address
	Value *big.Int
	Data  []byte
}

type wcRequest struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type wcResponse struct {
	ID      int64       `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *wcError    `json:"error,omitempty"`
}

type wcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sessionRequestParams struct {
	PeerID   string          `json:"peerId"`
	PeerMeta *store.PeerMeta `json:"peerMeta"`
	ChainID  *uint64         `json:"chainId"`
}

type sessionApproval struct {
	PeerID   string          `json:"peerId"`
	PeerMeta *store.PeerMeta `json:"peerMeta"`
	Approved bool            `json:"approved"`
	ChainID  uint64          `json:"chainId"`
	Accounts []string        `json:"accounts"`
}

type sessionUpdateParams struct {
	Approved bool `json:"approved"`
}

type transactionParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

// walletMeta identifies this wallet to peers during the handshake.
var walletMeta = store.PeerMeta{
	URL:  "https://github.com/gnosiskit/go-safe-authenticator",
	Name: "Safe Authenticator",
}

// session is a live WalletConnect v1 session. It subscribes to its own
// client topic plus the handshake topic, auto-approves the handshake with
// the Safe account, and surfaces transaction requests as events.
type session struct {
	cfg      Config
	safe     common.Address
	chainID  uint64
	clientID string
	peerID   string
	peerMeta *store.PeerMeta
	tr       *transport
	events   chan Event
}

func newSession(cfg Config, safe common.Address, chainID uint64) (*session, error) {
	return restoreSession(store.StoredSession{
		Topic:    cfg.Topic,
		Version:  cfg.Version,
		Bridge:   cfg.Bridge,
		Key:      fmt.Sprintf("%x", cfg.Key),
		ClientID: uuid.NewString(),
	}, safe, chainID)
}

func restoreSession(stored store.StoredSession, safe common.Address, chainID uint64) (*session, error) {
	cfg, err := configFromStored(stored)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:      cfg,
		safe:     safe,
		chainID:  chainID,
		clientID: stored.ClientID,
		peerID:   stored.PeerID,
		peerMeta: stored.PeerMeta,
		events:   make(chan Event, 8),
	}
	tr, err := dialBridge(cfg.Bridge)
	if err != nil {
		return nil, err
	}
	s.tr = tr
	if err := tr.Subscribe(s.clientID); err != nil {
		tr.Close()
		return nil, err
	}
	if err := tr.Subscribe(cfg.Topic); err != nil {
		tr.Close()
		return nil, err
	}
	go s.loop()
	return s, nil
}

func configFromStored(stored store.StoredSession) (Config, error) {
	var key []byte
	if _, err := fmt.Sscanf(stored.Key, "%x", &key); err != nil || len(key) != 32 {
		return Config{}, types.NewValidationError("session", "stored key is not 32 hex bytes")
	}
	return Config{
		Topic:   stored.Topic,
		Version: stored.Version,
		Bridge:  stored.Bridge,
		Key:     key,
	}, nil
}

// Events delivers session notifications. The channel closes when the
// session dies.
func (s *session) Events() <-chan Event {
	return s.events
}

// Stored returns the persistable snapshot of the session.
func (s *session) Stored() store.StoredSession {
	return store.StoredSession{
		Topic:    s.cfg.Topic,
		Version:  s.cfg.Version,
		Bridge:   s.cfg.Bridge,
		Key:      fmt.Sprintf("%x", s.cfg.Key),
		ClientID: s.clientID,
		PeerID:   s.peerID,
		PeerMeta: s.peerMeta,
	}
}

func (s *session) loop() {
	defer close(s.events)
	for msg := range s.tr.Messages {
		plaintext, err := decryptPayload(s.cfg.Key, []byte(msg.Payload))
		if err != nil {
			logger.Warn("dropping undecryptable bridge message: %v", err)
			continue
		}
		var req wcRequest
		if err := json.Unmarshal(plaintext, &req); err != nil || req.Method == "" {
			// responses to our own calls and anything non-request
			continue
		}
		s.handleRequest(req)
	}
	s.events <- Event{Kind: EventSessionClosed, PeerMeta: s.peerMeta}
}

func (s *session) handleRequest(req wcRequest) {
	switch req.Method {
	case "wc_sessionRequest":
		s.handleSessionRequest(req)
	case "wc_sessionUpdate":
		s.handleSessionUpdate(req)
	case "eth_sendTransaction":
		s.handleSendTransaction(req)
	default:
		logger.Debug("rejecting unsupported dapp method %s", req.Method)
		if err := s.RejectRequest(req.ID, "method not supported"); err != nil {
			logger.Warn("reject of %s failed: %v", req.Method, err)
		}
	}
}

// handleSessionRequest auto-approves the handshake, announcing the Safe as
// the single account on the configured chain.
func (s *session) handleSessionRequest(req wcRequest) {
	var params []sessionRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		logger.Warn("malformed session request: %v", err)
		return
	}
	s.peerID = params[0].PeerID
	s.peerMeta = params[0].PeerMeta

	err := s.respond(wcResponse{
		ID:      req.ID,
		JSONRPC: "2.0",
		Result: sessionApproval{
			PeerID:   s.clientID,
			PeerMeta: &walletMeta,
			Approved: true,
			ChainID:  s.chainID,
			Accounts: []string{s.safe.Hex()},
		},
	})
	if err != nil {
		logger.Warn("session approval failed: %v", err)
		return
	}
	s.events <- Event{Kind: EventSessionEstablished, PeerMeta: s.peerMeta}
}

func (s *session) handleSessionUpdate(req wcRequest) {
	var params []sessionUpdateParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		return
	}
	if !params[0].Approved {
		logger.Info("peer closed the session")
		s.tr.Close()
	}
}

// handleSendTransaction validates the dapp transaction before surfacing it.
// The sender must be the Safe itself; the engine cannot act for any other
// account.
func (s *session) handleSendTransaction(req wcRequest) {
	var params []transactionParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		s.rejectAndLog(req.ID, "malformed transaction parameters")
		return
	}

	to, value, data, err := validateTransaction(params[0], s.safe)
	if err != nil {
		s.rejectAndLog(req.ID, err.Error())
		return
	}

	s.events <- Event{
		Kind:     EventTransactionRequest,
		PeerMeta: s.peerMeta,
		ID:       req.ID,
		To:       to,
		Value:    value,
		Data:     data,
	}
}

func validateTransaction(p transactionParams, safe common.Address) (common.Address, *big.Int, []byte, error) {
	if !common.IsHexAddress(p.From) || common.HexToAddress(p.From) != safe {
		return common.Address{}, nil, nil, types.NewValidationError("from", "transaction sender is not the connected account")
	}
	if !common.IsHexAddress(p.To) {
		return common.Address{}, nil, nil, types.NewValidationError("to", "invalid recipient address")
	}
	value := big.NewInt(0)
	if p.Value != "" {
		var err error
		value, err = utils.ParseBigInt(p.Value)
		if err != nil {
			return common.Address{}, nil, nil, types.NewValidationError("value", "invalid transaction value")
		}
	}
	data, err := utils.DecodeHex(p.Data)
	if err != nil {
		return common.Address{}, nil, nil, types.NewValidationError("data", "invalid transaction data")
	}
	return common.HexToAddress(p.To), value, data, nil
}

func (s *session) rejectAndLog(id int64, message string) {
	logger.Info("rejecting dapp transaction %d: %s", id, message)
	if err := s.RejectRequest(id, message); err != nil {
		logger.Warn("rejection of %d failed: %v", id, err)
	}
}

// ApproveRequest answers a dapp request with a result, typically the Safe
// transaction hash once the co-signing flow has submitted it.
func (s *session) ApproveRequest(id int64, result interface{}) error {
	return s.respond(wcResponse{ID: id, JSONRPC: "2.0", Result: result})
}

// RejectRequest answers a dapp request with an error message.
func (s *session) RejectRequest(id int64, message string) error {
	return s.respond(wcResponse{
		ID:      id,
		JSONRPC: "2.0",
		Error:   &wcError{Code: -32000, Message: message},
	})
}

func (s *session) respond(resp wcResponse) error {
	if s.peerID == "" {
		return types.ErrNoSession
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	payload, err := encryptPayload(s.cfg.Key, raw)
	if err != nil {
		return err
	}
	return s.tr.Publish(s.peerID, payload, true)
}

// Kill notifies the peer that the session is over and tears the
// connection down.
func (s *session) Kill() error {
	if s.peerID != "" {
		update := wcRequest{
			ID:      requestID(),
			JSONRPC: "2.0",
			Method:  "wc_sessionUpdate",
		}
		params, err := json.Marshal([]sessionUpdateParams{{Approved: false}})
		if err == nil {
			update.Params = params
			if raw, err := json.Marshal(update); err == nil {
				if payload, err := encryptPayload(s.cfg.Key, raw); err == nil {
					if err := s.tr.Publish(s.peerID, payload, true); err != nil {
						logger.Debug("session update on kill failed: %v", err)
					}
				}
			}
		}
	}
	return s.tr.Close()
}

// requestID mimics the millisecond-timestamp ids WalletConnect v1 peers use.
func requestID() int64 {
	return time.Now().UnixMilli()*1000 + rand.Int63n(1000)
}

// Package bridge connects a Safe to external dapps over a WalletConnect v1
// bridge server. It keeps at most one live session, persists it so a
// restart can resume it, and watches submitted transactions so the dapp
// gets its receipt once a request is mined.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gnosiskit/go-safe-authenticator/pkg/logger"
	"github.com/gnosiskit/go-safe-authenticator/pkg/store"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// watchInterval is how often watched transactions are polled.
const watchInterval = 15 * time.Second

// SessionStore persists the single session between runs.
type SessionStore interface {
	PutSession(s store.StoredSession) error
	GetSession() (*store.StoredSession, error)
	ClearSession() error
}

// Wallet is the engine surface the bridge needs: the connected Safe and a
// way to look up a pending transaction while watching for execution.
type Wallet interface {
	SafeAddress() common.Address
	LoadPendingTransaction(ctx context.Context, safeTxHash string) (types.ServiceSafeTx, error)
}

// liveSession is what the service needs from a running session. Tests
// substitute a stub through the service's session factories.
type liveSession interface {
	Events() <-chan Event
	Stored() store.StoredSession
	ApproveRequest(id int64, result interface{}) error
	RejectRequest(id int64, message string) error
	Kill() error
}

type watchedTx struct {
	safeTxHash string
	requestID  int64
}

// Service owns the single dapp session slot.
type Service struct {
	sessions SessionStore
	wallet   Wallet
	chainID  uint64

	mu       sync.Mutex
	active   liveSession
	watched  []watchedTx
	watchGen uint64

	events chan Event

	create  func(cfg Config, safe common.Address, chainID uint64) (liveSession, error)
	restore func(stored store.StoredSession, safe common.Address, chainID uint64) (liveSession, error)
}

func NewService(sessions SessionStore, wallet Wallet, chainID uint64) *Service {
	return &Service{
		sessions: sessions,
		wallet:   wallet,
		chainID:  chainID,
		events:   make(chan Event, 8),
		create: func(cfg Config, safe common.Address, chainID uint64) (liveSession, error) {
			return newSessionFromConfig(cfg, safe, chainID)
		},
		restore: func(stored store.StoredSession, safe common.Address, chainID uint64) (liveSession, error) {
			return restoreSession(stored, safe, chainID)
		},
	}
}

func newSessionFromConfig(cfg Config, safe common.Address, chainID uint64) (*session, error) {
	return newSession(cfg, safe, chainID)
}

// Events delivers session notifications from whichever session is active.
func (b *Service) Events() <-chan Event {
	return b.events
}

// CreateSession parses a session URI and connects. Any previous session is
// torn down first; there is never more than one.
func (b *Service) CreateSession(uri string) error {
	cfg, err := ParseURI(uri)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		if err := b.active.Kill(); err != nil {
			logger.Debug("teardown of previous session: %v", err)
		}
		b.active = nil
		b.clearWatchedLocked()
	}

	s, err := b.create(cfg, b.wallet.SafeAddress(), b.chainID)
	if err != nil {
		return err
	}
	b.active = s
	if err := b.sessions.PutSession(s.Stored()); err != nil {
		logger.Warn("session persist failed: %v", err)
	}
	go b.forward(s)
	return nil
}

// CloseSession ends the active session and forgets the persisted one. Both
// clear together so a restart cannot resurrect a closed session.
func (b *Service) CloseSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return types.ErrNoSession
	}
	err := b.active.Kill()
	b.active = nil
	b.clearWatchedLocked()
	if clearErr := b.sessions.ClearSession(); clearErr != nil {
		logger.Warn("session clear failed: %v", clearErr)
	}
	return err
}

// CurrentSession describes the active session for display, or the persisted
// one if the connection has not been restored yet.
func (b *Service) CurrentSession() (*types.DappSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		return dappSessionOf(b.active.Stored(), true), nil
	}
	stored, err := b.sessions.GetSession()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, types.ErrNoSession
	}
	return dappSessionOf(*stored, false), nil
}

func dappSessionOf(s store.StoredSession, active bool) *types.DappSession {
	out := &types.DappSession{Active: active}
	if s.PeerMeta != nil {
		out.URL = s.PeerMeta.URL
		out.Name = s.PeerMeta.Name
		if len(s.PeerMeta.Icons) > 0 {
			out.Icon = s.PeerMeta.Icons[0]
		}
	}
	return out
}

// OnConnectivityAvailable restores the persisted session after a restart or
// a network outage. A no-op when a session is already live or none is
// persisted.
func (b *Service) OnConnectivityAvailable() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		return nil
	}
	stored, err := b.sessions.GetSession()
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	s, err := b.restore(*stored, b.wallet.SafeAddress(), b.chainID)
	if err != nil {
		return err
	}
	b.active = s
	go b.forward(s)
	logger.Info("restored dapp session %s", stored.Topic)
	return nil
}

// ApproveRequest answers a dapp request on the active session.
func (b *Service) ApproveRequest(id int64, result interface{}) error {
	b.mu.Lock()
	s := b.active
	b.mu.Unlock()
	if s == nil {
		return types.ErrNoSession
	}
	return s.ApproveRequest(id, result)
}

// RejectRequest answers a dapp request with an error on the active session.
func (b *Service) RejectRequest(id int64, message string) error {
	b.mu.Lock()
	s := b.active
	b.mu.Unlock()
	if s == nil {
		return types.ErrNoSession
	}
	return s.RejectRequest(id, message)
}

// WatchTransaction registers a submitted Safe transaction so the dapp
// request is answered with the execution hash once it mines.
func (b *Service) WatchTransaction(safeTxHash string, requestID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watched = append(b.watched, watchedTx{safeTxHash: safeTxHash, requestID: requestID})
}

// clearWatchedLocked empties the watch list and invalidates any poll that
// is still in flight. Caller holds b.mu.
func (b *Service) clearWatchedLocked() {
	b.watched = nil
	b.watchGen++
}

// RunWatcher polls watched transactions until the context ends.
func (b *Service) RunWatcher(ctx context.Context) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollWatched(ctx)
		}
	}
}

func (b *Service) pollWatched(ctx context.Context) {
	b.mu.Lock()
	gen := b.watchGen
	pending := make([]watchedTx, len(b.watched))
	copy(pending, b.watched)
	b.mu.Unlock()

	resolved := make(map[string]bool)
	for _, w := range pending {
		record, err := b.wallet.LoadPendingTransaction(ctx, w.safeTxHash)
		if err != nil {
			logger.Debug("watch poll for %s: %v", w.safeTxHash, err)
			continue
		}
		if !record.Executed {
			continue
		}
		if err := b.ApproveRequest(w.requestID, record.TransactionHash); err != nil {
			logger.Warn("execution notify for %s failed: %v", w.safeTxHash, err)
			continue
		}
		resolved[w.safeTxHash] = true
	}

	// Entries registered while polling stay watched; only the ones this
	// poll answered come off, and not at all if the session changed
	// underneath.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watchGen != gen || len(resolved) == 0 {
		return
	}
	kept := b.watched[:0]
	for _, w := range b.watched {
		if !resolved[w.safeTxHash] {
			kept = append(kept, w)
		}
	}
	b.watched = kept
}

// forward relays session events to the service channel and clears the slot
// when the session dies.
func (b *Service) forward(s liveSession) {
	for ev := range s.Events() {
		if ev.Kind == EventSessionEstablished {
			// peer identity is only known after the handshake
			b.mu.Lock()
			if b.active == s {
				if err := b.sessions.PutSession(s.Stored()); err != nil {
					logger.Warn("session persist failed: %v", err)
				}
			}
			b.mu.Unlock()
		}
		if ev.Kind == EventSessionClosed {
			b.mu.Lock()
			if b.active == s {
				b.active = nil
				b.clearWatchedLocked()
				if err := b.sessions.ClearSession(); err != nil {
					logger.Warn("session clear failed: %v", err)
				}
			}
			b.mu.Unlock()
		}
		b.events <- ev
	}
}

package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnosiskit/go-safe-authenticator/pkg/store"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

var testSafe = common.HexToAddress("0x1C8b9B78e3085866521FE206fa4c1a67F49f153A")

type stubSession struct {
	mu       sync.Mutex
	events   chan Event
	killed   bool
	approved map[int64]interface{}
	rejected map[int64]string
	stored   store.StoredSession
}

func newStubSession(topic string) *stubSession {
	return &stubSession{
		events:   make(chan Event, 8),
		approved: map[int64]interface{}{},
		rejected: map[int64]string{},
		stored:   store.StoredSession{Topic: topic, ClientID: "client-" + topic},
	}
}

func (s *stubSession) Events() <-chan Event        { return s.events }
func (s *stubSession) Stored() store.StoredSession { return s.stored }

func (s *stubSession) ApproveRequest(id int64, result interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[id] = result
	return nil
}

func (s *stubSession) RejectRequest(id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[id] = message
	return nil
}

func (s *stubSession) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.killed {
		s.killed = true
		close(s.events)
	}
	return nil
}

func (s *stubSession) wasKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

type stubWallet struct {
	mu      sync.Mutex
	pending map[string]types.ServiceSafeTx
}

func (w *stubWallet) SafeAddress() common.Address { return testSafe }

func (w *stubWallet) LoadPendingTransaction(ctx context.Context, safeTxHash string) (types.ServiceSafeTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.pending[safeTxHash]
	if !ok {
		return types.ServiceSafeTx{}, types.NewMalformedResponseError("unknown tx")
	}
	return tx, nil
}

func newTestService(t *testing.T) (*Service, *store.DB, func() *stubSession) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, &stubWallet{}, 1)
	var last *stubSession
	svc.create = func(cfg Config, safe common.Address, chainID uint64) (liveSession, error) {
		last = newStubSession(cfg.Topic)
		return last, nil
	}
	svc.restore = func(stored store.StoredSession, safe common.Address, chainID uint64) (liveSession, error) {
		last = newStubSession(stored.Topic)
		last.stored = stored
		return last, nil
	}
	return svc, db, func() *stubSession { return last }
}

const testURI = "wc:topic-one@1?bridge=https%3A%2F%2Fbridge.test&key=" + testKeyHex

func TestCreateSession_SingleSlot(t *testing.T) {
	t.Parallel()

	svc, db, last := newTestService(t)

	require.NoError(t, svc.CreateSession(testURI))
	first := last()
	require.NotNil(t, first)

	stored, err := db.GetSession()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "topic-one", stored.Topic)

	// a second create replaces the first session
	second := "wc:topic-two@1?bridge=https%3A%2F%2Fbridge.test&key=" + testKeyHex
	require.NoError(t, svc.CreateSession(second))
	assert.True(t, first.wasKilled())

	stored, err = db.GetSession()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "topic-two", stored.Topic)
}

func TestCreateSession_InvalidURI(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	err := svc.CreateSession("wc:bad")
	assert.True(t, types.IsValidationError(err))
}

func TestCloseSession_ClearsStoreAtomically(t *testing.T) {
	t.Parallel()

	svc, db, last := newTestService(t)
	require.NoError(t, svc.CreateSession(testURI))

	require.NoError(t, svc.CloseSession())
	assert.True(t, last().wasKilled())

	stored, err := db.GetSession()
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.ErrorIs(t, svc.CloseSession(), types.ErrNoSession)
}

func TestCurrentSession(t *testing.T) {
	t.Parallel()

	svc, db, last := newTestService(t)

	_, err := svc.CurrentSession()
	assert.ErrorIs(t, err, types.ErrNoSession)

	require.NoError(t, svc.CreateSession(testURI))
	last().stored.PeerMeta = &store.PeerMeta{
		Name:  "Example Dapp",
		URL:   "https://dapp.test",
		Icons: []string{"https://dapp.test/icon.png"},
	}

	current, err := svc.CurrentSession()
	require.NoError(t, err)
	assert.True(t, current.Active)
	assert.Equal(t, "Example Dapp", current.Name)
	assert.Equal(t, "https://dapp.test/icon.png", current.Icon)

	// persisted but not connected reads as inactive
	svc2, _, _ := newTestService(t)
	require.NoError(t, db.PutSession(store.StoredSession{
		Topic:    "t",
		PeerMeta: &store.PeerMeta{Name: "Example Dapp"},
	}))
	svc2.sessions = db
	current, err = svc2.CurrentSession()
	require.NoError(t, err)
	assert.False(t, current.Active)
}

func TestOnConnectivityAvailable_RestoresPersistedSession(t *testing.T) {
	t.Parallel()

	svc, db, last := newTestService(t)

	// nothing persisted: no-op
	require.NoError(t, svc.OnConnectivityAvailable())
	assert.Nil(t, last())

	require.NoError(t, db.PutSession(store.StoredSession{Topic: "persisted", ClientID: "c1"}))
	require.NoError(t, svc.OnConnectivityAvailable())
	require.NotNil(t, last())
	assert.Equal(t, "persisted", last().stored.Topic)

	// already connected: no second restore
	require.NoError(t, svc.OnConnectivityAvailable())
}

func TestSessionClosedEvent_ClearsSlot(t *testing.T) {
	t.Parallel()

	svc, db, last := newTestService(t)
	require.NoError(t, svc.CreateSession(testURI))

	s := last()
	s.events <- Event{Kind: EventSessionClosed}
	s.Kill()

	ev := <-svc.Events()
	assert.Equal(t, EventSessionClosed, ev.Kind)

	// slot and store are both cleared
	_, err := svc.CurrentSession()
	assert.ErrorIs(t, err, types.ErrNoSession)
	stored, err := db.GetSession()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestWatcher_ApprovesMinedTransactions(t *testing.T) {
	t.Parallel()

	wallet := &stubWallet{pending: map[string]types.ServiceSafeTx{
		"0xmined":   {Hash: "0xmined", Executed: true, TransactionHash: "0xchain"},
		"0xpending": {Hash: "0xpending", Executed: false},
	}}

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, wallet, 1)
	var s *stubSession
	svc.create = func(cfg Config, safe common.Address, chainID uint64) (liveSession, error) {
		s = newStubSession(cfg.Topic)
		return s, nil
	}
	require.NoError(t, svc.CreateSession(testURI))

	svc.WatchTransaction("0xmined", 100)
	svc.WatchTransaction("0xpending", 101)
	svc.WatchTransaction("0xunknown", 102)

	svc.pollWatched(context.Background())

	s.mu.Lock()
	assert.Equal(t, "0xchain", s.approved[100])
	_, pendingAnswered := s.approved[101]
	s.mu.Unlock()
	assert.False(t, pendingAnswered)

	// mined entry dropped, the others stay on the watch list
	assert.ElementsMatch(t, []string{"0xpending", "0xunknown"}, watchedHashes(svc))
}

func watchedHashes(svc *Service) []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	hashes := make([]string, 0, len(svc.watched))
	for _, w := range svc.watched {
		hashes = append(hashes, w.safeTxHash)
	}
	return hashes
}

// gateWallet parks the first lookup until released so the watch list can
// be mutated while a poll is in flight.
type gateWallet struct {
	stubWallet
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateWallet(pending map[string]types.ServiceSafeTx) *gateWallet {
	return &gateWallet{
		stubWallet: stubWallet{pending: pending},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (w *gateWallet) LoadPendingTransaction(ctx context.Context, safeTxHash string) (types.ServiceSafeTx, error) {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return w.stubWallet.LoadPendingTransaction(ctx, safeTxHash)
}

func TestWatcher_KeepsEntriesAddedDuringPoll(t *testing.T) {
	t.Parallel()

	wallet := newGateWallet(map[string]types.ServiceSafeTx{
		"0xaaa": {Hash: "0xaaa", Executed: true, TransactionHash: "0xchain"},
	})

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, wallet, 1)
	var s *stubSession
	svc.create = func(cfg Config, safe common.Address, chainID uint64) (liveSession, error) {
		s = newStubSession(cfg.Topic)
		return s, nil
	}
	require.NoError(t, svc.CreateSession(testURI))
	svc.WatchTransaction("0xaaa", 1)

	done := make(chan struct{})
	go func() {
		svc.pollWatched(context.Background())
		close(done)
	}()

	<-wallet.entered
	svc.WatchTransaction("0xbbb", 2)
	close(wallet.release)
	<-done

	s.mu.Lock()
	assert.Equal(t, "0xchain", s.approved[1])
	s.mu.Unlock()
	assert.Equal(t, []string{"0xbbb"}, watchedHashes(svc))
}

func TestWatcher_CloseDuringPollStaysCleared(t *testing.T) {
	t.Parallel()

	wallet := newGateWallet(map[string]types.ServiceSafeTx{
		"0xaaa": {Hash: "0xaaa", Executed: false},
	})

	db, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewService(db, wallet, 1)
	svc.create = func(cfg Config, safe common.Address, chainID uint64) (liveSession, error) {
		return newStubSession(cfg.Topic), nil
	}
	require.NoError(t, svc.CreateSession(testURI))
	svc.WatchTransaction("0xaaa", 1)

	done := make(chan struct{})
	go func() {
		svc.pollWatched(context.Background())
		close(done)
	}()

	<-wallet.entered
	require.NoError(t, svc.CloseSession())
	close(wallet.release)
	<-done

	assert.Empty(t, watchedHashes(svc))
}

func TestCreateSession_ReplacementClearsWatchList(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	require.NoError(t, svc.CreateSession(testURI))
	svc.WatchTransaction("0xaaa", 1)

	second := "wc:topic-two@1?bridge=https%3A%2F%2Fbridge.test&key=" + testKeyHex
	require.NoError(t, svc.CreateSession(second))
	assert.Empty(t, watchedHashes(svc))
}

func TestValidateTransaction(t *testing.T) {
	t.Parallel()

	valid := transactionParams{
		From:  testSafe.Hex(),
		To:    "0x2222222222222222222222222222222222222222",
		Value: "0x0de0b6b3a7640000",
		Data:  "0xabcdef",
	}

	to, value, data, err := validateTransaction(valid, testSafe)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(valid.To), to)
	assert.Equal(t, "1000000000000000000", value.String())
	assert.Equal(t, []byte{0xab, 0xcd, 0xef}, data)

	cases := map[string]transactionParams{
		"foreign sender": {From: "0x9999999999999999999999999999999999999999", To: valid.To},
		"bad sender":     {From: "nonsense", To: valid.To},
		"bad recipient":  {From: testSafe.Hex(), To: "not-an-address"},
		"bad value":      {From: testSafe.Hex(), To: valid.To, Value: "12z"},
		"bad data":       {From: testSafe.Hex(), To: valid.To, Data: "0xzz"},
	}
	for name, p := range cases {
		p := p
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, _, _, err := validateTransaction(p, testSafe)
			assert.True(t, types.IsValidationError(err))
		})
	}

	// empty value and data are a plain ping to the recipient
	to, value, data, err = validateTransaction(transactionParams{From: testSafe.Hex(), To: valid.To}, testSafe)
	require.NoError(t, err)
	assert.Equal(t, 0, value.Sign())
	assert.Empty(t, data)
	assert.Equal(t, common.HexToAddress(valid.To), to)
}

package bridge

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gnosiskit/go-safe-authenticator/pkg/logger"
	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// socketMessage is the bridge server's pub/sub envelope.
type socketMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

// transport is a websocket connection to a bridge server. Incoming payloads
// are delivered on Messages; the channel closes when the connection dies.
type transport struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	closer   sync.Once
	Messages chan socketMessage
}

// dialBridge connects to the bridge server, translating an http(s) URL into
// the matching websocket scheme.
func dialBridge(bridgeURL string) (*transport, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, types.NewValidationError("bridge", "invalid bridge url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, types.NewValidationError("bridge", "unsupported bridge scheme "+u.Scheme)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w: %v", types.ErrNetworkUnavailable, err)
	}

	t := &transport{
		conn:     conn,
		Messages: make(chan socketMessage, 8),
	}
	go t.readLoop()
	return t, nil
}

func (t *transport) readLoop() {
	defer close(t.Messages)
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed") {
				logger.Debug("bridge read ended: %v", err)
			}
			return
		}
		var msg socketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("dropping malformed bridge frame: %v", err)
			continue
		}
		t.Messages <- msg
	}
}

// Subscribe asks the bridge to deliver messages published to a topic.
func (t *transport) Subscribe(topic string) error {
	return t.write(socketMessage{Topic: topic, Type: "sub", Payload: ""})
}

// Publish sends an encrypted payload to a topic.
func (t *transport) Publish(topic string, payload []byte, silent bool) error {
	return t.write(socketMessage{Topic: topic, Type: "pub", Payload: string(payload), Silent: silent})
}

func (t *transport) write(msg socketMessage) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("bridge write: %w: %v", types.ErrNetworkUnavailable, err)
	}
	return nil
}

func (t *transport) Close() error {
	var err error
	t.closer.Do(func() {
		err = t.conn.Close()
	})
	return err
}

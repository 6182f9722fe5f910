package bridge

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// Config is a parsed session URI: the handshake topic, protocol version,
// bridge server URL and the hex-decoded symmetric key.
type Config struct {
	Topic   string
	Version string
	Bridge  string
	Key     []byte
}

// ParseURI parses a "wc:<topic>@<version>?bridge=<url>&key=<hex>" session
// URI. Only version 1 is accepted.
func ParseURI(uri string) (Config, error) {
	rest, ok := strings.CutPrefix(uri, "wc:")
	if !ok {
		return Config{}, types.NewValidationError("uri", "missing wc: scheme")
	}
	head, query, ok := strings.Cut(rest, "?")
	if !ok {
		return Config{}, types.NewValidationError("uri", "missing query parameters")
	}
	topic, version, ok := strings.Cut(head, "@")
	if !ok || topic == "" {
		return Config{}, types.NewValidationError("uri", "missing handshake topic")
	}
	if version != "1" {
		return Config{}, types.NewValidationError("uri", "unsupported protocol version "+version)
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return Config{}, types.NewValidationError("uri", "malformed query: "+err.Error())
	}
	bridgeURL := params.Get("bridge")
	if bridgeURL == "" {
		return Config{}, types.NewValidationError("uri", "missing bridge parameter")
	}
	if _, err := url.ParseRequestURI(bridgeURL); err != nil {
		return Config{}, types.NewValidationError("uri", "invalid bridge url")
	}
	key, err := hex.DecodeString(params.Get("key"))
	if err != nil || len(key) != 32 {
		return Config{}, types.NewValidationError("uri", "key must be 32 hex-encoded bytes")
	}

	return Config{Topic: topic, Version: version, Bridge: bridgeURL, Key: key}, nil
}

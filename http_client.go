package safeauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// RequestOptions customizes a single service request. StatusMessages maps
// HTTP status codes to domain-specific messages (e.g. 404 -> "unknown safe")
// surfaced through the resulting RemoteError.
type RequestOptions struct {
	Headers        http.Header
	Params         map[string]string
	Body           []byte
	StatusMessages map[int]string
}

// HTTPClient is the shared transport for the transaction, instant-transfer
// and token services. It performs exactly one attempt per call; retry policy
// belongs to the caller.
type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{client: client}
}

func (c *HTTPClient) Do(ctx context.Context, method, urlStr string, opts *RequestOptions, out interface{}) error {
	if c == nil {
		return fmt.Errorf("http client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opts == nil {
		opts = &RequestOptions{}
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if len(opts.Params) > 0 {
		q := parsed.Query()
		for k, v := range opts.Params {
			q.Set(k, v)
		}
		parsed.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	if len(opts.Body) > 0 {
		bodyReader = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if len(opts.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range opts.Headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrNetworkUnavailable, err)
	}
	respBytes, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: read response: %v", types.ErrNetworkUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return &types.RemoteError{
			StatusCode: resp.StatusCode,
			Body:       string(respBytes),
			Message:    opts.StatusMessages[resp.StatusCode],
		}
	}

	if out != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return types.NewMalformedResponseError("decode response: %v", err)
		}
	}
	return nil
}

package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUpstreamStatus wraps every non-2xx answer from a serving endpoint.
var ErrUpstreamStatus = errors.New("serving: upstream returned error status") //nolint:gochecknoglobals // sentinel error

// DefaultTimeout bounds one upstream call, streaming included.
const DefaultTimeout = 300 * time.Second

const maxErrorBody = 4 * 1024

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Message is one chat turn sent to an endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StatusError carries the status and a prefix of the body of a failed call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("serving: upstream returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamStatus }

type invocationRequest struct {
	Input  []Message `json:"input"`
	Stream bool      `json:"stream,omitempty"`
}

// Client calls serving endpoint invocations.
type Client struct {
	http  HTTPDoer
	creds CredentialProvider
}

// NewClient returns a client. A nil doer selects an *http.Client with
// DefaultTimeout.
func NewClient(creds CredentialProvider, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: doer, creds: creds}
}

// InvocationsURL returns the invocations URL of endpoint on host.
func InvocationsURL(host, endpoint string) string {
	return strings.TrimRight(host, "/") + "/serving-endpoints/" + url.PathEscape(endpoint) + "/invocations"
}

// Stream starts a streaming invocation and returns the response body. The
// caller must close it.
func (c *Client) Stream(ctx context.Context, endpoint string, inbound http.Header, messages []Message) (io.ReadCloser, error) {
	resp, err := c.do(ctx, endpoint, inbound, invocationRequest{Input: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("serving.Client.Stream: %w", err)
	}
	return resp.Body, nil
}

// Invoke performs a non-streaming invocation and returns the raw body.
func (c *Client) Invoke(ctx context.Context, endpoint string, inbound http.Header, messages []Message) ([]byte, error) {
	resp, err := c.do(ctx, endpoint, inbound, invocationRequest{Input: messages})
	if err != nil {
		return nil, fmt.Errorf("serving.Client.Invoke: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("serving.Client.Invoke: read body: %w", err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string, inbound http.Header, payload invocationRequest) (*http.Response, error) {
	creds, err := c.creds.Credentials(ctx, inbound)
	if err != nil {
		return nil, err
	}

	if payload.Input == nil {
		payload.Input = []Message{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, InvocationsURL(creds.Host, endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Content-Type", "application/json")
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	log.Info().Str("endpoint", endpoint).Bool("stream", payload.Stream).Msg("serving: calling endpoint")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	return resp, nil
}

/*
Package snapshot implements the request/response side of the chat API.

Client performs point-in-time fetches (chat list, message history, user search) and the
mutations that return an authoritative entity (post message, create chat, log in). It keeps no
state between calls; the access token is passed per call so one Client serves any session.

Every failure is returned as an *errs.SyncError:

  - KindAuth for a missing token or a 401/403 response,
  - KindNetwork for transport failures, timeouts, 408/429 and 5xx responses,
  - KindValidation for input rejected locally, other 4xx responses, and undecodable payloads.
*/
package snapshot

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

	"github.com/rs/zerolog"

	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

const (
	// defaultTimeout bounds a single call when the caller supplies no HTTP client.
	defaultTimeout = 15 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:8080/api".
	BaseURL string

	// HTTPClient is used for all requests. If nil, a client with a 15 second timeout is used.
	HTTPClient *http.Client
}

// Client calls the chat REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("snapshot: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("snapshot: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logx.Component("snapshot"),
	}, nil
}

// errorBody covers the error envelopes the API is known to send.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do performs one call. token may be empty only for unauthenticated endpoints (auth == false).
func (c *Client) do(ctx context.Context, op, method, path, token string, auth bool, body any) ([]byte, error) {
	if auth && token == "" {
		return nil, errs.Newf(errs.KindAuth, op, "no access token")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errs.New(errs.KindValidation, op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errs.New(errs.KindValidation, op, err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if auth {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Msg("Snapshot request failed in transport")
		return nil, errs.New(errs.KindNetwork, op, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.New(errs.KindNetwork, op, err)
	}

	c.logger.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", response.StatusCode).
		Dur("latency", time.Since(started)).
		Msg("Snapshot request completed")

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return data, nil
	}

	return nil, statusError(op, response.StatusCode, data)
}

// statusError classifies a non-2xx response.
func statusError(op string, status int, data []byte) error {
	message := http.StatusText(status)
	var body errorBody
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Message != "":
			message = body.Message
		case body.Error != "":
			message = body.Error
		}
	}

	kind := errs.KindValidation
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = errs.KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		kind = errs.KindNetwork
	}

	return &errs.SyncError{Kind: kind, Op: op, Status: status, Err: errors.New(message)}
}

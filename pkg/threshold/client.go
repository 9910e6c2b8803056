// Package threshold is the HTTP client for a threshold network node. It
// provides session issuance for pkg/session and the encrypt/decrypt
// capability for pkg/gateway. Calls are never retried.
package threshold

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/pkg/gateway"
	"github.com/i5heu/ouroboros-vault/pkg/session"
)

// DefaultTimeout bounds each individual call.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 32 << 20

var (
	ErrNoBaseURL   = errors.New("threshold: base url is required")
	ErrNoSigner    = errors.New("threshold: no challenge signer")
	ErrEmptyResult = errors.New("threshold: node returned an empty result")
)

// Error is a non-2xx answer from a node.
type Error struct { // A
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("threshold: status=%d code=%s message=%s request=%s",
		e.StatusCode, e.Code, e.Message, e.RequestID)
}

// Config configures a Client.
type Config struct { // A
	BaseURL    string
	HTTPClient *http.Client
	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *logrus.Logger
}

// Client talks to one threshold node.
type Client struct { // A
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	log        *logrus.Logger
}

var (
	_ session.Network    = (*Client)(nil)
	_ gateway.Capability = (*Client)(nil)
)

// New creates a Client.
func New(conf Config) (*Client, error) { // A
	if strings.TrimSpace(conf.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	if conf.HTTPClient == nil {
		conf.HTTPClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	return &Client{
		baseURL:    strings.TrimRight(conf.BaseURL, "/"),
		httpClient: conf.HTTPClient,
		timeout:    conf.Timeout,
		log:        conf.Logger,
	}, nil
}

// LatestBlockhash returns the node's latest block hash.
func (c *Client) LatestBlockhash(ctx context.Context) (string, error) { // A
	var out BlockhashResponse
	if err := c.do(ctx, http.MethodGet, PathBlockhash, nil, &out); err != nil {
		return "", err
	}
	if out.Blockhash == "" {
		return "", fmt.Errorf("%w: blockhash", ErrEmptyResult)
	}
	return out.Blockhash, nil
}

// SessionSigs runs the challenge, sign and delegate exchange. signer is
// invoked exactly once, between the challenge and the delegation.
func (c *Client) SessionSigs(
	ctx context.Context,
	req session.SessionRequest,
	signer session.AuthChallengeSigner,
) (json.RawMessage, error) { // A
	if signer == nil {
		return nil, ErrNoSigner
	}

	var challenge ChallengeResponse
	if err := c.do(ctx, http.MethodPost, PathSessionChallenge, req, &challenge); err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}

	authSig, err := signer.SignChallenge(ctx, challenge)
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}

	var out SignResponse
	if err := c.do(ctx, http.MethodPost, PathSessionSign, SignRequest{
		URI:     challenge.URI,
		AuthSig: authSig,
	}, &out); err != nil {
		return nil, fmt.Errorf("delegate: %w", err)
	}
	if len(out.SessionSigs) == 0 {
		return nil, fmt.Errorf("%w: sessionSigs", ErrEmptyResult)
	}
	return out.SessionSigs, nil
}

// Encrypt implements gateway.Capability.
func (c *Client) Encrypt(
	ctx context.Context,
	req gateway.EncryptRequest,
) (gateway.EncryptResponse, error) { // A
	var out gateway.EncryptResponse
	err := c.do(ctx, http.MethodPost, PathEncrypt, req, &out)
	return out, err
}

// Decrypt implements gateway.Capability.
func (c *Client) Decrypt(
	ctx context.Context,
	req gateway.DecryptRequest,
) (gateway.DecryptResponse, error) { // A
	var out gateway.DecryptResponse
	err := c.do(ctx, http.MethodPost, PathDecrypt, req, &out)
	return out, err
}

// Close drops idle connections to the node.
func (c *Client) Close() { // A
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"method":    method,
		"path":      path,
		"status":    resp.StatusCode,
		"requestId": requestID,
		"duration":  time.Since(start),
	}).Debug("threshold call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, requestID, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseError(status int, requestID string, body []byte) error {
	e := &Error{StatusCode: status, RequestID: requestID}
	var eb ErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.ErrorCode != "" {
		e.Code = eb.ErrorCode
		e.Message = eb.Message
		return e
	}
	e.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	e.Message = strings.TrimSpace(string(body))
	return e
}

// IsCode reports whether err is a node Error with the given code.
func IsCode(err error, code string) bool { // A
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// Package store uploads encrypted envelopes to the content-addressed
// storage network and reads them back through its gateway. One upload
// node and one gateway are used, each call is a single attempt.
package store

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

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/pkg/envelope"
	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
)

const (
	// DefaultTimeout bounds each upload or read.
	DefaultTimeout = 30 * time.Second

	// HeaderTags carries the upload tags as a JSON list.
	HeaderTags = "X-Upload-Tags"

	maxEnvelopeBytes = 64 << 20
)

var (
	ErrNoUploadURL  = errors.New("store: upload url is required")
	ErrNoGatewayURL = errors.New("store: gateway url is required")
	ErrEmptyID      = errors.New("store: empty transaction id")
)

// Tag is a name/value pair attached to an upload for indexing.
type Tag struct { // A
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Receipt is what the upload node answers. ID is opaque.
type Receipt struct { // A
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// HTTPError is a non-2xx answer from the upload node or the gateway.
type HTTPError struct { // A
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("store: status=%d body=%q", e.StatusCode, e.Body)
}

// Config configures a Store.
type Config struct { // A
	UploadURL  string
	GatewayURL string
	HTTPClient *http.Client
	Timeout    time.Duration
	// Tags are sent with every upload in addition to the content type.
	Tags   []Tag
	Logger *logrus.Logger
}

// Store is a client for one upload node and one gateway.
type Store struct { // A
	uploadURL  string
	gatewayURL string
	httpClient *http.Client
	timeout    time.Duration
	tagsHeader string
	log        *logrus.Logger
}

// New creates a Store.
func New(conf Config) (*Store, error) { // A
	if strings.TrimSpace(conf.UploadURL) == "" {
		return nil, ErrNoUploadURL
	}
	if strings.TrimSpace(conf.GatewayURL) == "" {
		return nil, ErrNoGatewayURL
	}
	if conf.HTTPClient == nil {
		conf.HTTPClient = &http.Client{}
	}
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}

	tags := []Tag{{Name: "Content-Type", Value: envelope.ContentType}}
	for _, t := range conf.Tags {
		if t.Name == "Content-Type" {
			continue
		}
		tags = append(tags, t)
	}
	header, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	return &Store{
		uploadURL:  conf.UploadURL,
		gatewayURL: strings.TrimRight(conf.GatewayURL, "/"),
		httpClient: conf.HTTPClient,
		timeout:    conf.Timeout,
		tagsHeader: string(header),
		log:        conf.Logger,
	}, nil
}

// Put uploads env as canonical compact JSON. Any failure is
// vaulterr.UploadFailure.
func (s *Store) Put(ctx context.Context, env envelope.Envelope) (Receipt, error) { // A
	const op = "store.put"

	body, err := env.Marshal()
	if err != nil {
		return Receipt{}, vaulterr.New(vaulterr.UploadFailure, op, fmt.Errorf("encode envelope: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, vaulterr.New(vaulterr.UploadFailure, op, err)
	}
	req.Header.Set("Content-Type", envelope.ContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderTags, s.tagsHeader)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Receipt{}, vaulterr.New(vaulterr.UploadFailure, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return Receipt{}, vaulterr.New(vaulterr.UploadFailure, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{}, vaulterr.New(vaulterr.UploadFailure, op, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		})
	}

	var receipt Receipt
	if err := json.Unmarshal(respBody, &receipt); err != nil {
		return Receipt{}, vaulterr.New(vaulterr.UploadFailure, op, fmt.Errorf("decode receipt: %w", err))
	}
	if receipt.ID == "" {
		return Receipt{}, vaulterr.New(vaulterr.UploadFailure, op, ErrEmptyID)
	}

	s.log.WithFields(logrus.Fields{
		"id":   receipt.ID,
		"size": len(body),
	}).Debug("envelope uploaded")
	return receipt, nil
}

// Get reads the envelope stored under id. Transport errors and non-2xx
// answers are vaulterr.NotFound, an unparsable body is
// vaulterr.MalformedEnvelope.
func (s *Store) Get(ctx context.Context, id string) (envelope.Envelope, error) { // A
	const op = "store.get"

	if strings.TrimSpace(id) == "" {
		return envelope.Envelope{}, vaulterr.New(vaulterr.NotFound, op, ErrEmptyID)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gatewayURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return envelope.Envelope{}, vaulterr.New(vaulterr.NotFound, op, err)
	}
	req.Header.Set("Accept", envelope.ContentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return envelope.Envelope{}, vaulterr.New(vaulterr.NotFound, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return envelope.Envelope{}, vaulterr.New(vaulterr.NotFound, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return envelope.Envelope{}, vaulterr.New(vaulterr.NotFound, op, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		})
	}

	env, err := envelope.Unmarshal(body)
	if err != nil {
		s.log.WithField("id", id).Warnf("gateway returned a malformed envelope: %v", err)
		return envelope.Envelope{}, err
	}
	return env, nil
}

// Close drops idle connections.
func (s *Store) Close() { // A
	s.httpClient.CloseIdleConnections()
}

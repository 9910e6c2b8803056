// Package devnet is a single process stand-in for both remote networks the
// vault talks to: a content-addressed storage network with an upload node
// and a read gateway, and a threshold network node that issues sessions
// and encrypts or decrypts under access control conditions.
//
// Real threshold networks never hold a whole key; this node does. It is
// meant for development and tests only.
package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/internal/blobstore"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/threshold"
)

const (
	// MaxSessionTTL is the longest session the node agrees to issue.
	MaxSessionTTL = 7 * 24 * time.Hour

	challengeTTL     = 5 * time.Minute
	blockhashTTL     = 10 * time.Minute
	maxUploadBytes   = 64 << 20
	maxRequestBytes  = 8 << 20
	retryAfterSecond = "1"
)

// Server serves the storage and threshold endpoints.
type Server struct {
	mux         *http.ServeMux
	log         *logrus.Logger
	clock       session.Clock
	keys        Keys
	blobs       *blobstore.Store
	ownBlobs    bool
	limiter     *rateLimiter
	chain       *chain
	blockTime   time.Duration
	challenges  *ttlCache[challenge]
	blockhashes *ttlCache[uint64]
	handler     http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithClock sets the clock used for sessions and block production.
func WithClock(c session.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithKeys sets the node's secrets. Without it fresh keys are generated.
func WithKeys(k Keys) Option {
	return func(s *Server) { s.keys = k }
}

// WithBlobstore sets the store for uploads. Without it an in-memory store
// is opened and closed with the server.
func WithBlobstore(b *blobstore.Store) Option {
	return func(s *Server) { s.blobs = b }
}

// WithRateLimit limits every client IP to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newRateLimiter(rps, burst)
		}
	}
}

// WithBlockTime sets the emulated block interval.
func WithBlockTime(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.blockTime = d
		}
	}
}

// New creates a Server.
func New(opts ...Option) (*Server, error) { // A
	s := &Server{
		mux:       http.NewServeMux(),
		log:       logrus.New(),
		clock:     session.RealClock(),
		blockTime: DefaultBlockTime,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.keys.Node == nil || len(s.keys.Master) == 0 || len(s.keys.ChainSeed) == 0 {
		keys, err := GenerateKeys()
		if err != nil {
			return nil, err
		}
		if len(s.keys.Master) == 0 {
			s.keys.Master = keys.Master
		}
		if s.keys.Node == nil {
			s.keys.Node = keys.Node
		}
		if len(s.keys.ChainSeed) == 0 {
			s.keys.ChainSeed = keys.ChainSeed
		}
	}
	if len(s.keys.Master) != keySize {
		return nil, ErrBadMasterKey
	}

	if s.blobs == nil {
		blobs, err := blobstore.Open(blobstore.Config{InMemory: true, Logger: s.log})
		if err != nil {
			return nil, err
		}
		s.blobs = blobs
		s.ownBlobs = true
	}

	s.chain = &chain{
		seed:      s.keys.ChainSeed,
		genesis:   s.clock.Now().Add(-time.Hour),
		blockTime: s.blockTime,
		clock:     s.clock,
	}
	s.challenges = newTTLCache[challenge](challengeTTL, s.clock)
	s.blockhashes = newTTLCache[uint64](blockhashTTL, s.clock)

	s.routes()
	s.handler = s.mux
	if s.limiter != nil {
		s.handler = s.rateLimited(s.mux)
	}
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /tx", s.handleUpload)
	s.mux.HandleFunc("GET /{id}", s.handleFetch)

	s.mux.HandleFunc("GET "+threshold.PathBlockhash, s.handleBlockhash)
	s.mux.HandleFunc("POST "+threshold.PathSessionChallenge, s.handleChallenge)
	s.mux.HandleFunc("POST "+threshold.PathSessionSign, s.handleSign)
	s.mux.HandleFunc("POST "+threshold.PathEncrypt, s.handleEncrypt)
	s.mux.HandleFunc("POST "+threshold.PathDecrypt, s.handleDecrypt)
}

// NodeAddress is the address the node signs sessions with.
func (s *Server) NodeAddress() string {
	addr, _ := s.keys.Node.Address(context.Background())
	return addr
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, X-Request-Id, X-Upload-Tags")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Type, Content-Length, X-Request-Id")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if id := r.Header.Get(threshold.HeaderRequestID); id != "" {
		w.Header().Set(threshold.HeaderRequestID, id)
	}

	s.handler.ServeHTTP(w, r)
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", retryAfterSecond)
			writeError(w, http.StatusTooManyRequests, threshold.CodeRateLimited, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close releases the rate limiter and the blob store if the server opened
// it.
func (s *Server) Close() error {
	if s.limiter != nil {
		s.limiter.close()
	}
	if s.ownBlobs {
		return s.blobs.Close()
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, threshold.ErrorBody{ErrorCode: code, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

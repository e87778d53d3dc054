// Package signing binds tool-execution payloads to a tenant, a user and a
// single-use nonce with HMAC-SHA256.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"time"

	"github.com/google/uuid"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/observability"
)

var (
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrSignatureExpired  = errors.New("signature timestamp outside allowed skew")
	ErrNonceReused       = errors.New("nonce already used")
	ErrMalformed         = errors.New("malformed signed request")
)

// SignedRequest carries a payload and the signature binding it to its
// tenant, user, nonce and timestamp
type SignedRequest struct {
	Payload   []byte    `json:"payload"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Nonce     string    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature"`
}

// Signer signs and verifies requests. A nonce verifies at most once.
type Signer struct {
	key     []byte
	maxSkew time.Duration
	nonces  *nonceCache
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Signer
type Option func(*Signer)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithMetrics records verification failures
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Signer) { s.metrics = m }
}

// NewSigner creates a signer with an already resolved key
func NewSigner(cfg *config.SigningConfig, key []byte, opts ...Option) (*Signer, error) {
	if len(key) < 16 {
		return nil, errors.New("signing key must be at least 16 bytes")
	}
	maxSkew, nonceTTL := 5*time.Minute, 10*time.Minute
	if cfg != nil {
		if cfg.MaxSkew > 0 {
			maxSkew = cfg.MaxSkew.Duration()
		}
		if cfg.NonceTTL > 0 {
			nonceTTL = cfg.NonceTTL.Duration()
		}
	}
	// a nonce must be remembered for as long as its timestamp is acceptable
	if nonceTTL < 2*maxSkew {
		nonceTTL = 2 * maxSkew
	}
	s := &Signer{
		key:     append([]byte(nil), key...),
		maxSkew: maxSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nonces = newNonceCache(nonceTTL, s.now)
	return s, nil
}

// Sign produces a SignedRequest with a fresh nonce
func (s *Signer) Sign(payload []byte, tenantID, userID string) (*SignedRequest, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("%w: tenant and user are required", ErrMalformed)
	}
	req := &SignedRequest{
		Payload:   append([]byte(nil), payload...),
		TenantID:  tenantID,
		UserID:    userID,
		Nonce:     uuid.NewString(),
		Timestamp: s.now().UTC(),
	}
	req.Signature = hex.EncodeToString(s.mac(req))
	return req, nil
}

// Verify checks the signature, the timestamp skew and nonce freshness, in
// that order. The nonce is consumed only when the signature and timestamp
// are valid.
func (s *Signer) Verify(req *SignedRequest) error {
	err := s.verify(req)
	if err != nil {
		s.metrics.RecordSignatureFailure(failureReason(err))
	}
	return err
}

func (s *Signer) verify(req *SignedRequest) error {
	if req == nil || req.Nonce == "" || req.Signature == "" {
		return ErrMalformed
	}
	got, err := hex.DecodeString(req.Signature)
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(got, s.mac(req)) {
		return ErrSignatureMismatch
	}

	skew := s.now().Sub(req.Timestamp)
	if skew > s.maxSkew || -skew > s.maxSkew {
		return ErrSignatureExpired
	}
	if !s.nonces.use(req.Nonce) {
		return ErrNonceReused
	}
	return nil
}

// mac computes HMAC-SHA256 over the length-prefixed fields so no two
// distinct field tuples share an encoding
func (s *Signer) mac(req *SignedRequest) []byte {
	h := hmac.New(sha256.New, s.key)
	writeField(h, req.Payload)
	writeField(h, []byte(req.TenantID))
	writeField(h, []byte(req.UserID))
	writeField(h, []byte(req.Nonce))
	writeField(h, []byte(req.Timestamp.UTC().Format(time.RFC3339Nano)))
	return h.Sum(nil)
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSignatureMismatch):
		return "mismatch"
	case errors.Is(err, ErrSignatureExpired):
		return "expired"
	case errors.Is(err, ErrNonceReused):
		return "nonce_reused"
	default:
		return "malformed"
	}
}

// PurgeNonces drops nonces past their TTL and returns how many were removed
func (s *Signer) PurgeNonces() int {
	return s.nonces.purge()
}

// StartCleanup purges expired nonces every interval until Close
func (s *Signer) StartCleanup(interval time.Duration) {
	s.nonces.start(interval)
}

// Close stops the cleanup goroutine
func (s *Signer) Close() {
	s.nonces.stop()
}

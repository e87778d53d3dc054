package signing

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/grcgate/grcgate/internal/config"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSigner(t require.TestingT) (*Signer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewSigner(nil, testKey, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestSignVerify(t *testing.T) {
	s, _ := newTestSigner(t)
	defer s.Close()

	req, err := s.Sign([]byte(`{"tool":"archer_search_records"}`), "tenant-acme", "user-001")
	require.NoError(t, err)
	assert.NotEmpty(t, req.Nonce)
	assert.Len(t, req.Signature, 64)

	require.NoError(t, s.Verify(req))
	assert.ErrorIs(t, s.Verify(req), ErrNonceReused, "a signed request verifies exactly once")
}

func TestVerify_RejectsFieldChanges(t *testing.T) {
	s, _ := newTestSigner(t)

	mutations := map[string]func(r *SignedRequest){
		"tenant":    func(r *SignedRequest) { r.TenantID = "tenant-globex" },
		"user":      func(r *SignedRequest) { r.UserID = "user-002" },
		"nonce":     func(r *SignedRequest) { r.Nonce += "x" },
		"timestamp": func(r *SignedRequest) { r.Timestamp = r.Timestamp.Add(time.Millisecond) },
		"payload":   func(r *SignedRequest) { r.Payload = append(r.Payload, ' ') },
		"signature": func(r *SignedRequest) { r.Signature = "zz" + r.Signature[2:] },
		// moving bytes between fields must not collide
		"boundary": func(r *SignedRequest) {
			r.TenantID = "tenant-acmeu"
			r.UserID = "ser-001"
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			req, err := s.Sign([]byte("payload"), "tenant-acme", "user-001")
			require.NoError(t, err)
			mutate(req)
			assert.ErrorIs(t, s.Verify(req), ErrSignatureMismatch)
		})
	}
}

func TestVerify_Skew(t *testing.T) {
	s, clock := newTestSigner(t)

	req, err := s.Sign([]byte("p"), "t", "u")
	require.NoError(t, err)
	clock.Advance(5*time.Minute + time.Second)
	assert.ErrorIs(t, s.Verify(req), ErrSignatureExpired)

	req, err = s.Sign([]byte("p"), "t", "u")
	require.NoError(t, err)
	clock.Advance(-10 * time.Minute)
	assert.ErrorIs(t, s.Verify(req), ErrSignatureExpired)

	clock.Advance(5 * time.Minute)
	assert.NoError(t, s.Verify(req), "expired attempts do not consume the nonce")
}

func TestVerify_Malformed(t *testing.T) {
	s, _ := newTestSigner(t)
	assert.ErrorIs(t, s.Verify(nil), ErrMalformed)
	assert.ErrorIs(t, s.Verify(&SignedRequest{Payload: []byte("x")}), ErrMalformed)

	_, err := s.Sign(nil, "", "u")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = NewSigner(nil, []byte("short"))
	assert.Error(t, err)
}

func TestNonceCachePurge(t *testing.T) {
	cfg := &config.SigningConfig{MaxSkew: config.Duration(time.Minute), NonceTTL: config.Duration(time.Second)}
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewSigner(cfg, testKey, WithClock(clock.Now))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, s.nonces.ttl, "nonce ttl covers the whole skew window")

	for i := 0; i < 3; i++ {
		req, err := s.Sign([]byte("p"), "t", "u")
		require.NoError(t, err)
		require.NoError(t, s.Verify(req))
	}
	assert.Equal(t, 3, s.nonces.len())
	assert.Zero(t, s.PurgeNonces())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 3, s.PurgeNonces())
	assert.Zero(t, s.nonces.len())
}

func TestProperty_PayloadTamperDetected(t *testing.T) {
	s, _ := newTestSigner(t)
	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(rt, "payload")
		req, err := s.Sign(payload, "tenant-acme", "user-001")
		require.NoError(rt, err)

		tampered := *req
		tampered.Payload = bytes.Clone(req.Payload)
		i := rapid.IntRange(0, len(payload)-1).Draw(rt, "index")
		flip := rapid.ByteRange(1, 255).Draw(rt, "flip")
		tampered.Payload[i] ^= flip

		require.ErrorIs(rt, s.Verify(&tampered), ErrSignatureMismatch)
		require.NoError(rt, s.Verify(req))
	})
}

package tenant

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionIssuer = "grcgate"

var (
	// ErrInvalidSession is returned for tokens that fail verification
	ErrInvalidSession = errors.New("invalid session token")
	// ErrSessionExpired is returned for expired or revoked sessions
	ErrSessionExpired = errors.New("session expired")
)

// SessionClaims are the platform session JWT claims
type SessionClaims struct {
	TenantID  string   `json:"tenant_id"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"sid"`
	jwt.RegisteredClaims
}

// Session is the server-side record of an issued session
type Session struct {
	SessionID string    `json:"session_id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sessions verifies and issues HS256 session tokens and tracks the
// sessions seen by this process
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	byToken map[string]*Session
	revoked map[string]time.Time // sid -> expiry
}

// NewSessions creates a registry. secret must be non-empty.
func NewSessions(secret []byte, ttl time.Duration, now func() time.Time) (*Sessions, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is not configured")
	}
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		secret:  secret,
		ttl:     ttl,
		now:     now,
		byToken: make(map[string]*Session),
		revoked: make(map[string]time.Time),
	}, nil
}

// Issue signs a session token and registers it
func (s *Sessions) Issue(tenantID, userID string, roles []string) (string, *Session, error) {
	tenantID = strings.TrimSpace(tenantID)
	userID = strings.TrimSpace(userID)
	if tenantID == "" || userID == "" {
		return "", nil, errors.New("tenant and user are required")
	}
	now := s.now().UTC()
	claims := SessionClaims{
		TenantID:  tenantID,
		Roles:     dedupe(roles),
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}
	session := s.RegisterSession(token, &claims)
	return token, session, nil
}

// Parse verifies token and returns its claims
func (s *Sessions) Parse(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrInvalidSession
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSession
	}
	if claims.TenantID == "" || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrInvalidSession
	}
	if s.isRevoked(claims.SessionID) {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// RegisterSession records a verified session under its token. An already
// registered token keeps its original record.
func (s *Sessions) RegisterSession(token string, claims *SessionClaims) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byToken[token]; ok {
		return existing
	}
	session := &Session{
		SessionID: claims.SessionID,
		TenantID:  claims.TenantID,
		UserID:    claims.Subject,
		Roles:     slices.Clone(claims.Roles),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	s.byToken[token] = session
	return session
}

// Lookup returns the registered session for token if it has not expired
func (s *Sessions) Lookup(token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	session, ok := s.byToken[token]
	if !ok {
		return nil, ErrSessionExpired
	}
	cp := *session
	return &cp, nil
}

// RevokeSession drops the session behind token. Further use of the token
// fails until it would have expired anyway.
func (s *Sessions) RevokeSession(token string) error {
	claims, err := s.Parse(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byToken, token)
	s.revoked[claims.SessionID] = claims.ExpiresAt.Time
	return nil
}

func (s *Sessions) isRevoked(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[sid]
	return ok
}

// purgeLocked lazily drops expired sessions and revocations
func (s *Sessions) purgeLocked() {
	now := s.now()
	for token, session := range s.byToken {
		if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
			delete(s.byToken, token)
		}
	}
	for sid, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, sid)
		}
	}
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.byToken)
}

// looksLikeJWT checks the three-part base64url shape without verifying
func looksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			switch {
			case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			default:
				return false
			}
		}
	}
	return true
}

package secure

import (
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/trainstation/gatehouse/internal/util"
)

// csrfTokenBytes is the entropy of a token; encoded length is twice this.
const csrfTokenBytes = 32

// tokenRecord tracks one issued anti-forgery token. A record validates at
// most once: the used flag flips under the manager lock, so of two
// concurrent validations for the same token the first wins and the second
// observes already-used.
type tokenRecord struct {
	token     string
	issuedAt  time.Time
	expiresAt time.Time
	used      bool
}

// TokenManager issues and validates per-session one-time-use CSRF tokens.
// One active record exists per session key; a new issuance overwrites any
// prior record for that session.
type TokenManager struct {
	mu      sync.Mutex
	records map[string]*tokenRecord
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

func newTokenManager(p Policy, now func() time.Time) *TokenManager {
	return &TokenManager{
		records: make(map[string]*tokenRecord),
		ttl:     p.CSRFTokenTTL,
		enabled: p.EnableCSRF,
		now:     now,
	}
}

// Generate mints a lowercase-hex token for the session, replacing any prior
// token. When CSRF protection is disabled by policy it returns an empty
// string and no error.
func (m *TokenManager) Generate(sessionID string) (string, error) {
	if !m.enabled {
		return "", nil
	}
	raw, err := util.RandomBytes(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	now := m.now()
	m.mu.Lock()
	m.records[sessionID] = &tokenRecord{
		token:     token,
		issuedAt:  now,
		expiresAt: now.Add(m.ttl),
	}
	m.mu.Unlock()
	return token, nil
}

// Validate reports whether candidate is the live token for the session.
// A successful validation consumes the token; repeating the call with the
// same value returns false. A token minted for one session never validates
// for another. Expired records are deleted on sight.
func (m *TokenManager) Validate(sessionID, candidate string) bool {
	if !m.enabled {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[sessionID]
	if !ok {
		return false
	}
	if m.now().After(rec.expiresAt) {
		delete(m.records, sessionID)
		return false
	}
	if rec.used {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(rec.token), []byte(candidate)) != 1 {
		return false
	}
	rec.used = true
	return true
}

// Invalidate drops the session's token record, if any.
func (m *TokenManager) Invalidate(sessionID string) {
	m.mu.Lock()
	delete(m.records, sessionID)
	m.mu.Unlock()
}

// sweep removes expired and consumed records to bound memory. Called from
// the Middleware sweep loop.
func (m *TokenManager) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.used || now.After(rec.expiresAt) {
			delete(m.records, id)
		}
	}
}

// pending returns the number of live records. Test hook.
func (m *TokenManager) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

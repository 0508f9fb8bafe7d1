package secure

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the server-side state bound to one session identifier.
// LastActivityAt is never earlier than CreatedAt.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
}

// Reason explains why session validation failed. Callers distinguish
// "log in again" (not_found, expired, idle_timeout) from a security anomaly
// (ip_mismatch) and react differently.
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonExpired     Reason = "expired"
	ReasonIdleTimeout Reason = "idle_timeout"
	ReasonIPMismatch  Reason = "ip_mismatch"
)

// SessionValidation is the outcome of a validation attempt. UserID is set
// only on success; Reason only on failure.
type SessionValidation struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id,omitempty"`
	Reason Reason `json:"reason,omitempty"`
}

// SessionStore abstracts session persistence so sessions can live in memory
// (default, lost on restart) or in backing storage.
type SessionStore interface {
	Get(id string) (Session, bool)
	Put(id string, s Session)
	Delete(id string)
	// Range calls fn for each stored session until fn returns false.
	Range(fn func(id string, s Session) bool)
}

// MemorySessionStore is a mutex-guarded in-memory SessionStore.
type MemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]Session
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]Session)}
}

func (s *MemorySessionStore) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.data[id]
	return sess, ok
}

func (s *MemorySessionStore) Put(id string, sess Session) {
	s.mu.Lock()
	s.data[id] = sess
	s.mu.Unlock()
}

func (s *MemorySessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (s *MemorySessionStore) Range(fn func(id string, sess Session) bool) {
	s.mu.RLock()
	snapshot := make(map[string]Session, len(s.data))
	for id, sess := range s.data {
		snapshot[id] = sess
	}
	s.mu.RUnlock()
	for id, sess := range snapshot {
		if !fn(id, sess) {
			return
		}
	}
}

// Registry tracks sessions and enforces absolute and idle timeouts, plus
// optional IP binding. Stale records are deleted as soon as a validation
// attempt observes them.
type Registry struct {
	store     SessionStore
	maxAge    time.Duration
	maxIdle   time.Duration
	enforceIP bool
	now       func() time.Time
}

func newRegistry(p Policy, store SessionStore, now func() time.Time) *Registry {
	if store == nil {
		store = NewMemorySessionStore()
	}
	return &Registry{
		store:     store,
		maxAge:    p.MaxSessionAge,
		maxIdle:   p.MaxIdleTime,
		enforceIP: p.EnforceIPBinding,
		now:       now,
	}
}

// Create mints a random session identifier and records the binding metadata.
func (r *Registry) Create(userID, ip, userAgent string) (string, error) {
	id := uuid.NewString()
	now := r.now()
	r.store.Put(id, Session{
		ID:             id,
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
		IPAddress:      ip,
		UserAgent:      userAgent,
	})
	return id, nil
}

// Validate checks the session and, on success, refreshes its activity
// timestamp and returns the bound user. Every failure path removes the
// stale record.
func (r *Registry) Validate(id, ip, userAgent string) SessionValidation {
	sess, ok := r.store.Get(id)
	if !ok {
		return SessionValidation{Reason: ReasonNotFound}
	}

	now := r.now()
	if now.Sub(sess.CreatedAt) > r.maxAge {
		r.store.Delete(id)
		return SessionValidation{Reason: ReasonExpired}
	}
	if now.Sub(sess.LastActivityAt) > r.maxIdle {
		r.store.Delete(id)
		return SessionValidation{Reason: ReasonIdleTimeout}
	}
	if r.enforceIP && ip != "" && sess.IPAddress != "" && ip != sess.IPAddress {
		r.store.Delete(id)
		return SessionValidation{Reason: ReasonIPMismatch}
	}

	sess.LastActivityAt = now
	if userAgent != "" {
		sess.UserAgent = userAgent
	}
	r.store.Put(id, sess)
	return SessionValidation{Valid: true, UserID: sess.UserID}
}

// Destroy removes the session (logout).
func (r *Registry) Destroy(id string) {
	r.store.Delete(id)
}

// sweep removes sessions past absolute or idle expiry.
func (r *Registry) sweep() {
	now := r.now()
	var stale []string
	r.store.Range(func(id string, sess Session) bool {
		if now.Sub(sess.CreatedAt) > r.maxAge || now.Sub(sess.LastActivityAt) > r.maxIdle {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		r.store.Delete(id)
	}
}

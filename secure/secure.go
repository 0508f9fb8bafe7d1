// Package secure implements the security-hardening layer of the Train
// Station Dashboard: recursive input sanitization, one-time-use CSRF tokens,
// security response headers, file upload validation, and a session registry
// with idle and absolute timeouts. All state is in-memory and ephemeral
// unless a persistent SessionStore is supplied; nothing here performs
// blocking I/O.
package secure

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"
)

// Middleware composes the five security components behind one façade.
// Construct with New, then Start to launch the background sweep and Stop to
// halt it. A Middleware with no started sweep still works; expired records
// are also pruned lazily on access.
type Middleware struct {
	policy    Policy
	sanitizer *Sanitizer
	csrf      *TokenManager
	headers   *HeaderGenerator
	uploads   *UploadValidator
	sessions  *Registry
	logger    *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// Option configures a Middleware.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	stripper MarkupStripper
	store    SessionStore
	now      func() time.Time
}

// WithLogger sets the structured logger. If not set, a JSON logger writing
// to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMarkupStripper substitutes the HTML sanitization primitive. Any
// implementation satisfying "no executable markup survives" conforms.
func WithMarkupStripper(s MarkupStripper) Option {
	return func(o *options) { o.stripper = s }
}

// WithSessionStore supplies a persistent session store. Default is the
// in-memory store, which does not survive process restart.
func WithSessionStore(s SessionStore) Option {
	return func(o *options) { o.store = s }
}

// WithClock overrides the time source so tests can control expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a Middleware from the policy. The policy is copied and
// immutable afterwards.
func New(policy Policy, opts ...Option) *Middleware {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if o.now == nil {
		o.now = time.Now
	}

	policy = policy.withDefaults()
	sanitizer := newSanitizer(policy, o.stripper)
	return &Middleware{
		policy:    policy,
		sanitizer: sanitizer,
		csrf:      newTokenManager(policy, o.now),
		headers:   newHeaderGenerator(policy),
		uploads:   newUploadValidator(policy, sanitizer),
		sessions:  newRegistry(policy, o.store, o.now),
		logger:    o.logger.With("component", "secure"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep goroutine. It is idempotent. The
// sweep stops when ctx is canceled or Stop is called.
func (m *Middleware) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.sweepLoop(ctx)
	})
}

// Stop halts the background sweep and waits for it to exit. Safe to call
// even if Start never ran, but it consumes the lifecycle either way: a
// stopped Middleware never starts sweeping again, so callers that need a
// fresh sweep loop construct a new Middleware.
func (m *Middleware) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.startOnce.Do(func() { close(m.done) })
	<-m.done
}

func (m *Middleware) sweepLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// Sweep prunes expired tokens and sessions once. The background loop calls
// it on the policy cadence; tests call it directly.
func (m *Middleware) Sweep() {
	m.csrf.sweep()
	m.sessions.sweep()
}

// Policy returns a copy of the effective policy.
func (m *Middleware) Policy() Policy { return m.policy }

// Sanitizer exposes the specialized sanitizers (email, URL, filename,
// rich text, SQL parameter).
func (m *Middleware) Sanitizer() *Sanitizer { return m.sanitizer }

// SanitizeFormData sanitizes every string leaf of a JSON-shaped payload.
func (m *Middleware) SanitizeFormData(data map[string]any) map[string]any {
	return m.sanitizer.FormData(data)
}

// SanitizeValue sanitizes every string leaf of a typed Value tree.
func (m *Middleware) SanitizeValue(v Value) Value {
	return m.sanitizer.Value(v)
}

// SanitizeURLParams sanitizes query parameter keys and values.
func (m *Middleware) SanitizeURLParams(params url.Values) url.Values {
	return m.sanitizer.URLParams(params)
}

// GenerateCSRFToken issues the session's one-time-use token.
func (m *Middleware) GenerateCSRFToken(sessionID string) (string, error) {
	return m.csrf.Generate(sessionID)
}

// ValidateCSRFToken consumes the session's token on success. Invalid is an
// expected, recoverable outcome, reported as false rather than an error.
func (m *Middleware) ValidateCSRFToken(sessionID, token string) bool {
	ok := m.csrf.Validate(sessionID, token)
	if !ok && m.policy.EnableCSRF {
		m.logger.Warn("csrf validation failed", "session_id", sessionID)
	}
	return ok
}

// ApplySecurityHeaders returns the security header map; empty when disabled.
func (m *Middleware) ApplySecurityHeaders() map[string]string {
	return m.headers.Headers()
}

// ValidateFileUpload checks an upload against the policy, accumulating
// every violation.
func (m *Middleware) ValidateFileUpload(u Upload) UploadResult {
	res := m.uploads.Validate(u)
	if !res.Valid {
		m.logger.Info("upload rejected", "name", u.Name, "errors", res.Errors)
	}
	return res
}

// CreateSession mints a session bound to the caller's metadata.
func (m *Middleware) CreateSession(userID, ip, userAgent string) (string, error) {
	return m.sessions.Create(userID, ip, userAgent)
}

// ValidateSession checks the session and refreshes its activity timestamp.
func (m *Middleware) ValidateSession(sessionID, ip, userAgent string) SessionValidation {
	return m.sessions.Validate(sessionID, ip, userAgent)
}

// DestroySession removes the session and its CSRF token.
func (m *Middleware) DestroySession(sessionID string) {
	m.sessions.Destroy(sessionID)
	m.csrf.Invalidate(sessionID)
}

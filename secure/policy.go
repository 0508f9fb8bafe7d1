package secure

import "time"

// Policy is the immutable security configuration for a Middleware instance.
// Disabled flags short-circuit their subsystem to a no-op: the sanitizer
// returns input unchanged, token generation returns an empty string and
// validation always succeeds, and the header generator returns an empty map.
type Policy struct {
	EnableCSRF              bool
	EnableSecurityHeaders   bool
	EnableInputSanitization bool

	// EnableSQLSanitization additionally strips SQL keywords and
	// metacharacters from string values. This is a defense-in-depth layer
	// only; the data access layer must still use parameterized queries.
	EnableSQLSanitization bool

	// EnforceIPBinding rejects session validation when the caller's IP
	// differs from the one recorded at session creation.
	EnforceIPBinding bool

	MaxFileSize       int64
	AllowedMIMETypes  []string
	BlockedExtensions []string

	// RichTextTags is the tag allow-list for rich-text sanitization.
	// Dangerous tags (script, iframe, object, embed, form) and event
	// handler attributes are forbidden regardless of this list.
	RichTextTags []string

	CSRFTokenTTL  time.Duration
	MaxSessionAge time.Duration
	MaxIdleTime   time.Duration

	// SweepInterval is the cadence of the background cleanup of expired
	// tokens and sessions.
	SweepInterval time.Duration
}

const (
	// DefaultMaxFileSize is 10 MiB.
	DefaultMaxFileSize = 10 << 20

	DefaultCSRFTokenTTL  = 1 * time.Hour
	DefaultMaxSessionAge = 24 * time.Hour
	DefaultMaxIdleTime   = 2 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// DefaultPolicy returns the policy the Train Station Dashboard ships with:
// everything enabled, image/document uploads only, executables blocked.
func DefaultPolicy() Policy {
	return Policy{
		EnableCSRF:              true,
		EnableSecurityHeaders:   true,
		EnableInputSanitization: true,
		MaxFileSize:             DefaultMaxFileSize,
		AllowedMIMETypes: []string{
			"image/jpeg",
			"image/png",
			"image/gif",
			"image/webp",
			"application/pdf",
			"text/plain",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
		BlockedExtensions: []string{
			".exe", ".bat", ".cmd", ".scr", ".com", ".pif",
			".vbs", ".js", ".jar", ".msi", ".dll", ".sh", ".ps1",
		},
		RichTextTags: []string{
			"p", "br", "b", "strong", "i", "em", "u",
			"ul", "ol", "li", "blockquote",
		},
		CSRFTokenTTL:  DefaultCSRFTokenTTL,
		MaxSessionAge: DefaultMaxSessionAge,
		MaxIdleTime:   DefaultMaxIdleTime,
		SweepInterval: DefaultSweepInterval,
	}
}

// withDefaults fills zero-valued limits so a partially specified policy
// behaves sensibly. Boolean flags are left exactly as the caller set them.
func (p Policy) withDefaults() Policy {
	if p.MaxFileSize <= 0 {
		p.MaxFileSize = DefaultMaxFileSize
	}
	if p.CSRFTokenTTL <= 0 {
		p.CSRFTokenTTL = DefaultCSRFTokenTTL
	}
	if p.MaxSessionAge <= 0 {
		p.MaxSessionAge = DefaultMaxSessionAge
	}
	if p.MaxIdleTime <= 0 {
		p.MaxIdleTime = DefaultMaxIdleTime
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = DefaultSweepInterval
	}
	return p
}

package secure

import (
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// MarkupStripper removes unsafe markup from a string. An empty allowList
// strips every tag; otherwise only the listed tags survive. Implementations
// must never let script-bearing markup or event-handler attributes through,
// regardless of the allow list.
type MarkupStripper interface {
	Strip(input string, allowList []string) string
}

// forbiddenTags are never allowed through rich-text sanitization, even when
// a caller puts them on the allow list.
var forbiddenTags = map[string]struct{}{
	"script": {},
	"iframe": {},
	"object": {},
	"embed":  {},
	"form":   {},
}

// bluemondayStripper implements MarkupStripper on top of bluemonday.
// Policies are built lazily per allow list and cached; bluemonday policies
// are safe for concurrent use once constructed.
type bluemondayStripper struct {
	strict *bluemonday.Policy

	mu    sync.Mutex
	cache map[string]*bluemonday.Policy
}

// NewMarkupStripper returns the default bluemonday-backed MarkupStripper.
func NewMarkupStripper() MarkupStripper {
	return &bluemondayStripper{
		strict: bluemonday.StrictPolicy(),
		cache:  make(map[string]*bluemonday.Policy),
	}
}

func (b *bluemondayStripper) Strip(input string, allowList []string) string {
	if len(allowList) == 0 {
		return b.strict.Sanitize(input)
	}
	return b.policyFor(allowList).Sanitize(input)
}

func (b *bluemondayStripper) policyFor(allowList []string) *bluemonday.Policy {
	tags := make([]string, 0, len(allowList))
	for _, t := range allowList {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, bad := forbiddenTags[t]; bad {
			continue
		}
		tags = append(tags, t)
	}
	key := strings.Join(tags, ",")

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.cache[key]; ok {
		return p
	}
	p := bluemonday.NewPolicy()
	// Elements only. No attributes are allowed, which excludes every on*
	// event handler and every URL-bearing attribute.
	p.AllowElements(tags...)
	b.cache[key] = p
	return p
}

var (
	// Zero-width characters used to obfuscate payloads like <scr[ZWSP]ipt>.
	zeroWidthReplacer = strings.NewReplacer(
		"\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "",
	)

	eventAttrRe = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	schemeRe    = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)

	// No word boundaries: interleaved evasions such as SESELECTLECT must
	// collapse under the fixed-point loop, at the cost of mangling the
	// occasional innocent word.
	sqlKeywordRe = regexp.MustCompile(
		`(?i)(select|insert|update|delete|drop|union|exec|execute|create|alter|truncate|declare|merge|grant|revoke)`)
	sqlCommentRe  = regexp.MustCompile(`--|/\*|\*/`)
	sqlQuoteChars = strings.NewReplacer("'", "", "\"", "", ";", "", "`", "")

	emailRe = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

	filenameDotsRe = regexp.MustCompile(`\.{2,}`)
)

const (
	// maxSanitizeDepth bounds traversal of nested payloads. Structures
	// deeper than this pass through untouched rather than faulting.
	maxSanitizeDepth = 512

	maxEmailLength    = 254
	maxFilenameLength = 255
)

// Sanitizer strips dangerous markup and, optionally, SQL-meaningful tokens
// from arbitrary nested payloads. All methods are safe for concurrent use.
type Sanitizer struct {
	enabled  bool
	sqlMode  bool
	stripper MarkupStripper
	richTags []string
}

func newSanitizer(p Policy, stripper MarkupStripper) *Sanitizer {
	if stripper == nil {
		stripper = NewMarkupStripper()
	}
	return &Sanitizer{
		enabled:  p.EnableInputSanitization,
		sqlMode:  p.EnableSQLSanitization,
		stripper: stripper,
		richTags: append([]string(nil), p.RichTextTags...),
	}
}

// String sanitizes a single string in text mode: all markup is stripped,
// event-handler fragments and script URI schemes are removed, and SQL tokens
// are removed when SQL mode is on. Plain text comes back unchanged.
func (s *Sanitizer) String(in string) string {
	if !s.enabled || in == "" {
		return in
	}
	out := zeroWidthReplacer.Replace(in)
	out = s.stripper.Strip(out, nil)
	out = scrubScriptRemnants(out)
	if s.sqlMode {
		out = stripSQL(out)
	}
	return out
}

// RichText sanitizes a string keeping the policy's tag allow list. Dangerous
// tags and event-handler attributes never survive, nested or not.
func (s *Sanitizer) RichText(in string) string {
	if !s.enabled || in == "" {
		return in
	}
	out := zeroWidthReplacer.Replace(in)
	out = s.stripper.Strip(out, s.richTags)
	return scrubScriptRemnants(out)
}

// SQLParam strips SQL keywords and metacharacters from a string regardless
// of the policy's SQL mode flag. This is a secondary defense layer for
// values that end up inside query text; it is NOT a substitute for
// parameterized queries.
func (s *Sanitizer) SQLParam(in string) string {
	if !s.enabled || in == "" {
		return in
	}
	return stripSQL(in)
}

// scrubScriptRemnants removes event-handler fragments and executable URI
// schemes that survive entity encoding or partial stripping. Runs to a
// fixed point so split payloads cannot reassemble.
func scrubScriptRemnants(in string) string {
	out := in
	for range 8 {
		next := eventAttrRe.ReplaceAllString(out, "")
		next = schemeRe.ReplaceAllString(next, "")
		if next == out {
			return next
		}
		out = next
	}
	return out
}

// stripSQL removes SQL keywords, quotes, statement separators, and comment
// markers. Iterates to a fixed point so interleaved keywords ("SESELECTLECT")
// do not reassemble after one pass.
func stripSQL(in string) string {
	out := in
	for range 8 {
		next := sqlKeywordRe.ReplaceAllString(out, "")
		next = sqlCommentRe.ReplaceAllString(next, "")
		next = sqlQuoteChars.Replace(next)
		if next == out {
			return next
		}
		out = next
	}
	return out
}

// FormData sanitizes every string leaf of a JSON-shaped payload. Non-string
// leaves (numbers, booleans, nil) and unrecognized types pass through
// unchanged. The input map is not mutated.
func (s *Sanitizer) FormData(data map[string]any) map[string]any {
	if !s.enabled || data == nil {
		return data
	}
	out, _ := s.sanitizeAny(data, 0).(map[string]any)
	return out
}

func (s *Sanitizer) sanitizeAny(v any, depth int) any {
	if depth > maxSanitizeDepth {
		return v
	}
	switch t := v.(type) {
	case string:
		return s.String(t)
	case map[string]any:
		// Two distinct keys can sanitize to the same string; those keep
		// their original names so neither entry is lost.
		cleanKeys := make(map[string]string, len(t))
		seen := make(map[string]int, len(t))
		for k := range t {
			ck := s.String(k)
			cleanKeys[k] = ck
			seen[ck]++
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			ck := cleanKeys[k]
			if seen[ck] > 1 {
				ck = k
			}
			out[ck] = s.sanitizeAny(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.sanitizeAny(val, depth+1)
		}
		return out
	default:
		return v
	}
}

// URLParams sanitizes every key and value of a query parameter set.
func (s *Sanitizer) URLParams(params url.Values) url.Values {
	if !s.enabled || params == nil {
		return params
	}
	cleanKeys := make(map[string]string, len(params))
	seen := make(map[string]int, len(params))
	for k := range params {
		ck := s.String(k)
		cleanKeys[k] = ck
		seen[ck]++
	}
	out := make(url.Values, len(params))
	for k, vals := range params {
		clean := make([]string, len(vals))
		for i, v := range vals {
			clean[i] = s.String(v)
		}
		ck := cleanKeys[k]
		if seen[ck] > 1 {
			ck = k
		}
		out[ck] = clean
	}
	return out
}

// Email sanitizes and validates an email address. The result is lowercased
// and trimmed; a *ValidationError is returned when the cleaned value does
// not look like an address.
func (s *Sanitizer) Email(in string) (string, error) {
	out := strings.ToLower(strings.TrimSpace(s.String(in)))
	if out == "" {
		return "", validationErrorf("email must not be empty")
	}
	if len(out) > maxEmailLength {
		return "", validationErrorf("email exceeds maximum length of %d", maxEmailLength)
	}
	if !emailRe.MatchString(out) {
		return "", validationErrorf("invalid email address %q", out)
	}
	return out, nil
}

// URL sanitizes and validates a URL. Only absolute http and https URLs are
// accepted; anything else is a *ValidationError.
func (s *Sanitizer) URL(in string) (string, error) {
	raw := strings.TrimSpace(in)
	if raw == "" {
		return "", validationErrorf("url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", validationErrorf("invalid url: %v", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", validationErrorf("url scheme %q is not allowed", u.Scheme)
	}
	if u.Host == "" {
		return "", validationErrorf("url must include a host")
	}
	return u.String(), nil
}

// Filename sanitizes a filename for safe persistence: Unicode is NFKC
// normalized, path components are dropped, the charset is restricted to
// alphanumerics plus dot, hyphen, and underscore, runs of dots collapse to
// one, and the result is length capped. An unrecoverable name is a
// *ValidationError.
func (s *Sanitizer) Filename(in string) (string, error) {
	name := norm.NFKC.String(strings.TrimSpace(in))

	// Drop any path prefix, whichever separator style it uses.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := filenameDotsRe.ReplaceAllString(b.String(), ".")
	out = strings.Trim(out, ".")
	if len(out) > maxFilenameLength {
		out = out[:maxFilenameLength]
		out = strings.TrimRight(out, ".")
	}
	if out == "" {
		return "", validationErrorf("filename %q has no safe characters", in)
	}
	return out, nil
}

package secure

import (
	"bytes"
	"fmt"
	"strings"
)

// Upload describes one upload attempt. Content is optional; when present its
// leading bytes are checked against known executable signatures.
type Upload struct {
	Name      string
	MIMEType  string
	SizeBytes int64
	Content   []byte
}

// UploadResult accumulates every violation found for an upload, so a single
// response surfaces all of them. SafeName is the sanitized filename to
// persist under; it falls back to "upload" when the original name has no
// recoverable characters.
type UploadResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	SafeName string   `json:"safe_name"`
}

// executableSignatures are magic numbers of binary executable formats. A
// match rejects the upload even when the declared type and extension look
// harmless, defending against double-extension and extension-stripping
// tricks.
var executableSignatures = []struct {
	magic []byte
	name  string
}{
	{[]byte{0x4D, 0x5A}, "Windows executable"},
	{[]byte{0x7F, 0x45, 0x4C, 0x46}, "ELF executable"},
	{[]byte{0xCA, 0xFE, 0xBA, 0xBE}, "Java class file"},
	{[]byte{0xFE, 0xED, 0xFA, 0xCE}, "Mach-O executable"},
	{[]byte{0xFE, 0xED, 0xFA, 0xCF}, "Mach-O executable"},
	{[]byte{0xCE, 0xFA, 0xED, 0xFE}, "Mach-O executable"},
	{[]byte{0xCF, 0xFA, 0xED, 0xFE}, "Mach-O executable"},
}

// UploadValidator checks uploads against the policy. The MIME check is an
// allow-list because the space of dangerous types is unbounded; the
// extension check is a deny-list applied independently because the declared
// MIME type is attacker-controlled and must not be trusted alone; the
// signature scan is a third, content-based layer.
type UploadValidator struct {
	maxFileSize int64
	allowedMIME map[string]struct{}
	blockedExt  []string
	sanitizer   *Sanitizer
}

func newUploadValidator(p Policy, sanitizer *Sanitizer) *UploadValidator {
	allowed := make(map[string]struct{}, len(p.AllowedMIMETypes))
	for _, m := range p.AllowedMIMETypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	blocked := make([]string, 0, len(p.BlockedExtensions))
	for _, e := range p.BlockedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		blocked = append(blocked, e)
	}
	return &UploadValidator{
		maxFileSize: p.MaxFileSize,
		allowedMIME: allowed,
		blockedExt:  blocked,
		sanitizer:   sanitizer,
	}
}

// Validate runs every check and accumulates violations; it never fails fast.
func (v *UploadValidator) Validate(u Upload) UploadResult {
	var errs []string

	if u.SizeBytes > v.maxFileSize {
		errs = append(errs, fmt.Sprintf("file size %d exceeds the %d byte limit", u.SizeBytes, v.maxFileSize))
	}

	mime := strings.ToLower(strings.TrimSpace(u.MIMEType))
	if _, ok := v.allowedMIME[mime]; !ok {
		errs = append(errs, fmt.Sprintf("file type %q is not allowed", u.MIMEType))
	}

	lower := strings.ToLower(u.Name)
	for _, ext := range v.blockedExt {
		if strings.HasSuffix(lower, ext) {
			errs = append(errs, fmt.Sprintf("file extension %q is blocked", ext))
			break
		}
	}

	if len(u.Content) > 0 {
		if name, ok := matchExecutableSignature(u.Content); ok {
			errs = append(errs, fmt.Sprintf("file content matches a %s signature", name))
		}
	}

	safe, err := v.sanitizer.Filename(u.Name)
	if err != nil {
		safe = "upload"
	}

	return UploadResult{
		Valid:    len(errs) == 0,
		Errors:   errs,
		SafeName: safe,
	}
}

func matchExecutableSignature(content []byte) (string, bool) {
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(content, sig.magic) {
			return sig.name, true
		}
	}
	return "", false
}

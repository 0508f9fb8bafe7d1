package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/trainstation/gatehouse/secure"
)

// maxSanitizeBody caps the /sanitize payload at 1 MiB.
const maxSanitizeBody = 1 << 20

// CreateSession mints a session bound to the caller's address and agent and
// sets the session cookie. This is the one mutating route exempt from CSRF:
// a caller without a session cannot hold a token yet.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if blocked, retryAfter := a.limiter.check(ip); blocked {
		a.audit.logFailure(AuditRateLimited, r, "session creation rate limited")
		a.metrics.rateLimited.Inc()
		writeRateLimited(w, retryAfter)
		return
	}
	a.limiter.record(ip)

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id must not be empty")
		return
	}

	sessionID, err := a.mw.CreateSession(req.UserID, ip, r.UserAgent())
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditSessionCreated, r, req.UserID)
	writeSessionCookie(w, r, sessionID)
	writeJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sessionID,
		Valid:     true,
		UserID:    req.UserID,
	})
}

// SessionStatus reports the validated session. EnsureSession has already
// refreshed the activity timestamp by the time this runs.
func (a *API) SessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionResponse{
		SessionID: sessionIDFromContext(r.Context()),
		Valid:     true,
		UserID:    userIDFromContext(r.Context()),
	})
}

// DestroySession removes the session and its CSRF token (logout).
func (a *API) DestroySession(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromContext(r.Context())
	a.mw.DestroySession(sessionID)
	a.audit.logEvent(AuditSessionDestroyed, r, userIDFromContext(r.Context()))
	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Sanitize runs the payload through the sanitizer and returns the cleaned
// JSON object.
func (a *API) Sanitize(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSanitizeBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	a.metrics.sanitizeRequests.Inc()
	writeJSON(w, http.StatusOK, a.mw.SanitizeFormData(payload))
}

// ValidateUpload accepts either a multipart upload (field "file") or a JSON
// descriptor and returns the accumulated validation result. Multipart
// uploads get their leading bytes checked against executable signatures;
// JSON descriptors are metadata-only.
func (a *API) ValidateUpload(w http.ResponseWriter, r *http.Request) {
	upload, err := uploadFromRequest(w, r, a.mw.Policy().MaxFileSize)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := a.mw.ValidateFileUpload(upload)
	if !res.Valid {
		a.audit.logFailure(AuditUploadRejected, r, strings.Join(res.Errors, "; "))
		a.anomaly.recordUploadRejection()
		a.metrics.uploadRejections.Inc()
	}
	writeJSON(w, http.StatusOK, res)
}

// maxMultipartOverhead covers multipart boundaries and part headers beyond
// the file bytes themselves.
const maxMultipartOverhead = 64 << 10

func uploadFromRequest(w http.ResponseWriter, r *http.Request, maxFileSize int64) (secure.Upload, error) {
	// Bound the whole body before any parsing; without this a multipart
	// request of any size would be consumed (spilling to disk) before the
	// size check could report it. A modest overshoot is allowed so the
	// validator reports the limit violation instead of the read failing.
	r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+maxMultipartOverhead)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxFileSize + 1); err != nil {
			return secure.Upload{}, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return secure.Upload{}, err
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, maxFileSize+1))
		if err != nil {
			return secure.Upload{}, err
		}
		return secure.Upload{
			Name:      header.Filename,
			MIMEType:  header.Header.Get("Content-Type"),
			SizeBytes: header.Size,
			Content:   content,
		}, nil
	}

	var desc UploadDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		return secure.Upload{}, err
	}
	return secure.Upload{
		Name:      desc.Name,
		MIMEType:  desc.MIMEType,
		SizeBytes: desc.SizeBytes,
	}, nil
}

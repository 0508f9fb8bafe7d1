package api

import (
	"net/http"

	"github.com/trainstation/gatehouse/secure"
)

// CSRFMiddleware enforces the one-time-use token for mutating requests.
// Safe methods (GET, HEAD, OPTIONS) are exempt. The token is consumed on
// success: the client must fetch a fresh one from /csrf/token before its
// next mutating call.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		sessionID := sessionIDFromContext(r.Context())
		token := r.Header.Get(secure.CSRFHeaderName)
		if token == "" {
			token = r.PostFormValue("csrf_token")
		}

		if !a.mw.ValidateCSRFToken(sessionID, token) {
			a.audit.logFailure(AuditCSRFRejected, r, "invalid or missing token")
			a.anomaly.recordCSRFRejection()
			a.metrics.csrfRejections.Inc()
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IssueCSRFToken mints the session's token. With CSRF disabled by policy the
// token is empty; the client simply omits the header and validation passes.
func (a *API) IssueCSRFToken(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromContext(r.Context())
	token, err := a.mw.GenerateCSRFToken(sessionID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CSRFTokenResponse{Token: token})
}

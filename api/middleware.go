package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/trainstation/gatehouse/secure"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	userIDKey
)

const sessionCookieName = "gatehouse_session"

// SecurityHeaders sets the policy's security response headers on every
// response. Place it early in the chain.
func (a *API) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range a.mw.ApplySecurityHeaders() {
			w.Header().Set(k, secure.SanitizeHeaderValue(v))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureSession validates the caller's session cookie and stores the
// session ID and bound user on the request context. An expired or idle
// session is reported with its typed reason so the dashboard can choose
// between silent renewal and forced re-authentication.
func (a *API) EnsureSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "missing session")
			return
		}

		v := a.mw.ValidateSession(cookie.Value, clientIP(r), r.UserAgent())
		if !v.Valid {
			a.audit.logFailure(AuditSessionRejected, r, string(v.Reason))
			if v.Reason == secure.ReasonIPMismatch {
				a.audit.logFailure(AuditIPMismatch, r, string(v.Reason))
			}
			clearSessionCookie(w, r)
			writeJSON(w, http.StatusUnauthorized, SessionResponse{Valid: false, Reason: string(v.Reason)})
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, cookie.Value)
		ctx = context.WithValue(ctx, userIDKey, v.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// clientIP returns the direct peer address. Proxy headers are deliberately
// not consulted; the service sits behind the dashboard's own proxy which
// rewrites RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

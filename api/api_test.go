package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainstation/gatehouse/secure"
)

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	api    *API
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithPolicy(t, secure.DefaultPolicy())
}

func newTestEnvWithPolicy(t *testing.T, policy secure.Policy) *testEnv {
	t.Helper()

	mw := secure.New(policy)
	a := New(mw)

	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	r.Get("/metrics", a.MetricsHandler().ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	return &testEnv{srv: srv, client: client, api: a}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) createSession(t *testing.T, userID string) SessionResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/session", CreateSessionRequest{UserID: userID}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[SessionResponse](t, resp)
}

func (e *testEnv) csrfToken(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/v1/csrf/token", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[CSRFTokenResponse](t, resp).Token
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)

	created := e.createSession(t, "dispatcher-7")
	assert.True(t, created.Valid)
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, "dispatcher-7", created.UserID)

	resp := e.do(t, http.MethodGet, "/api/v1/session", nil, nil)
	status := decodeBody[SessionResponse](t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, status.Valid)
	assert.Equal(t, created.SessionID, status.SessionID)
	assert.Equal(t, "dispatcher-7", status.UserID)

	resp = e.do(t, http.MethodDelete, "/api/v1/session", nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/v1/session", nil, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionRejections(t *testing.T) {
	e := newTestEnv(t)

	t.Run("missing cookie", func(t *testing.T) {
		resp, err := http.Get(e.srv.URL + "/api/v1/session")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("empty user id", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/session", CreateSessionRequest{UserID: "  "}, nil)
		body := decodeBody[ErrorResponse](t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body.Error, "user_id")
	})

	t.Run("unknown session reports reason", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/session", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "gatehouse_session", Value: "no-such-session"})
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body := decodeBody[SessionResponse](t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.False(t, body.Valid)
		assert.Equal(t, string(secure.ReasonNotFound), body.Reason)
	})
}

func TestCSRFTokenFlow(t *testing.T) {
	e := newTestEnv(t)
	e.createSession(t, "dispatcher-7")

	token := e.csrfToken(t)
	require.Regexp(t, `^[0-9a-f]{64}$`, token)

	payload := map[string]any{"note": "platform 4 <script>alert(1)</script>"}

	t.Run("valid token accepted once", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/sanitize", payload, http.Header{
			secure.CSRFHeaderName: {token},
		})
		body := decodeBody[map[string]any](t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, body["note"].(string), "<script")
	})

	t.Run("replay rejected", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/sanitize", payload, http.Header{
			secure.CSRFHeaderName: {token},
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/sanitize", payload, nil)
		body := decodeBody[ErrorResponse](t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Contains(t, body.Error, "CSRF")
	})

	t.Run("fresh token works after rejection", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/sanitize", payload, http.Header{
			secure.CSRFHeaderName: {e.csrfToken(t)},
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestSanitizeRejectsNonObject(t *testing.T) {
	e := newTestEnv(t)
	e.createSession(t, "dispatcher-7")

	resp := e.do(t, http.MethodPost, "/api/v1/sanitize", []string{"not", "an", "object"}, http.Header{
		secure.CSRFHeaderName: {e.csrfToken(t)},
	})
	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Error, "JSON object")
}

func TestValidateUploadDescriptor(t *testing.T) {
	e := newTestEnv(t)
	e.createSession(t, "dispatcher-7")

	t.Run("clean descriptor", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/uploads/validate", UploadDescriptor{
			Name:      "schedule.pdf",
			MIMEType:  "application/pdf",
			SizeBytes: 2048,
		}, http.Header{secure.CSRFHeaderName: {e.csrfToken(t)}})
		res := decodeBody[secure.UploadResult](t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, res.Valid)
		assert.Equal(t, "schedule.pdf", res.SafeName)
	})

	t.Run("blocked extension still returns 200 with errors", func(t *testing.T) {
		resp := e.do(t, http.MethodPost, "/api/v1/uploads/validate", UploadDescriptor{
			Name:      "invoice.pdf.exe",
			MIMEType:  "application/pdf",
			SizeBytes: 2048,
		}, http.Header{secure.CSRFHeaderName: {e.csrfToken(t)}})
		res := decodeBody[secure.UploadResult](t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.False(t, res.Valid)
		assert.NotEmpty(t, res.Errors)
	})
}

func buildMultipartUpload(t *testing.T, filename, mimeType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) sendUpload(t *testing.T, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/v1/uploads/validate", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(secure.CSRFHeaderName, e.csrfToken(t))
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	return resp
}

func TestValidateUploadMultipart(t *testing.T) {
	e := newTestEnv(t)
	e.createSession(t, "dispatcher-7")

	send := func(t *testing.T, body *bytes.Buffer, contentType string) secure.UploadResult {
		t.Helper()
		resp := e.sendUpload(t, body, contentType)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decodeBody[secure.UploadResult](t, resp)
	}

	t.Run("clean text file", func(t *testing.T) {
		body, ct := buildMultipartUpload(t, "notes.txt", "text/plain", []byte("platform 4 closed for repairs"))
		res := send(t, body, ct)
		assert.True(t, res.Valid)
	})

	t.Run("executable content caught by signature", func(t *testing.T) {
		body, ct := buildMultipartUpload(t, "report.pdf", "application/pdf", []byte("MZ\x90\x00rest of the binary"))
		res := send(t, body, ct)
		assert.False(t, res.Valid)
	})

	t.Run("disguised executable name", func(t *testing.T) {
		body, ct := buildMultipartUpload(t, "invoice.pdf.exe", "application/pdf", []byte("%PDF-1.4"))
		res := send(t, body, ct)
		assert.False(t, res.Valid)
	})
}

func TestValidateUploadBodyLimit(t *testing.T) {
	policy := secure.DefaultPolicy()
	policy.MaxFileSize = 1024
	e := newTestEnvWithPolicy(t, policy)
	e.createSession(t, "dispatcher-7")

	t.Run("modest overshoot reports the size violation", func(t *testing.T) {
		body, ct := buildMultipartUpload(t, "notes.txt", "text/plain", bytes.Repeat([]byte("a"), 2048))
		resp := e.sendUpload(t, body, ct)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		res := decodeBody[secure.UploadResult](t, resp)
		assert.False(t, res.Valid)
		assert.NotEmpty(t, res.Errors)
	})

	t.Run("grossly oversized body is cut off", func(t *testing.T) {
		// Past the file-size limit plus the multipart overhead allowance the
		// body read is aborted rather than consumed.
		body, ct := buildMultipartUpload(t, "notes.txt", "text/plain", bytes.Repeat([]byte("a"), 256<<10))
		resp := e.sendUpload(t, body, ct)
		resp.Body.Close()
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestCreateSessionRateLimited(t *testing.T) {
	e := newTestEnv(t)
	e.api.limiter.maxRequests = 3

	for i := 0; i < 3; i++ {
		resp := e.do(t, http.MethodPost, "/api/v1/session", CreateSessionRequest{UserID: "u"}, nil)
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := e.do(t, http.MethodPost, "/api/v1/session", CreateSessionRequest{UserID: "u"}, nil)
	body := decodeBody[ErrorResponse](t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, body.Error, "too many")
}

func TestSecurityHeadersApplied(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/session", CreateSessionRequest{UserID: "u"}, nil)
	resp.Body.Close()

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
	assert.NotEmpty(t, resp.Header.Get("Strict-Transport-Security"))
}

func TestOpenAPISpecServed(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/api/v1/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "openapi:")
	assert.Contains(t, string(body), "/uploads/validate")
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.createSession(t, "dispatcher-7")

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gatehouse_http_requests_total")
}

func TestAnomalyDetectorFires(t *testing.T) {
	var fired []AlertEvent
	d := newAnomalyDetector(func(e AlertEvent) { fired = append(fired, e) })
	d.csrfThreshold = 3

	d.recordCSRFRejection()
	d.recordCSRFRejection()
	assert.Empty(t, fired)

	d.recordCSRFRejection()
	require.Len(t, fired, 1)
	assert.Equal(t, AlertCSRFRejectionSpike, fired[0].Type)
	assert.Equal(t, 3, fired[0].Count)

	// Window was reset after firing.
	d.recordCSRFRejection()
	assert.Len(t, fired, 1)
}

func TestAnomalyWindowTrim(t *testing.T) {
	old := time.Now().Add(-2 * time.Minute)
	events := []time.Time{old, old, time.Now()}
	trimmed := trimWindow(events, time.Minute)
	assert.Len(t, trimmed, 1)
}

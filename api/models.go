package api

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateSessionRequest binds a new session to a user.
type CreateSessionRequest struct {
	UserID string `json:"user_id"`
}

// SessionResponse reports the session state to the client.
type SessionResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Valid     bool   `json:"valid"`
	UserID    string `json:"user_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// CSRFTokenResponse carries a freshly issued one-time-use token.
type CSRFTokenResponse struct {
	Token string `json:"token"`
}

// UploadDescriptor is the JSON form of an upload validation request, used
// when the caller validates metadata before transferring file bytes.
type UploadDescriptor struct {
	Name      string `json:"name"`
	MIMEType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

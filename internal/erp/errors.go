package erp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// MaxErrorBodyLength bounds raw error text kept for an execution record.
const MaxErrorBodyLength = 2000

// ErrFiscalNoteNotFound is returned when the ERP has not issued a fiscal note
// for the billing document yet.
var ErrFiscalNoteNotFound = errors.New("fiscal note not found for billing document")

// TransportError means no HTTP response was received (DNS, TLS, timeout...).
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a non-2xx response. Code and Message come from the OData
// error envelope when the body has one; Body is the truncated raw text.
type ProtocolError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("erp returned %d: %s %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("erp returned %d: %s", e.StatusCode, e.Body)
}

// ConflictError is a 412 on a conditional write: someone changed the
// resource after its entity tag was read.
type ConflictError struct {
	ProtocolError
	ETag string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("precondition failed (etag %q): %s", e.ETag, e.ProtocolError.Error())
}

// SessionError means the anti-forgery token or session cookies could not be
// obtained, so no write can be attempted.
type SessionError struct {
	Reason string
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %v", e.Reason, e.Err)
	}
	return "session: " + e.Reason
}

func (e *SessionError) Unwrap() error { return e.Err }

// ErrorCode extracts a short code for the execution record.
func ErrorCode(err error) string {
	var conflict *ConflictError
	var protocol *ProtocolError
	var transport *TransportError
	var session *SessionError
	switch {
	case errors.As(err, &conflict):
		return "PRECONDITION_FAILED"
	case errors.As(err, &protocol):
		if protocol.Code != "" {
			return protocol.Code
		}
		return fmt.Sprintf("HTTP_%d", protocol.StatusCode)
	case errors.As(err, &transport):
		return "TRANSPORT"
	case errors.As(err, &session):
		return "SESSION"
	case errors.Is(err, ErrFiscalNoteNotFound):
		return "NFE_NOT_FOUND"
	}
	return ""
}

// odataError covers both the V2 ({"message":{"value":...}}) and V4
// ({"message":"..."}) error envelopes.
type odataError struct {
	Error struct {
		Code    string          `json:"code"`
		Message json.RawMessage `json:"message"`
	} `json:"error"`
}

func newProtocolError(status int, body []byte) error {
	pe := ProtocolError{StatusCode: status, Body: truncate(string(body), MaxErrorBodyLength)}

	var envelope odataError
	if err := json.Unmarshal(body, &envelope); err == nil {
		pe.Code = envelope.Error.Code
		pe.Message = messageText(envelope.Error.Message)
	}

	if status == http.StatusPreconditionFailed {
		return &ConflictError{ProtocolError: pe}
	}
	return &pe
}

func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v2 struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &v2); err == nil {
		return v2.Value
	}
	return ""
}

const ellipsis = "…"

// truncate bounds s to max bytes, ellipsis included, without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max < len(ellipsis) {
		return ""
	}
	s = s[:max-len(ellipsis)]
	for !utf8.ValidString(s) && len(s) > 0 {
		s = s[:len(s)-1]
	}
	return s + ellipsis
}

package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failed upstream call.
type Kind string

const (
	KindBadRequest       Kind = "bad_request"
	KindAuthFailure      Kind = "auth_failure"
	KindNotFound         Kind = "not_found"
	KindUpstreamInternal Kind = "upstream_internal"
	KindTransportTimeout Kind = "transport_timeout"
	KindResponseTimeout  Kind = "response_timeout"
	KindTransport        Kind = "transport"
	KindRateLimited      Kind = "rate_limited"
	KindUnexpectedStatus Kind = "unexpected_status"
)

var (
	ErrBadRequest       = errors.New("upstream: bad request")
	ErrAuthFailure      = errors.New("upstream: authorization failure")
	ErrNotFound         = errors.New("upstream: resource not found")
	ErrUpstreamInternal = errors.New("upstream: internal server error")
	ErrTransportTimeout = errors.New("upstream: connect timeout")
	ErrResponseTimeout  = errors.New("upstream: response timeout")
	ErrTransport        = errors.New("upstream: transport error")
	ErrRateLimited      = errors.New("upstream: rate limited")
	ErrUnexpectedStatus = errors.New("upstream: unexpected status")
)

var sentinels = map[Kind]error{
	KindBadRequest:       ErrBadRequest,
	KindAuthFailure:      ErrAuthFailure,
	KindNotFound:         ErrNotFound,
	KindUpstreamInternal: ErrUpstreamInternal,
	KindTransportTimeout: ErrTransportTimeout,
	KindResponseTimeout:  ErrResponseTimeout,
	KindTransport:        ErrTransport,
	KindRateLimited:      ErrRateLimited,
	KindUnexpectedStatus: ErrUnexpectedStatus,
}

// Error is the typed failure handed back to callers. Code is the HTTP status when
// one was received.
type Error struct {
	Kind Kind
	Code int
	Text string
	Err  error
}

func newError(kind Kind, code int, text string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Text: text, Err: cause}
}

func (e *Error) Error() string {
	msg := "upstream: " + e.Text
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind's sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if sentinel, ok := sentinels[e.Kind]; ok {
		out = append(out, sentinel)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

type wireError struct {
	Type string `json:"type"`
	Kind Kind   `json:"kind,omitempty"`
	Code int    `json:"code,omitempty"`
	Text string `json:"text"`
}

// MarshalJSON renders the error as {"type":"error","code":N,"text":"..."}.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireError{Type: "error", Kind: e.Kind, Code: e.Code, Text: e.Text})
}

// DecodeError rebuilds an *Error from its JSON form.
func DecodeError(payload []byte) error {
	var wire wireError
	if err := json.Unmarshal(payload, &wire); err != nil {
		return fmt.Errorf("upstream: decode stored error: %w", err)
	}
	if wire.Type != "error" {
		return fmt.Errorf("upstream: stored payload is not an error: %q", wire.Type)
	}
	kind := wire.Kind
	if _, ok := sentinels[kind]; !ok {
		kind = kindForStatus(wire.Code)
	}
	return &Error{Kind: kind, Code: wire.Code, Text: wire.Text}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var upstreamErr *Error
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Kind
	}
	return ""
}

func kindForStatus(code int) Kind {
	switch code {
	case 400:
		return KindBadRequest
	case 403:
		return KindAuthFailure
	case 404:
		return KindNotFound
	case 429:
		return KindRateLimited
	case 500:
		return KindUpstreamInternal
	case 0:
		return KindTransport
	default:
		return KindUnexpectedStatus
	}
}

package graphapi

import (
	"errors"
	"fmt"
)

// Kind discriminates the failures the transport and poller can report.
type Kind string

const (
	KindTargetUnavailable  Kind = "target_unavailable"
	KindMalformedResponse  Kind = "malformed_response"
	KindInvalidTarget      Kind = "invalid_target"
	KindTransferRejected   Kind = "transfer_rejected"
	KindNetworkUnavailable Kind = "network_unavailable"
	KindBackendReported    Kind = "backend_reported"
	KindTimeout            Kind = "timeout"
)

// Sentinels for errors.Is. A *Error matches a sentinel when the kinds agree.
var (
	ErrTargetUnavailable  = &Error{Kind: KindTargetUnavailable}
	ErrMalformedResponse  = &Error{Kind: KindMalformedResponse}
	ErrInvalidTarget      = &Error{Kind: KindInvalidTarget}
	ErrTransferRejected   = &Error{Kind: KindTransferRejected}
	ErrNetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	ErrBackendReported    = &Error{Kind: KindBackendReported}
	ErrTimeout            = &Error{Kind: KindTimeout}
)

// ErrNotReady is returned by FetchStatus when the backend has no graph for the
// file yet (HTTP 404).
var ErrNotReady = errors.New("graph not ready yet")

// Error is the discriminated error returned at the transport boundary.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Body       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindTargetUnavailable:
		msg = "failed to get upload URL"
	case KindMalformedResponse:
		msg = "unexpected response from server"
	case KindInvalidTarget:
		msg = "invalid upload URL received from server"
	case KindTransferRejected:
		msg = "failed to upload file"
	case KindNetworkUnavailable:
		msg = "network error"
	case KindBackendReported:
		msg = "processing failed"
	case KindTimeout:
		msg = "processing did not finish within the polling budget"
	default:
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: HTTP %d", msg, e.StatusCode)
		if e.Body != "" {
			msg += ". " + e.Body
		}
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// BackendError builds the error for a status payload that reported a failure.
func BackendError(message string) error {
	if message == "" {
		message = "Failed to process file"
	}
	return &Error{Kind: KindBackendReported, Message: message}
}

package session

import (
	"errors"
	"strings"

	"github.com/kgraph/cli/internal/graphapi"
)

const (
	MsgConnectFailed  = "Failed to connect to the server. Please check your internet connection and try again."
	MsgUploadFailed   = "Failed to upload file to cloud storage. Please try again."
	MsgNetworkError   = "Network error: Unable to connect to the server. Please check your internet connection."
	MsgServerRejected = "Server connection error. Please try again later."
	MsgUnreachable    = "Unable to reach the server. Please check your internet connection and try again."
	MsgProcessFailed  = "Failed to process file"
	MsgManualCheck    = "Processing may still be in progress. You can try viewing the graph manually."
	MsgGraphNotReady  = "The graph is not ready yet. Try again in a few minutes."
)

// UserMessage turns a pipeline error into the sentence shown to the user.
// Typed transport errors are classified by kind; anything else falls back to
// matching well-known phrases in the error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, graphapi.ErrNotReady) {
		return MsgGraphNotReady
	}

	var apiErr *graphapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case graphapi.KindTargetUnavailable, graphapi.KindMalformedResponse:
			if apiErr.Op == graphapi.OpUploadFile {
				return MsgUploadFailed
			}
			return MsgConnectFailed
		case graphapi.KindInvalidTarget, graphapi.KindTransferRejected:
			return MsgUploadFailed
		case graphapi.KindNetworkUnavailable:
			switch apiErr.Op {
			case graphapi.OpUploadFile:
				return MsgUploadFailed
			case graphapi.OpRequestUploadTarget:
				return MsgConnectFailed
			}
			return MsgNetworkError
		case graphapi.KindBackendReported:
			if apiErr.Message != "" {
				return apiErr.Message
			}
			return MsgProcessFailed
		case graphapi.KindTimeout:
			return MsgManualCheck
		}
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "failed to get upload url"):
		return MsgConnectFailed
	case strings.Contains(text, "failed to upload file"):
		return MsgUploadFailed
	case strings.Contains(text, "network error"):
		return MsgNetworkError
	case strings.Contains(text, "cors"):
		return MsgServerRejected
	case strings.Contains(text, "connection refused"),
		strings.Contains(text, "no such host"),
		strings.Contains(text, "failed to fetch"):
		return MsgUnreachable
	}
	return MsgProcessFailed
}

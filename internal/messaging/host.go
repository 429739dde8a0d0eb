package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/kgraph/cli/internal/view"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
)

// StateEvent is pushed to the extension whenever the view changes.
type StateEvent struct {
	Type              string `json:"type"`
	State             string `json:"state"`
	Status            string `json:"status"`
	Percent           int    `json:"percent"`
	Message           string `json:"message,omitempty"`
	FileName          string `json:"file_name,omitempty"`
	FileID            string `json:"file_id,omitempty"`
	Error             string `json:"error,omitempty"`
	ManualCheck       bool   `json:"manual_check,omitempty"`
	// Only the counts of a result are sent; graphs easily exceed the
	// outgoing message limit.
	NodeCount         int    `json:"node_count,omitempty"`
	RelationshipCount int    `json:"relationship_count,omitempty"`
}

func NewStateEvent(s view.Snapshot) StateEvent {
	ev := StateEvent{
		Type:        "state",
		State:       s.State.String(),
		Status:      s.Status,
		Percent:     s.Percent,
		Message:     s.Message,
		FileName:    s.FileName,
		FileID:      s.FileID,
		Error:       s.ErrorMessage,
		ManualCheck: s.ManualCheck,
	}
	if s.Result != nil {
		ev.NodeCount = s.Result.NodeCount
		ev.RelationshipCount = s.Result.RelationshipCount
	}
	return ev
}

// ErrorEvent reports a failure that the view could not show.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: "error", Error: message}
}

// Host serves native messages on a reader/writer pair, normally stdin and stdout.
type Host struct {
	in         io.Reader
	out        io.Writer
	dispatcher *Dispatcher
	logger     *pterm.Logger

	mu sync.Mutex
}

var _ view.Renderer = (*Host)(nil)

func NewHost(in io.Reader, out io.Writer, dispatcher *Dispatcher, logger *pterm.Logger) *Host {
	if logger == nil {
		logger = util.NewLogger(false)
	}
	return &Host{in: in, out: out, dispatcher: dispatcher, logger: logger}
}

// Serve answers messages until the input closes or ctx is cancelled. Every
// message gets exactly one response, in order.
func (h *Host) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := ReadMessage(h.in)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var msg Message
		var resp Response
		if err := json.Unmarshal(raw, &msg); err != nil {
			resp = Response{Success: false, Error: "invalid message: " + err.Error()}
		} else {
			resp = h.dispatcher.Handle(ctx, msg)
		}
		if err := h.Send(resp); err != nil {
			return err
		}
	}
}

// Send writes one message. It is safe for concurrent use.
func (h *Host) Send(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return WriteMessage(h.out, v)
}

// Render pushes a state event for the snapshot.
func (h *Host) Render(s view.Snapshot) {
	if err := h.Send(NewStateEvent(s)); err != nil {
		h.logger.Warn("failed to push state", h.logger.Args("error", err))
	}
}

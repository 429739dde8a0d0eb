// Package view holds the UI state machine driven by the upload orchestrator.
//
// The machine has four states. Idle moves to Processing when a session
// starts; Processing ends in Result or Error; Result and Error go back to
// Idle. Processing returns to Idle only through Reset. A timed out poll keeps
// the machine in Processing with ManualCheck set.
package view

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/poller"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
)

// ErrInvalidTransition is returned when an event does not apply to the current state.
var ErrInvalidTransition = errors.New("invalid view transition")

type State int

const (
	Idle State = iota
	Processing
	Error
	Result
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Error:
		return "error"
	case Result:
		return "result"
	default:
		return "unknown"
	}
}

// Status lines shown next to the state.
const (
	StatusReady      = "Ready to upload"
	StatusProcessing = "Processing..."
	StatusError      = "Error occurred"
	StatusDone       = "Graph generated successfully"
)

// Snapshot is everything a renderer needs to draw the current state.
type Snapshot struct {
	State        State
	Status       string
	Percent      int
	Message      string
	FileName     string
	FileSize     int64
	FileID       string
	ErrorMessage string
	Result       *graphapi.GraphResult
	ManualCheck  bool
}

// Renderer draws snapshots. It is called with every accepted transition.
type Renderer interface {
	Render(s Snapshot)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Snapshot)

func (f RendererFunc) Render(s Snapshot) { f(s) }

// Machine is the UI state machine. It implements session.Listener.
type Machine struct {
	mu       sync.Mutex
	snap     Snapshot
	renderer Renderer
	logger   *pterm.Logger
}

var _ session.Listener = (*Machine)(nil)

func New(renderer Renderer, logger *pterm.Logger) *Machine {
	if renderer == nil {
		renderer = RendererFunc(func(Snapshot) {})
	}
	if logger == nil {
		logger = util.NewLogger(false)
	}
	return &Machine{
		snap:     Snapshot{State: Idle, Status: StatusReady},
		renderer: renderer,
		logger:   logger,
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Begin enters Processing for a new session. From Result or Error the
// machine passes through Idle first.
func (m *Machine) Begin(s session.UploadSession) error {
	return m.apply("begin", func(cur *Snapshot) error {
		switch cur.State {
		case Idle, Result, Error:
		default:
			return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, cur.State)
		}
		*cur = Snapshot{
			State:    Processing,
			Status:   StatusProcessing,
			FileName: s.FileName,
			FileSize: s.ByteSize,
			Message:  "Uploading " + s.FileName + "...",
		}
		return nil
	})
}

// Progress updates the progress bar while processing. Percent never goes back.
func (m *Machine) Progress(percent int, message string) error {
	return m.apply("progress", func(cur *Snapshot) error {
		if cur.State != Processing {
			return fmt.Errorf("%w: progress in %s", ErrInvalidTransition, cur.State)
		}
		if percent > cur.Percent {
			cur.Percent = percent
		}
		if message != "" {
			cur.Message = message
		}
		return nil
	})
}

// Succeed shows the graph result.
func (m *Machine) Succeed(s session.UploadSession, r graphapi.GraphResult) error {
	return m.apply("succeed", func(cur *Snapshot) error {
		if cur.State != Processing {
			return fmt.Errorf("%w: result in %s", ErrInvalidTransition, cur.State)
		}
		cur.State = Result
		cur.Status = StatusDone
		cur.Percent = 100
		cur.Message = "Graph generated successfully!"
		cur.FileID = s.FileID
		cur.ManualCheck = false
		cur.Result = &r
		return nil
	})
}

// Fail shows message as an error. Besides Processing it is accepted in Idle,
// where a file is rejected before any session starts.
func (m *Machine) Fail(message string) error {
	return m.apply("fail", func(cur *Snapshot) error {
		switch cur.State {
		case Idle, Processing:
		default:
			return fmt.Errorf("%w: error in %s", ErrInvalidTransition, cur.State)
		}
		cur.State = Error
		cur.Status = StatusError
		cur.ErrorMessage = message
		cur.ManualCheck = false
		return nil
	})
}

// Reject shows a failure that happened before a session started, such as a
// download that could not be fetched. It replaces a previous result or
// error; while a session is processing the view is left alone.
func (m *Machine) Reject(message string) error {
	return m.apply("reject", func(cur *Snapshot) error {
		if cur.State == Processing {
			return fmt.Errorf("%w: reject in %s", ErrInvalidTransition, cur.State)
		}
		*cur = Snapshot{State: Error, Status: StatusError, ErrorMessage: message}
		return nil
	})
}

// OfferManualCheck keeps the machine in Processing and offers to check the
// graph by hand.
func (m *Machine) OfferManualCheck(s session.UploadSession) error {
	return m.apply("manual check", func(cur *Snapshot) error {
		if cur.State != Processing {
			return fmt.Errorf("%w: manual check in %s", ErrInvalidTransition, cur.State)
		}
		cur.Percent = 100
		cur.Message = session.MsgManualCheck
		cur.FileID = s.FileID
		cur.ManualCheck = true
		return nil
	})
}

// Reset returns to Idle. It is the only way out of Processing other than a
// result or an error.
func (m *Machine) Reset() error {
	return m.apply("reset", func(cur *Snapshot) error {
		if cur.State == Idle {
			return fmt.Errorf("%w: reset in %s", ErrInvalidTransition, cur.State)
		}
		*cur = Snapshot{State: Idle, Status: StatusReady}
		return nil
	})
}

func (m *Machine) apply(event string, fn func(*Snapshot) error) error {
	m.mu.Lock()
	next := m.snap
	if err := fn(&next); err != nil {
		m.mu.Unlock()
		m.logger.Debug("ignored view event", m.logger.Args("event", event, "error", err))
		return err
	}
	m.snap = next
	m.mu.Unlock()

	m.renderer.Render(next)
	return nil
}

func (m *Machine) OnStarted(s session.UploadSession) { _ = m.Begin(s) }

func (m *Machine) OnStep(percent int, message string) { _ = m.Progress(percent, message) }

func (m *Machine) OnPollProgress(p poller.Progress) { _ = m.Progress(p.Percent, p.Message()) }

func (m *Machine) OnResult(s session.UploadSession, r graphapi.GraphResult) { _ = m.Succeed(s, r) }

func (m *Machine) OnError(err error) { _ = m.Fail(session.UserMessage(err)) }

func (m *Machine) OnManualCheck(s session.UploadSession) { _ = m.OfferManualCheck(s) }

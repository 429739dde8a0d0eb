// Package session runs the upload pipeline for one file at a time: acquire
// an upload target, upload the bytes, then poll until the graph is ready.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/poller"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
)

// ErrNoSession is returned by operations that need a current session.
var ErrNoSession = errors.New("no upload session")

// Transport is the subset of the API client the orchestrator needs.
type Transport interface {
	RequestUploadTarget(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error)
	UploadBytes(ctx context.Context, uploadURL string, payload []byte, contentType string) error
	FetchStatus(ctx context.Context, fileID string) (graphapi.StatusResponse, error)
	CreateShareLink(ctx context.Context, fileID string) (string, error)
	GraphURL(fileID string) string
}

// Listener receives pipeline notifications. Calls happen on the goroutine
// running the pipeline, one at a time.
type Listener interface {
	OnStarted(s UploadSession)
	OnStep(percent int, message string)
	OnPollProgress(p poller.Progress)
	OnResult(s UploadSession, r graphapi.GraphResult)
	OnError(err error)
	OnManualCheck(s UploadSession)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) OnStarted(UploadSession)                      {}
func (NopListener) OnStep(int, string)                           {}
func (NopListener) OnPollProgress(poller.Progress)               {}
func (NopListener) OnResult(UploadSession, graphapi.GraphResult) {}
func (NopListener) OnError(error)                                {}
func (NopListener) OnManualCheck(UploadSession)                  {}

// File is a file picked for upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadSession describes the file currently being processed.
type UploadSession struct {
	ID          uuid.UUID
	FileID      string
	FileName    string
	ByteSize    int64
	ContentType string
	StartedAt   time.Time
	ShareURL    string
	Result      *graphapi.GraphResult
}

// Outcome is how a pipeline run ended.
type Outcome struct {
	Session  UploadSession
	Phase    poller.Phase
	Result   graphapi.GraphResult
	Attempts int
}

// Options configures an Orchestrator.
type Options struct {
	Poll     poller.Config
	Listener Listener
	Logger   *pterm.Logger
}

// Orchestrator owns the single active UploadSession.
type Orchestrator struct {
	transport Transport
	listener  Listener
	pollCfg   poller.Config
	logger    *pterm.Logger

	// startMu serialises replacing the current session.
	startMu sync.Mutex

	mu      sync.Mutex
	current *UploadSession
	last    *File
	cancel  context.CancelFunc
	done    chan struct{}

	activePolls atomic.Int32
}

func New(transport Transport, opts Options) *Orchestrator {
	listener := opts.Listener
	if listener == nil {
		listener = NopListener{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(false)
	}
	if opts.Poll.Logger == nil {
		opts.Poll.Logger = logger
	}
	return &Orchestrator{
		transport: transport,
		listener:  listener,
		pollCfg:   opts.Poll,
		logger:    logger,
	}
}

// Start cancels any running session, waits for it to stop and then runs the
// pipeline for f. It blocks until the pipeline ends.
//
// Failures to get an upload target, to upload, or reported by the backend
// are returned as errors. A timed out poll is not an error: the outcome phase
// is poller.TimedOut and the listener is asked to offer a manual check.
// Cancellation returns a poller.Cancelled outcome and notifies nobody.
func (o *Orchestrator) Start(ctx context.Context, f File) (Outcome, error) {
	o.startMu.Lock()
	o.stop()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s := &UploadSession{
		ID:          uuid.New(),
		FileName:    f.Name,
		ByteSize:    int64(len(f.Data)),
		ContentType: f.ContentType,
		StartedAt:   time.Now(),
	}
	file := f

	o.mu.Lock()
	o.current = s
	o.last = &file
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()
	o.startMu.Unlock()

	defer close(done)
	defer cancel()
	return o.run(runCtx, s, f)
}

// Retry runs the pipeline again for the last started file.
func (o *Orchestrator) Retry(ctx context.Context) (Outcome, error) {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()
	if last == nil {
		return Outcome{}, ErrNoSession
	}
	return o.Start(ctx, *last)
}

// CanRetry reports whether a file has been started that Retry can run again.
func (o *Orchestrator) CanRetry() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last != nil
}

// Reset cancels the running pipeline, waits for it to stop and discards the
// session together with its share link.
func (o *Orchestrator) Reset() {
	o.startMu.Lock()
	defer o.startMu.Unlock()
	o.stop()

	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
}

// Current returns a copy of the current session.
func (o *Orchestrator) Current() (UploadSession, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return UploadSession{}, false
	}
	return *o.current, true
}

// ActivePollLoops reports how many poll loops are running. It is never more than one.
func (o *Orchestrator) ActivePollLoops() int {
	return int(o.activePolls.Load())
}

// GraphURL returns the viewer link for the current session.
func (o *Orchestrator) GraphURL() (string, error) {
	s, ok := o.Current()
	if !ok || s.FileID == "" {
		return "", ErrNoSession
	}
	return o.transport.GraphURL(s.FileID), nil
}

// Share returns the share link of the current session, creating it on first use.
func (o *Orchestrator) Share(ctx context.Context) (string, error) {
	o.mu.Lock()
	s := o.current
	if s == nil || s.FileID == "" {
		o.mu.Unlock()
		return "", ErrNoSession
	}
	if s.ShareURL != "" {
		link := s.ShareURL
		o.mu.Unlock()
		return link, nil
	}
	fileID := s.FileID
	o.mu.Unlock()

	link, err := o.transport.CreateShareLink(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to share graph: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// The session may have been replaced while the request was in flight.
	if o.current != s {
		return link, nil
	}
	if s.ShareURL == "" {
		s.ShareURL = link
	}
	return s.ShareURL, nil
}

// CheckNow performs one status query for the current session. On success the
// result is stored on the session and published to the listener.
func (o *Orchestrator) CheckNow(ctx context.Context) (graphapi.GraphResult, error) {
	o.mu.Lock()
	s := o.current
	o.mu.Unlock()
	if s == nil || s.FileID == "" {
		return graphapi.GraphResult{}, ErrNoSession
	}

	result, err := poller.Check(ctx, o.transport, s.FileID)
	if err != nil {
		return graphapi.GraphResult{}, err
	}

	o.mu.Lock()
	if o.current != s {
		o.mu.Unlock()
		return result, nil
	}
	s.Result = &result
	snapshot := *s
	o.mu.Unlock()

	o.listener.OnResult(snapshot, result)
	return result, nil
}

// stop cancels the running pipeline and waits for it to return.
func (o *Orchestrator) stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (o *Orchestrator) run(ctx context.Context, s *UploadSession, f File) (Outcome, error) {
	log := o.logger
	o.listener.OnStarted(o.snapshot(s))

	o.listener.OnStep(10, "Getting upload URL...")
	target, err := o.transport.RequestUploadTarget(ctx, f.Name, f.ContentType)
	if err != nil {
		return o.fail(ctx, s, err)
	}
	o.mu.Lock()
	s.FileID = target.FileID
	o.mu.Unlock()
	log.Debug("upload target acquired", log.Args("session", s.ID.String(), "file_id", target.FileID))

	o.listener.OnStep(50, "Uploading file to cloud storage...")
	if err := o.transport.UploadBytes(ctx, target.UploadURL, f.Data, f.ContentType); err != nil {
		return o.fail(ctx, s, err)
	}

	o.listener.OnStep(70, "File uploaded successfully. Processing in background...")
	cfg := o.pollCfg
	cfg.OnProgress = o.listener.OnPollProgress
	p := poller.New(o.transport, target.FileID, cfg)

	o.activePolls.Add(1)
	res := p.Run(ctx)
	o.activePolls.Add(-1)

	out := Outcome{Phase: res.Phase, Result: res.Result, Attempts: res.Attempts}
	switch res.Phase {
	case poller.Completed:
		o.mu.Lock()
		s.Result = &res.Result
		o.mu.Unlock()
		out.Session = o.snapshot(s)
		log.Debug("graph ready", log.Args("file_id", target.FileID, "nodes", res.Result.NodeCount, "relationships", res.Result.RelationshipCount))
		o.listener.OnResult(out.Session, res.Result)
		return out, nil
	case poller.Failed:
		out.Session = o.snapshot(s)
		o.listener.OnError(res.Err)
		return out, res.Err
	case poller.TimedOut:
		out.Session = o.snapshot(s)
		log.Debug("polling timed out", log.Args("file_id", target.FileID, "attempts", res.Attempts))
		o.listener.OnManualCheck(out.Session)
		return out, nil
	default:
		out.Session = o.snapshot(s)
		return out, nil
	}
}

func (o *Orchestrator) fail(ctx context.Context, s *UploadSession, err error) (Outcome, error) {
	out := Outcome{Session: o.snapshot(s)}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		out.Phase = poller.Cancelled
		return out, nil
	}
	out.Phase = poller.Failed
	o.listener.OnError(err)
	return out, err
}

func (o *Orchestrator) snapshot(s *UploadSession) UploadSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *s
}

// Package messaging answers structured messages from the browser extension
// and speaks the native-messaging wire format on stdin and stdout.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/kgraph/cli/internal/filetype"
	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/internal/settings"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
)

// Actions understood by the dispatcher.
const (
	ActionGetSettings       = "getSettings"
	ActionUpdateSettings    = "updateSettings"
	ActionOpenGraph         = "openGraph"
	ActionCopyToClipboard   = "copyToClipboard"
	ActionContextMenuFile   = "handleContextMenuFile"
	ActionOpenPopup         = "openPopup"
	ActionRetry             = "retry"
	ActionReset             = "reset"
	ActionShare             = "share"
	ActionCheckNow          = "checkNow"
	ActionViewGraph         = "viewGraph"
	errUnknownAction        = "Unknown action"
	errClipboardUnsupported = "Clipboard access not available in service worker"
)

var (
	errNoSessionControl = errors.New("upload actions are not available")
	errNothingToRetry   = errors.New("no file to retry")
)

// Message is a request from the extension.
type Message struct {
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
	URL      string          `json:"url,omitempty"`
}

// Response answers a Message.
type Response struct {
	Success  bool               `json:"success"`
	Error    string             `json:"error,omitempty"`
	Settings *settings.Settings `json:"settings,omitempty"`
	// URL is the share or graph link answered by share and viewGraph.
	URL string `json:"url,omitempty"`
}

func ok() Response { return Response{Success: true} }

func failure(err error) Response { return Response{Success: false, Error: err.Error()} }

// ContextMenuFile is the payload of handleContextMenuFile.
type ContextMenuFile struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// SettingsStore is the subset of settings.Store the dispatcher uses.
type SettingsStore interface {
	Load() (settings.Settings, error)
	Update(fn func(*settings.Settings) error) (settings.Settings, error)
}

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(url string) error
}

// Uploader starts an upload session for a file.
type Uploader interface {
	Start(ctx context.Context, f session.File) (session.Outcome, error)
}

// SessionControl backs the actions the popup offers on the current upload.
type SessionControl interface {
	CanRetry() bool
	Retry(ctx context.Context) (session.Outcome, error)
	Reset()
	Share(ctx context.Context) (string, error)
	CheckNow(ctx context.Context) (graphapi.GraphResult, error)
	GraphURL() (string, error)
}

// ViewResetter returns the UI to its idle state.
type ViewResetter interface {
	Reset() error
}

// Downloader fetches a linked file.
type Downloader interface {
	Download(ctx context.Context, link string, maxBytes int64) ([]byte, string, error)
}

// DispatcherOptions wires the collaborators of a Dispatcher.
type DispatcherOptions struct {
	Settings   SettingsStore
	Opener     Opener
	Uploader   Uploader
	Downloader Downloader
	// Session and View serve retry, reset, share, checkNow and viewGraph.
	Session SessionControl
	View    ViewResetter
	// OnFailure is told about failures of background uploads started from
	// the context menu before a session exists.
	OnFailure func(err error)
	Logger    *pterm.Logger
}

// Dispatcher routes messages to their handlers.
type Dispatcher struct {
	opts DispatcherOptions
	wg   sync.WaitGroup
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = util.NewLogger(false)
	}
	if opts.OnFailure == nil {
		opts.OnFailure = func(error) {}
	}
	return &Dispatcher{opts: opts}
}

// Handle answers msg. Uploads requested from the context menu continue in
// the background after the response; use Wait to join them.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) Response {
	log := d.opts.Logger
	log.Debug("handling message", log.Args("action", msg.Action))

	switch msg.Action {
	case ActionGetSettings:
		s, err := d.opts.Settings.Load()
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Settings: &s}

	case ActionUpdateSettings:
		if len(msg.Settings) == 0 {
			return failure(errors.New("no settings provided"))
		}
		s, err := d.opts.Settings.Update(func(cur *settings.Settings) error {
			return cur.Merge(msg.Settings)
		})
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Settings: &s}

	case ActionOpenGraph:
		if err := validateURL(msg.URL); err != nil {
			return failure(err)
		}
		if err := d.opts.Opener.Open(msg.URL); err != nil {
			return failure(fmt.Errorf("failed to open graph: %w", err))
		}
		return ok()

	case ActionCopyToClipboard:
		return Response{Success: false, Error: errClipboardUnsupported}

	case ActionContextMenuFile:
		return d.handleContextMenuFile(ctx, msg)

	case ActionRetry, ActionReset, ActionShare, ActionCheckNow, ActionViewGraph:
		if d.opts.Session == nil {
			return failure(errNoSessionControl)
		}
		return d.handleSessionAction(ctx, msg.Action)

	case ActionOpenPopup:
		var data struct {
			Files []json.RawMessage `json:"files"`
		}
		if len(msg.Data) > 0 && json.Unmarshal(msg.Data, &data) == nil && len(data.Files) > 0 {
			log.Info("extension detected files on page", log.Args("count", len(data.Files)))
		}
		return ok()

	default:
		return Response{Success: false, Error: errUnknownAction}
	}
}

// Wait blocks until background uploads started by Handle have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// background runs fn after Handle has answered. Failures are passed to
// OnFailure unless ctx was cancelled, in which case the host is shutting down.
func (d *Dispatcher) background(ctx context.Context, what string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := fn(ctx)
		if err == nil {
			return
		}
		log := d.opts.Logger
		if ctx.Err() != nil {
			log.Debug(what+" stopped", log.Args("error", err))
			return
		}
		log.Debug(what+" failed", log.Args("error", err))
		d.opts.OnFailure(err)
	}()
}

func (d *Dispatcher) handleSessionAction(ctx context.Context, action string) Response {
	ctl := d.opts.Session
	switch action {
	case ActionRetry:
		if !ctl.CanRetry() {
			return failure(errNothingToRetry)
		}
		// Failures of the retried pipeline reach the user through the session listener.
		d.background(ctx, "retry", func(ctx context.Context) error {
			_, err := ctl.Retry(ctx)
			if errors.Is(err, session.ErrNoSession) {
				return err
			}
			return nil
		})
		return ok()

	case ActionReset:
		ctl.Reset()
		if d.opts.View != nil {
			// Already idle is fine.
			_ = d.opts.View.Reset()
		}
		return ok()

	case ActionShare:
		link, err := ctl.Share(ctx)
		if err != nil {
			return failure(userError(err))
		}
		return Response{Success: true, URL: link}

	case ActionCheckNow:
		if _, err := ctl.CheckNow(ctx); err != nil {
			return failure(userError(err))
		}
		return ok()

	case ActionViewGraph:
		link, err := ctl.GraphURL()
		if err != nil {
			return failure(userError(err))
		}
		if err := d.opts.Opener.Open(link); err != nil {
			return failure(fmt.Errorf("failed to open graph: %w", err))
		}
		return Response{Success: true, URL: link}
	}
	return Response{Success: false, Error: errUnknownAction}
}

// userError keeps ErrNoSession as is and turns pipeline errors into the
// sentence shown to the user.
func userError(err error) error {
	if errors.Is(err, session.ErrNoSession) {
		return err
	}
	return errors.New(session.UserMessage(err))
}

func (d *Dispatcher) handleContextMenuFile(ctx context.Context, msg Message) Response {
	var file ContextMenuFile
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &file); err != nil {
			return failure(fmt.Errorf("invalid file data: %w", err))
		}
	}
	if file.URL == "" {
		file.URL = msg.URL
	}
	if err := validateURL(file.URL); err != nil {
		return failure(err)
	}
	if file.Name == "" {
		file.Name = NameFromURL(file.URL)
	}

	current, err := d.opts.Settings.Load()
	if err != nil {
		return failure(err)
	}
	limits, err := current.Limits()
	if err != nil {
		return failure(err)
	}
	category := filetype.Classify(file.Name)
	if category == filetype.Unsupported {
		return failure(&filetype.ValidationError{Err: filetype.ErrUnsupportedType, Name: file.Name})
	}

	d.background(ctx, "context menu upload", func(ctx context.Context) error {
		return d.downloadAndUpload(ctx, file, limits.For(category))
	})
	return ok()
}

func (d *Dispatcher) downloadAndUpload(ctx context.Context, file ContextMenuFile, limit int64) error {
	data, serverType, err := d.opts.Downloader.Download(ctx, file.URL, limit)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	contentType := file.Type
	if contentType == "" {
		contentType = filetype.ContentType(file.Name)
	}
	if contentType == "application/octet-stream" && serverType != "" {
		contentType = serverType
	}
	// Failures after this point reach the user through the session listener.
	_, _ = d.opts.Uploader.Start(ctx, session.File{Name: file.Name, ContentType: contentType, Data: data})
	return nil
}

// NameFromURL returns the last path segment of link.
func NameFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return path.Base(link)
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "." || name == "/" || name == "" {
		return u.Host
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func validateURL(link string) error {
	if strings.TrimSpace(link) == "" {
		return errors.New("no URL provided")
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL %q", link)
	}
	return nil
}

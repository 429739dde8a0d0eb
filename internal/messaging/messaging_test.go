package messaging

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/internal/settings"
	"github.com/kgraph/cli/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type FakeOpener struct {
	OpenFunc func(url string) error
	opened   []string
}

func (f *FakeOpener) Open(url string) error {
	f.opened = append(f.opened, url)
	if f.OpenFunc != nil {
		return f.OpenFunc(url)
	}
	return nil
}

type FakeUploader struct {
	mu        sync.Mutex
	StartFunc func(ctx context.Context, f session.File) (session.Outcome, error)
	files     []session.File
}

func (f *FakeUploader) Start(ctx context.Context, file session.File) (session.Outcome, error) {
	f.mu.Lock()
	f.files = append(f.files, file)
	f.mu.Unlock()
	if f.StartFunc != nil {
		return f.StartFunc(ctx, file)
	}
	return session.Outcome{}, nil
}

type FakeDownloader struct {
	DownloadFunc func(ctx context.Context, link string, maxBytes int64) ([]byte, string, error)
}

func (f *FakeDownloader) Download(ctx context.Context, link string, maxBytes int64) ([]byte, string, error) {
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, link, maxBytes)
	}
	return []byte("package main"), "text/plain; charset=utf-8", nil
}

type FakeSession struct {
	mu           sync.Mutex
	CanRetryFunc func() bool
	RetryFunc    func(ctx context.Context) (session.Outcome, error)
	ShareFunc    func(ctx context.Context) (string, error)
	CheckNowFunc func(ctx context.Context) (graphapi.GraphResult, error)
	GraphURLFunc func() (string, error)
	retries      int
	resets       int
}

func (f *FakeSession) CanRetry() bool {
	if f.CanRetryFunc != nil {
		return f.CanRetryFunc()
	}
	return true
}

func (f *FakeSession) Retry(ctx context.Context) (session.Outcome, error) {
	f.mu.Lock()
	f.retries++
	f.mu.Unlock()
	if f.RetryFunc != nil {
		return f.RetryFunc(ctx)
	}
	return session.Outcome{}, nil
}

func (f *FakeSession) Reset() { f.resets++ }

func (f *FakeSession) Share(ctx context.Context) (string, error) {
	if f.ShareFunc != nil {
		return f.ShareFunc(ctx)
	}
	return "https://viewer.example/share/f-1", nil
}

func (f *FakeSession) CheckNow(ctx context.Context) (graphapi.GraphResult, error) {
	if f.CheckNowFunc != nil {
		return f.CheckNowFunc(ctx)
	}
	return graphapi.GraphResult{FileID: "f-1"}, nil
}

func (f *FakeSession) GraphURL() (string, error) {
	if f.GraphURLFunc != nil {
		return f.GraphURLFunc()
	}
	return "https://viewer.example/graph/f-1", nil
}

type FakeView struct {
	ResetFunc func() error
	resets    int
}

func (f *FakeView) Reset() error {
	f.resets++
	if f.ResetFunc != nil {
		return f.ResetFunc()
	}
	return nil
}

type fixture struct {
	d          *Dispatcher
	store      *settings.Store
	opener     *FakeOpener
	uploader   *FakeUploader
	downloader *FakeDownloader
	session    *FakeSession
	view       *FakeView
	failures   []error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      settings.NewStore(filepath.Join(t.TempDir(), "settings.json")),
		opener:     &FakeOpener{},
		uploader:   &FakeUploader{},
		downloader: &FakeDownloader{},
		session:    &FakeSession{},
		view:       &FakeView{},
	}
	f.d = NewDispatcher(DispatcherOptions{
		Settings:   f.store,
		Opener:     f.opener,
		Uploader:   f.uploader,
		Downloader: f.downloader,
		Session:    f.session,
		View:       f.view,
		OnFailure:  func(err error) { f.failures = append(f.failures, err) },
	})
	return f
}

func TestWriteMessage_Framing(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, map[string]bool{"success": true}))

	raw := buf.Bytes()
	require.Len(t, raw, 4+len(`{"success":true}`))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(raw[:4]))
	assert.Equal(t, `{"success":true}`, string(raw[4:]))

	body, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true}`, string(body))

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteMessage_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, strings.Repeat("x", MaxOutgoingSize))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Zero(t, buf.Len())
}

func TestReadMessage_Truncated(t *testing.T) {
	frame := make([]byte, 4, 6)
	binary.LittleEndian.PutUint32(frame, 10)
	frame = append(frame, '{', '"')

	_, err := ReadMessage(bytes.NewReader(frame))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)

	_, err = ReadMessage(bytes.NewReader([]byte{1, 0}))
	assert.Error(t, err)

	huge := make([]byte, 4)
	binary.LittleEndian.PutUint32(huge, MaxIncomingSize+1)
	_, err = ReadMessage(bytes.NewReader(huge))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestDispatcher_Settings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.d.Handle(ctx, Message{Action: ActionGetSettings})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Settings)
	assert.Equal(t, settings.Defaults(), *resp.Settings)

	resp = f.d.Handle(ctx, Message{Action: ActionUpdateSettings, Settings: json.RawMessage(`{"auto_open_graph":true}`)})
	require.True(t, resp.Success, resp.Error)

	stored, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, stored.AutoOpenGraph)

	resp = f.d.Handle(ctx, Message{Action: ActionUpdateSettings, Settings: json.RawMessage(`{"poll_budget":"never"}`)})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	resp = f.d.Handle(ctx, Message{Action: ActionUpdateSettings})
	assert.False(t, resp.Success)
}

func TestDispatcher_OpenGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.d.Handle(ctx, Message{Action: ActionOpenGraph, URL: "https://viewer.example/graph/abc"})
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"https://viewer.example/graph/abc"}, f.opener.opened)

	resp = f.d.Handle(ctx, Message{Action: ActionOpenGraph, URL: "javascript:alert(1)"})
	assert.False(t, resp.Success)

	f.opener.OpenFunc = func(string) error { return errors.New("no display") }
	resp = f.d.Handle(ctx, Message{Action: ActionOpenGraph, URL: "https://viewer.example/graph/abc"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no display")
}

func TestDispatcher_FixedAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.d.Handle(ctx, Message{Action: ActionCopyToClipboard})
	assert.Equal(t, Response{Success: false, Error: "Clipboard access not available in service worker"}, resp)

	resp = f.d.Handle(ctx, Message{Action: "launchRockets"})
	assert.Equal(t, Response{Success: false, Error: "Unknown action"}, resp)

	resp = f.d.Handle(ctx, Message{Action: ActionOpenPopup, Data: json.RawMessage(`{"files":[{"url":"https://x/a.go"}]}`)})
	assert.True(t, resp.Success)
}

func TestDispatcher_ContextMenuFile(t *testing.T) {
	f := newFixture(t)
	var gotLimit int64
	f.downloader.DownloadFunc = func(ctx context.Context, link string, maxBytes int64) ([]byte, string, error) {
		assert.Equal(t, "https://github.com/acme/repo/raw/main/cmd/main.go", link)
		gotLimit = maxBytes
		return []byte("package main"), "application/octet-stream", nil
	}

	resp := f.d.Handle(context.Background(), Message{
		Action: ActionContextMenuFile,
		URL:    "https://github.com/acme/repo/raw/main/cmd/main.go",
	})
	require.True(t, resp.Success, resp.Error)
	f.d.Wait()

	require.Len(t, f.uploader.files, 1)
	file := f.uploader.files[0]
	assert.Equal(t, "main.go", file.Name)
	assert.Equal(t, "text/plain", file.ContentType)
	assert.Equal(t, "package main", string(file.Data))
	assert.Equal(t, int64(10*1024*1024), gotLimit)
	assert.Empty(t, f.failures)
}

func TestDispatcher_ContextMenuFileUsesProvidedNameAndType(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Handle(context.Background(), Message{
		Action: ActionContextMenuFile,
		Data:   json.RawMessage(`{"url":"https://example.com/download?id=7","name":"Design Doc.pdf","type":"application/pdf"}`),
	})
	require.True(t, resp.Success, resp.Error)
	f.d.Wait()

	require.Len(t, f.uploader.files, 1)
	assert.Equal(t, "Design Doc.pdf", f.uploader.files[0].Name)
	assert.Equal(t, "application/pdf", f.uploader.files[0].ContentType)
}

func TestDispatcher_ContextMenuFileRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.d.Handle(ctx, Message{Action: ActionContextMenuFile, URL: "https://example.com/logo.png"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Unsupported file type. Please upload a document or source code file.", resp.Error)

	resp = f.d.Handle(ctx, Message{Action: ActionContextMenuFile})
	assert.False(t, resp.Success)

	f.downloader.DownloadFunc = func(ctx context.Context, link string, maxBytes int64) ([]byte, string, error) {
		return nil, "", errors.New("download: file larger than 10 MB")
	}
	resp = f.d.Handle(ctx, Message{Action: ActionContextMenuFile, URL: "https://example.com/big.py"})
	require.True(t, resp.Success)
	f.d.Wait()
	require.Len(t, f.failures, 1)
	assert.Empty(t, f.uploader.files)
}

func TestDispatcher_ContextMenuFileSkipsUploadAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.downloader.DownloadFunc = func(context.Context, string, int64) ([]byte, string, error) {
		// The host shuts down while the download finishes.
		cancel()
		return []byte("package main"), "", nil
	}

	resp := f.d.Handle(ctx, Message{Action: ActionContextMenuFile, URL: "https://example.com/main.go"})
	require.True(t, resp.Success, resp.Error)
	f.d.Wait()

	assert.Empty(t, f.uploader.files)
	assert.Empty(t, f.failures)
}

func TestDispatcher_SessionActionsNeedSession(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{Settings: settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))})
	for _, action := range []string{ActionRetry, ActionReset, ActionShare, ActionCheckNow, ActionViewGraph} {
		resp := d.Handle(context.Background(), Message{Action: action})
		assert.False(t, resp.Success, action)
		assert.Equal(t, "upload actions are not available", resp.Error, action)
	}
}

func TestDispatcher_Retry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.session.CanRetryFunc = func() bool { return false }
	resp := f.d.Handle(ctx, Message{Action: ActionRetry})
	assert.False(t, resp.Success)
	assert.Equal(t, "no file to retry", resp.Error)
	assert.Zero(t, f.session.retries)

	f.session.CanRetryFunc = nil
	f.session.RetryFunc = func(ctx context.Context) (session.Outcome, error) {
		return session.Outcome{}, graphapi.BackendError("bad format")
	}
	resp = f.d.Handle(ctx, Message{Action: ActionRetry})
	require.True(t, resp.Success, resp.Error)
	f.d.Wait()
	assert.Equal(t, 1, f.session.retries)
	// Pipeline failures are shown by the session listener.
	assert.Empty(t, f.failures)

	f.session.RetryFunc = func(ctx context.Context) (session.Outcome, error) {
		return session.Outcome{}, session.ErrNoSession
	}
	resp = f.d.Handle(ctx, Message{Action: ActionRetry})
	require.True(t, resp.Success, resp.Error)
	f.d.Wait()
	require.Len(t, f.failures, 1)
	assert.ErrorIs(t, f.failures[0], session.ErrNoSession)
}

func TestDispatcher_ResetClearsSessionAndView(t *testing.T) {
	f := newFixture(t)
	f.view.ResetFunc = func() error { return errors.New("already idle") }

	resp := f.d.Handle(context.Background(), Message{Action: ActionReset})
	assert.True(t, resp.Success)
	assert.Equal(t, 1, f.session.resets)
	assert.Equal(t, 1, f.view.resets)
}

func TestDispatcher_Share(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.d.Handle(ctx, Message{Action: ActionShare})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "https://viewer.example/share/f-1", resp.URL)

	f.session.ShareFunc = func(ctx context.Context) (string, error) { return "", session.ErrNoSession }
	resp = f.d.Handle(ctx, Message{Action: ActionShare})
	assert.False(t, resp.Success)
	assert.Equal(t, session.ErrNoSession.Error(), resp.Error)

	f.session.ShareFunc = func(ctx context.Context) (string, error) {
		return "", errors.New("failed to share graph: connection refused")
	}
	resp = f.d.Handle(ctx, Message{Action: ActionShare})
	assert.False(t, resp.Success)
	assert.Equal(t, session.MsgUnreachable, resp.Error)
}

func TestDispatcher_CheckNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.d.Handle(ctx, Message{Action: ActionCheckNow})
	assert.True(t, resp.Success, resp.Error)

	f.session.CheckNowFunc = func(ctx context.Context) (graphapi.GraphResult, error) {
		return graphapi.GraphResult{}, graphapi.ErrNotReady
	}
	resp = f.d.Handle(ctx, Message{Action: ActionCheckNow})
	assert.False(t, resp.Success)
	assert.Equal(t, session.MsgGraphNotReady, resp.Error)
}

func TestDispatcher_ViewGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.d.Handle(ctx, Message{Action: ActionViewGraph})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "https://viewer.example/graph/f-1", resp.URL)
	assert.Equal(t, []string{"https://viewer.example/graph/f-1"}, f.opener.opened)

	f.opener.OpenFunc = func(string) error { return errors.New("no browser") }
	resp = f.d.Handle(ctx, Message{Action: ActionViewGraph})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "failed to open graph")

	f.session.GraphURLFunc = func() (string, error) { return "", session.ErrNoSession }
	resp = f.d.Handle(ctx, Message{Action: ActionViewGraph})
	assert.False(t, resp.Success)
	assert.Len(t, f.opener.opened, 2)
}

func TestNameFromURL(t *testing.T) {
	assert.Equal(t, "main.go", NameFromURL("https://github.com/a/b/blob/main/main.go"))
	assert.Equal(t, "my file.md", NameFromURL("https://example.com/docs/my%20file.md?raw=1"))
	assert.Equal(t, "example.com", NameFromURL("https://example.com/"))
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, v))
	return buf.Bytes()
}

func readResponses(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		raw, err := ReadMessage(r)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
}

func TestHost_Serve(t *testing.T) {
	f := newFixture(t)
	var in bytes.Buffer
	in.Write(frame(t, Message{Action: ActionGetSettings}))
	in.Write(frame(t, Message{Action: "nope"}))
	in.Write(frame(t, "just a string"))

	var out bytes.Buffer
	h := NewHost(&in, &out, f.d, nil)
	require.NoError(t, h.Serve(context.Background()))

	resps := readResponses(t, &out)
	require.Len(t, resps, 3)
	assert.Equal(t, true, resps[0]["success"])
	assert.NotNil(t, resps[0]["settings"])
	assert.Equal(t, "Unknown action", resps[1]["error"])
	assert.Equal(t, false, resps[2]["success"])
	assert.Contains(t, resps[2]["error"], "invalid message")
}

func TestHost_RenderPushesState(t *testing.T) {
	var out bytes.Buffer
	h := NewHost(&bytes.Buffer{}, &out, newFixture(t).d, nil)

	h.Render(view.Snapshot{
		State:   view.Result,
		Status:  view.StatusDone,
		Percent: 100,
		FileID:  "abc",
		Result:  &graphapi.GraphResult{NodeCount: 4, RelationshipCount: 2},
	})

	resps := readResponses(t, &out)
	require.Len(t, resps, 1)
	assert.Equal(t, "state", resps[0]["type"])
	assert.Equal(t, "result", resps[0]["state"])
	assert.Equal(t, float64(4), resps[0]["node_count"])
	assert.Equal(t, "abc", resps[0]["file_id"])
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FakeTransport implements Transport for testing.
type FakeTransport struct {
	RequestUploadTargetFunc func(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error)
	UploadBytesFunc         func(ctx context.Context, uploadURL string, payload []byte, contentType string) error
	FetchStatusFunc         func(ctx context.Context, fileID string) (graphapi.StatusResponse, error)
	CreateShareLinkFunc     func(ctx context.Context, fileID string) (string, error)

	mu      sync.Mutex
	uploads int
	fetches int
}

func (f *FakeTransport) RequestUploadTarget(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error) {
	if f.RequestUploadTargetFunc != nil {
		return f.RequestUploadTargetFunc(ctx, fileName, contentType)
	}
	return graphapi.UploadTarget{FileID: "abc", UploadURL: "https://bucket.example/abc"}, nil
}

func (f *FakeTransport) UploadBytes(ctx context.Context, uploadURL string, payload []byte, contentType string) error {
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()
	if f.UploadBytesFunc != nil {
		return f.UploadBytesFunc(ctx, uploadURL, payload, contentType)
	}
	return nil
}

func (f *FakeTransport) FetchStatus(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.FetchStatusFunc != nil {
		return f.FetchStatusFunc(ctx, fileID)
	}
	return graphapi.StatusResponse{}, graphapi.ErrNotReady
}

func (f *FakeTransport) CreateShareLink(ctx context.Context, fileID string) (string, error) {
	if f.CreateShareLinkFunc != nil {
		return f.CreateShareLinkFunc(ctx, fileID)
	}
	return "https://share.example/" + fileID, nil
}

func (f *FakeTransport) GraphURL(fileID string) string {
	return "https://viewer.example/graph/" + fileID
}

func (f *FakeTransport) counts() (uploads, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.fetches
}

// recordingListener keeps every notification as a short event string.
type recordingListener struct {
	mu      sync.Mutex
	events  []string
	results []graphapi.GraphResult
	errs    []error
}

func (l *recordingListener) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) OnStarted(s UploadSession) { l.add("started:" + s.FileName) }
func (l *recordingListener) OnStep(percent int, message string) {
	l.add(fmt.Sprintf("step:%d", percent))
}
func (l *recordingListener) OnPollProgress(p poller.Progress) { l.add("poll") }
func (l *recordingListener) OnResult(s UploadSession, r graphapi.GraphResult) {
	l.mu.Lock()
	l.results = append(l.results, r)
	l.mu.Unlock()
	l.add("result:" + s.FileID)
}
func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	l.add("error")
}
func (l *recordingListener) OnManualCheck(s UploadSession) { l.add("manual:" + s.FileID) }

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// stepClock advances only when the poller sleeps.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func fastPoll() poller.Config {
	return poller.Config{Interval: 30 * time.Second, Budget: 15 * time.Minute, Clock: &stepClock{now: time.Unix(0, 0)}}
}

func completedStatus(nodes, edges int) graphapi.StatusResponse {
	items := func(n int) []json.RawMessage {
		out := make([]json.RawMessage, n)
		for i := range out {
			out[i] = json.RawMessage(`{}`)
		}
		return out
	}
	return graphapi.StatusResponse{
		Status:    graphapi.StatusCompleted,
		GraphData: &graphapi.Graph{Nodes: items(nodes), Edges: items(edges)},
	}
}

var testFile = File{Name: "notes.md", ContentType: "text/markdown", Data: []byte("# hello")}

func TestStart_CompletesPipeline(t *testing.T) {
	calls := 0
	ft := &FakeTransport{
		UploadBytesFunc: func(ctx context.Context, uploadURL string, payload []byte, contentType string) error {
			assert.Equal(t, "https://bucket.example/abc", uploadURL)
			assert.Equal(t, "# hello", string(payload))
			assert.Equal(t, "text/markdown", contentType)
			return nil
		},
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			calls++
			if calls <= 3 {
				return graphapi.StatusResponse{}, graphapi.ErrNotReady
			}
			return completedStatus(2, 1), nil
		},
	}
	l := &recordingListener{}
	o := New(ft, Options{Poll: fastPoll(), Listener: l})

	out, err := o.Start(context.Background(), testFile)
	require.NoError(t, err)

	assert.Equal(t, poller.Completed, out.Phase)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, 2, out.Result.NodeCount)
	assert.Equal(t, 1, out.Result.RelationshipCount)
	assert.Equal(t, "abc", out.Session.FileID)
	assert.Equal(t, int64(7), out.Session.ByteSize)
	require.NotNil(t, out.Session.Result)

	assert.Equal(t, []string{
		"started:notes.md", "step:10", "step:50", "step:70",
		"poll", "poll", "poll", "poll", "result:abc",
	}, l.Events())

	url, err := o.GraphURL()
	require.NoError(t, err)
	assert.Equal(t, "https://viewer.example/graph/abc", url)
	assert.Equal(t, 0, o.ActivePollLoops())
}

func TestStart_MissingUploadURLFailsBeforeUpload(t *testing.T) {
	ft := &FakeTransport{
		RequestUploadTargetFunc: func(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error) {
			return graphapi.UploadTarget{}, &graphapi.Error{Kind: graphapi.KindMalformedResponse, Op: graphapi.OpRequestUploadTarget, Message: "no upload URL in response"}
		},
	}
	l := &recordingListener{}
	o := New(ft, Options{Poll: fastPoll(), Listener: l})

	out, err := o.Start(context.Background(), testFile)
	require.Error(t, err)
	assert.ErrorIs(t, err, graphapi.ErrMalformedResponse)
	assert.Equal(t, poller.Failed, out.Phase)

	uploads, fetches := ft.counts()
	assert.Zero(t, uploads)
	assert.Zero(t, fetches)
	assert.Equal(t, []string{"started:notes.md", "step:10", "error"}, l.Events())
	assert.Equal(t, MsgConnectFailed, UserMessage(err))
}

func TestStart_UploadRejectedStopsPipeline(t *testing.T) {
	ft := &FakeTransport{
		UploadBytesFunc: func(ctx context.Context, uploadURL string, payload []byte, contentType string) error {
			return &graphapi.Error{Kind: graphapi.KindTransferRejected, Op: graphapi.OpUploadFile, StatusCode: 403}
		},
	}
	o := New(ft, Options{Poll: fastPoll()})

	out, err := o.Start(context.Background(), testFile)
	assert.ErrorIs(t, err, graphapi.ErrTransferRejected)
	assert.Equal(t, poller.Failed, out.Phase)
	_, fetches := ft.counts()
	assert.Zero(t, fetches)
	assert.Equal(t, MsgUploadFailed, UserMessage(err))
}

func TestStart_BackendErrorEndsInError(t *testing.T) {
	ft := &FakeTransport{
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			return graphapi.StatusResponse{Status: graphapi.StatusError, Error: "bad format"}, nil
		},
	}
	l := &recordingListener{}
	o := New(ft, Options{Poll: fastPoll(), Listener: l})

	out, err := o.Start(context.Background(), testFile)
	require.Error(t, err)
	assert.Equal(t, poller.Failed, out.Phase)
	assert.Equal(t, "bad format", UserMessage(err))

	_, fetches := ft.counts()
	assert.Equal(t, 1, fetches)
	require.Len(t, l.errs, 1)
	assert.Empty(t, l.results)
}

func TestStart_TimeoutOffersManualCheck(t *testing.T) {
	ready := false
	ft := &FakeTransport{
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			if ready {
				return completedStatus(5, 4), nil
			}
			return graphapi.StatusResponse{Status: "processing"}, nil
		},
	}
	l := &recordingListener{}
	o := New(ft, Options{Poll: fastPoll(), Listener: l})

	out, err := o.Start(context.Background(), testFile)
	require.NoError(t, err)
	assert.Equal(t, poller.TimedOut, out.Phase)
	assert.Equal(t, 30, out.Attempts)
	events := l.Events()
	assert.Equal(t, "manual:abc", events[len(events)-1])
	assert.Empty(t, l.errs)

	_, err = o.CheckNow(context.Background())
	assert.ErrorIs(t, err, graphapi.ErrNotReady)
	assert.Equal(t, MsgGraphNotReady, UserMessage(err))

	ready = true
	res, err := o.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.NodeCount)
	require.Len(t, l.results, 1)

	s, ok := o.Current()
	require.True(t, ok)
	require.NotNil(t, s.Result)
	assert.Equal(t, 4, s.Result.RelationshipCount)
}

func TestStart_ReplacesRunningSession(t *testing.T) {
	var o *Orchestrator
	polling := make(chan struct{}, 1)
	ft := &FakeTransport{
		RequestUploadTargetFunc: func(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error) {
			if fileName == "second.md" {
				assert.Equal(t, 0, o.ActivePollLoops(), "previous poll loop still running")
				return graphapi.UploadTarget{FileID: "f2", UploadURL: "https://bucket.example/f2"}, nil
			}
			return graphapi.UploadTarget{FileID: "f1", UploadURL: "https://bucket.example/f1"}, nil
		},
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			if fileID == "f1" {
				select {
				case polling <- struct{}{}:
				default:
				}
				return graphapi.StatusResponse{}, graphapi.ErrNotReady
			}
			return completedStatus(1, 0), nil
		},
	}
	l := &recordingListener{}
	// Real clock with a long interval: the first loop sits in its wait until cancelled.
	o = New(ft, Options{Poll: poller.Config{Interval: time.Hour, Budget: 2 * time.Hour}, Listener: l})

	type result struct {
		out Outcome
		err error
	}
	first := make(chan result, 1)
	go func() {
		out, err := o.Start(context.Background(), File{Name: "first.md", ContentType: "text/markdown"})
		first <- result{out, err}
	}()

	select {
	case <-polling:
	case <-time.After(5 * time.Second):
		t.Fatal("first session never started polling")
	}
	assert.Equal(t, 1, o.ActivePollLoops())

	out, err := o.Start(context.Background(), File{Name: "second.md", ContentType: "text/markdown"})
	require.NoError(t, err)
	assert.Equal(t, poller.Completed, out.Phase)
	assert.Equal(t, "f2", out.Session.FileID)

	select {
	case r := <-first:
		assert.NoError(t, r.err)
		assert.Equal(t, poller.Cancelled, r.out.Phase)
	case <-time.After(5 * time.Second):
		t.Fatal("first session did not stop")
	}

	assert.Empty(t, l.errs)
	require.Len(t, l.results, 1)
	s, ok := o.Current()
	require.True(t, ok)
	assert.Equal(t, "f2", s.FileID)
	assert.Equal(t, 0, o.ActivePollLoops())
}

func TestReset_CancelsPollingWithoutNotification(t *testing.T) {
	polling := make(chan struct{}, 1)
	ft := &FakeTransport{
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			select {
			case polling <- struct{}{}:
			default:
			}
			return graphapi.StatusResponse{}, graphapi.ErrNotReady
		},
	}
	l := &recordingListener{}
	o := New(ft, Options{Poll: poller.Config{Interval: time.Hour, Budget: 2 * time.Hour}, Listener: l})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := o.Start(context.Background(), testFile)
		done <- out
	}()
	<-polling
	o.Reset()

	out := <-done
	assert.Equal(t, poller.Cancelled, out.Phase)
	assert.Empty(t, l.errs)
	assert.Empty(t, l.results)
	for _, e := range l.Events() {
		assert.NotContains(t, e, "manual")
	}
	_, ok := o.Current()
	assert.False(t, ok)
	_, err := o.GraphURL()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStart_CancelledContextDuringTargetRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ft := &FakeTransport{
		RequestUploadTargetFunc: func(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error) {
			cancel()
			return graphapi.UploadTarget{}, ctx.Err()
		},
	}
	l := &recordingListener{}
	o := New(ft, Options{Poll: fastPoll(), Listener: l})

	out, err := o.Start(ctx, testFile)
	assert.NoError(t, err)
	assert.Equal(t, poller.Cancelled, out.Phase)
	assert.Empty(t, l.errs)
}

func TestShare_CachesLinkPerSession(t *testing.T) {
	calls := 0
	ft := &FakeTransport{
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			return completedStatus(1, 1), nil
		},
		CreateShareLinkFunc: func(ctx context.Context, fileID string) (string, error) {
			calls++
			return fmt.Sprintf("https://share.example/%s/%d", fileID, calls), nil
		},
	}
	o := New(ft, Options{Poll: fastPoll()})

	_, err := o.Share(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = o.Start(context.Background(), testFile)
	require.NoError(t, err)

	first, err := o.Share(context.Background())
	require.NoError(t, err)
	second, err := o.Share(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	_, err = o.Start(context.Background(), testFile)
	require.NoError(t, err)
	third, err := o.Share(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	o.Reset()
	_, err = o.Share(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestShare_Error(t *testing.T) {
	ft := &FakeTransport{
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			return completedStatus(1, 0), nil
		},
		CreateShareLinkFunc: func(ctx context.Context, fileID string) (string, error) {
			return "", errors.New("HTTP 500")
		},
	}
	o := New(ft, Options{Poll: fastPoll()})
	_, err := o.Start(context.Background(), testFile)
	require.NoError(t, err)

	_, err = o.Share(context.Background())
	assert.ErrorContains(t, err, "failed to share graph")
}

func TestRetry(t *testing.T) {
	var names []string
	ft := &FakeTransport{
		RequestUploadTargetFunc: func(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error) {
			names = append(names, fileName)
			if len(names) == 1 {
				return graphapi.UploadTarget{}, &graphapi.Error{Kind: graphapi.KindTargetUnavailable, StatusCode: 502}
			}
			return graphapi.UploadTarget{FileID: "abc", UploadURL: "https://bucket.example/abc"}, nil
		},
		FetchStatusFunc: func(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
			return completedStatus(1, 0), nil
		},
	}
	o := New(ft, Options{Poll: fastPoll()})

	assert.False(t, o.CanRetry())
	_, err := o.Retry(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = o.Start(context.Background(), testFile)
	assert.ErrorIs(t, err, graphapi.ErrTargetUnavailable)
	assert.True(t, o.CanRetry())

	out, err := o.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poller.Completed, out.Phase)
	assert.Equal(t, []string{"notes.md", "notes.md"}, names)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"target unavailable", &graphapi.Error{Kind: graphapi.KindTargetUnavailable}, MsgConnectFailed},
		{"network on target", &graphapi.Error{Kind: graphapi.KindNetworkUnavailable, Op: graphapi.OpRequestUploadTarget}, MsgConnectFailed},
		{"network on upload", &graphapi.Error{Kind: graphapi.KindNetworkUnavailable, Op: graphapi.OpUploadFile}, MsgUploadFailed},
		{"network elsewhere", &graphapi.Error{Kind: graphapi.KindNetworkUnavailable}, MsgNetworkError},
		{"invalid target", &graphapi.Error{Kind: graphapi.KindInvalidTarget}, MsgUploadFailed},
		{"backend default", &graphapi.Error{Kind: graphapi.KindBackendReported}, MsgProcessFailed},
		{"timeout", graphapi.ErrTimeout, MsgManualCheck},
		{"wrapped", fmt.Errorf("outer: %w", &graphapi.Error{Kind: graphapi.KindTransferRejected}), MsgUploadFailed},
		{"cors text", errors.New("CORS policy blocked the request"), MsgServerRejected},
		{"refused text", errors.New("dial tcp: connection refused"), MsgUnreachable},
		{"network text", errors.New("Network error during file upload"), MsgNetworkError},
		{"unknown", errors.New("something odd"), MsgProcessFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kgraph/cli/internal/graphapi"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"
)

var outBuf bytes.Buffer

// setupStdoutCapture sends pterm output to outBuf for the duration of the test.
func setupStdoutCapture(t *testing.T) {
	t.Helper()
	outBuf.Reset()
	pterm.SetDefaultOutput(&outBuf)
	pterm.DisableStyling()
	t.Cleanup(func() {
		pterm.SetDefaultOutput(os.Stdout)
		pterm.EnableStyling()
	})
}

// captureStdout collects what fn writes to os.Stdout, e.g. JSON output.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = old })

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	fn()
	w.Close()
	os.Stdout = old
	return <-done
}

// FakeGraphService implements every backend interface the commands use.
type FakeGraphService struct {
	mu sync.Mutex

	RequestUploadTargetFunc func(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error)
	UploadBytesFunc         func(ctx context.Context, uploadURL string, payload []byte, contentType string) error
	FetchStatusFunc         func(ctx context.Context, fileID string) (graphapi.StatusResponse, error)
	CreateShareLinkFunc     func(ctx context.Context, fileID string) (string, error)
	HealthCheckFunc         func(ctx context.Context) (graphapi.Health, error)
	DownloadFunc            func(ctx context.Context, link string, maxBytes int64) ([]byte, string, error)

	targets []string
	uploads int
	fetches int
}

func (f *FakeGraphService) RequestUploadTarget(ctx context.Context, fileName, contentType string) (graphapi.UploadTarget, error) {
	f.mu.Lock()
	f.targets = append(f.targets, fileName+" "+contentType)
	f.mu.Unlock()
	if f.RequestUploadTargetFunc != nil {
		return f.RequestUploadTargetFunc(ctx, fileName, contentType)
	}
	return graphapi.UploadTarget{FileID: "f-1", UploadURL: "https://bucket.example/f-1"}, nil
}

func (f *FakeGraphService) UploadBytes(ctx context.Context, uploadURL string, payload []byte, contentType string) error {
	f.mu.Lock()
	f.uploads++
	f.mu.Unlock()
	if f.UploadBytesFunc != nil {
		return f.UploadBytesFunc(ctx, uploadURL, payload, contentType)
	}
	return nil
}

func (f *FakeGraphService) FetchStatus(ctx context.Context, fileID string) (graphapi.StatusResponse, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	if f.FetchStatusFunc != nil {
		return f.FetchStatusFunc(ctx, fileID)
	}
	return completedStatus(3, 2), nil
}

func (f *FakeGraphService) CreateShareLink(ctx context.Context, fileID string) (string, error) {
	if f.CreateShareLinkFunc != nil {
		return f.CreateShareLinkFunc(ctx, fileID)
	}
	return "https://viewer.example/share/" + fileID, nil
}

func (f *FakeGraphService) HealthCheck(ctx context.Context) (graphapi.Health, error) {
	if f.HealthCheckFunc != nil {
		return f.HealthCheckFunc(ctx)
	}
	return graphapi.Health{Status: "ok"}, nil
}

func (f *FakeGraphService) Download(ctx context.Context, link string, maxBytes int64) ([]byte, string, error) {
	if f.DownloadFunc != nil {
		return f.DownloadFunc(ctx, link, maxBytes)
	}
	return nil, "", errors.New("download not stubbed")
}

func (f *FakeGraphService) GraphURL(fileID string) string {
	return "https://viewer.example/graph/" + fileID
}

func (f *FakeGraphService) BaseURL() string { return "https://api.example" }

func (f *FakeGraphService) counts() (targets, uploads, fetches int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets), f.uploads, f.fetches
}

func completedStatus(nodes, edges int) graphapi.StatusResponse {
	g := &graphapi.Graph{}
	for i := 0; i < nodes; i++ {
		g.Nodes = append(g.Nodes, []byte(`{}`))
	}
	for i := 0; i < edges; i++ {
		g.Edges = append(g.Edges, []byte(`{}`))
	}
	return graphapi.StatusResponse{Status: graphapi.StatusCompleted, GraphData: g}
}

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

// fakeClock fires every wait immediately, moving time forward by its length.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

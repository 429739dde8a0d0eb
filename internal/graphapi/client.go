// Package graphapi is the HTTP client for the knowledge-graph backend: upload
// targets, byte uploads, processing status, share links and health checks.
package graphapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL     = "https://rj66xwfu1d.execute-api.us-east-1.amazonaws.com/Prod"
	DefaultFrontendURL = "https://text-to-knowledge-graph-frontend.vercel.app"

	OpRequestUploadTarget = "request upload target"
	OpUploadFile          = "upload file"

	// maxErrorBody caps how much of an error response is kept in the error message.
	maxErrorBody = 512
)

// uploadURLKeys are the response fields that may carry the upload URL, in
// probing order. The backend has used all three names.
var uploadURLKeys = []string{"upload_url", "presigned_url", "url"}

// Options configures a Client.
type Options struct {
	BaseURL     string
	FrontendURL string
	// APIKey is sent as a bearer token to the API endpoints. It is never sent
	// to upload URLs, which carry their own signature.
	APIKey string
	Logger *pterm.Logger
	// HTTPClient overrides the underlying client, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to the backend API and to pre-signed upload URLs.
// Requests are never retried here; retry policy belongs to the caller.
type Client struct {
	api         *retryablehttp.Client
	transfer    *retryablehttp.Client
	baseURL     string
	frontendURL string
	logger      *pterm.Logger
}

func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(false)
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	frontendURL := strings.TrimRight(opts.FrontendURL, "/")
	if frontendURL == "" {
		frontendURL = DefaultFrontendURL
	}

	transfer := newRetryableClient(opts.HTTPClient, logger)
	api := newRetryableClient(opts.HTTPClient, logger)
	if opts.APIKey != "" {
		base := api.HTTPClient
		api.HTTPClient = &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.APIKey, TokenType: "Bearer"}),
				Base:   base.Transport,
			},
			CheckRedirect: base.CheckRedirect,
			Jar:           base.Jar,
		}
	}

	return &Client{
		api:         api,
		transfer:    transfer,
		baseURL:     baseURL,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

func newRetryableClient(base *http.Client, logger *pterm.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	if base != nil {
		c.HTTPClient = base
	}
	c.RetryMax = 0
	// Hand non-2xx responses back to us instead of turning them into
	// "giving up after 1 attempt(s)" errors.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = util.LeveledLogger{Logger: logger}
	return c
}

// BaseURL returns the API base URL the client was configured with.
func (c *Client) BaseURL() string { return c.baseURL }

// GraphURL returns the viewer page for a processed file.
func (c *Client) GraphURL(fileID string) string {
	return c.frontendURL + "/graph/" + url.PathEscape(fileID)
}

// RequestUploadTarget asks the backend for a pre-signed upload URL for fileName.
func (c *Client) RequestUploadTarget(ctx context.Context, fileName, contentType string) (UploadTarget, error) {
	const op = OpRequestUploadTarget

	q := url.Values{}
	q.Set("file_name", fileName)
	q.Set("content_type", contentType)
	endpoint := c.baseURL + "/get_presigned_url?" + q.Encode()

	req, err := c.newAPIRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return UploadTarget{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, c.api, req, op)
	if err != nil {
		return UploadTarget{}, err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return UploadTarget{}, &Error{Kind: KindTargetUnavailable, Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var fields map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return UploadTarget{}, &Error{Kind: KindMalformedResponse, Op: op, Err: err}
	}

	fileID := stringField(fields["file_id"])
	if fileID == "" {
		return UploadTarget{}, &Error{Kind: KindMalformedResponse, Op: op, Message: "no file_id in response"}
	}

	key, ok := lo.Find(uploadURLKeys, func(k string) bool {
		return stringField(fields[k]) != ""
	})
	if !ok {
		present := lo.Keys(fields)
		sort.Strings(present)
		c.logger.Debug("no upload URL in upload target response", c.logger.Args("fields", strings.Join(present, ",")))
		return UploadTarget{}, &Error{Kind: KindMalformedResponse, Op: op, Message: "no upload URL in response"}
	}

	target := UploadTarget{FileID: fileID, UploadURL: stringField(fields[key])}
	c.logger.Debug("received upload target", c.logger.Args("file_id", target.FileID, "field", key))
	return target, nil
}

// UploadBytes PUTs payload to a pre-signed upload URL.
func (c *Client) UploadBytes(ctx context.Context, uploadURL string, payload []byte, contentType string) error {
	const op = OpUploadFile

	uploadURL = strings.TrimSpace(uploadURL)
	if uploadURL == "" || uploadURL == "undefined" {
		return &Error{Kind: KindInvalidTarget, Op: op}
	}
	parsed, err := url.Parse(uploadURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return &Error{Kind: KindInvalidTarget, Op: op, Err: err}
	}

	req, err := retryablehttp.NewRequest(http.MethodPut, uploadURL, payload)
	if err != nil {
		return &Error{Kind: KindInvalidTarget, Op: op, Err: err}
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(payload))

	c.logger.Debug("uploading file", c.logger.Args("bytes", len(payload), "content_type", contentType))
	resp, err := c.do(ctx, c.transfer, req, op)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return &Error{Kind: KindTransferRejected, Op: op, StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	return nil
}

// FetchStatus reads the processing status of fileID. It returns ErrNotReady
// while the backend has nothing stored for the file.
func (c *Client) FetchStatus(ctx context.Context, fileID string) (StatusResponse, error) {
	const op = "fetch status"

	req, err := c.newAPIRequest(ctx, http.MethodGet, c.baseURL+"/get_saved_graph/"+url.PathEscape(fileID), nil)
	if err != nil {
		return StatusResponse{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, c.api, req, op)
	if err != nil {
		return StatusResponse{}, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return StatusResponse{}, ErrNotReady
	}
	if !isSuccess(resp.StatusCode) {
		return StatusResponse{}, fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusResponse{}, &Error{Kind: KindNetworkUnavailable, Op: op, Err: err}
	}
	var status StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return StatusResponse{}, &Error{Kind: KindMalformedResponse, Op: op, Err: err}
	}
	status.raw = string(body)
	return status, nil
}

// CreateShareLink asks the backend for a shareable URL of a processed file.
func (c *Client) CreateShareLink(ctx context.Context, fileID string) (string, error) {
	const op = "generate share link"

	body, err := json.Marshal(map[string]string{"file_id": fileID})
	if err != nil {
		return "", err
	}
	req, err := c.newAPIRequest(ctx, http.MethodPost, c.baseURL+"/generate-share-link", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, c.api, req, op)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return "", fmt.Errorf("failed to generate share link: HTTP %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var out struct {
		ShareURL string `json:"share_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Kind: KindMalformedResponse, Op: op, Err: err}
	}
	if out.ShareURL == "" {
		return "", &Error{Kind: KindMalformedResponse, Op: op, Message: "no share_url in response"}
	}
	return out.ShareURL, nil
}

// HealthCheck queries the backend. A non-JSON 2xx body still counts as healthy.
func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	const op = "health check"

	req, err := c.newAPIRequest(ctx, http.MethodGet, c.baseURL+"/health_check", nil)
	if err != nil {
		return Health{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, c.api, req, op)
	if err != nil {
		return Health{}, err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return Health{}, fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, readErrorBody(resp.Body))
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		c.logger.Debug("health check body is not JSON", c.logger.Args("error", err))
	}
	if h.Status == "" {
		h.Status = "ok"
	}
	return h, nil
}

// Download fetches a linked file, reading at most maxBytes. It returns the
// body and the content type reported by the server.
func (c *Client) Download(ctx context.Context, link string, maxBytes int64) ([]byte, string, error) {
	const op = "download"

	req, err := retryablehttp.NewRequest(http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid link %q: %w", link, err)
	}
	req = req.WithContext(ctx)

	resp, err := c.do(ctx, c.transfer, req, op)
	if err != nil {
		return nil, "", err
	}
	defer c.closeBody(resp.Body)

	if !isSuccess(resp.StatusCode) {
		return nil, "", fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, readErrorBody(resp.Body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", &Error{Kind: KindNetworkUnavailable, Op: op, Err: err}
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%s: file larger than %s", op, util.FormatBytes(maxBytes))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) newAPIRequest(ctx context.Context, method, endpoint string, body []byte) (*retryablehttp.Request, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequest(method, endpoint, rawBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req.WithContext(ctx), nil
}

// do sends req and maps transport failures. Cancellation is returned as the
// context error so callers can tell it apart from connectivity problems.
func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, req *retryablehttp.Request, op string) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		if resp != nil {
			c.closeBody(resp.Body)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &Error{Kind: KindNetworkUnavailable, Op: op, Err: err}
	}
	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Debug("failed to close response body", c.logger.Args("error", err))
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "No error details available"
	}
	return strings.TrimSpace(string(b))
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

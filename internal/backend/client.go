package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dropagent/internal/common"
	"dropagent/internal/config"
)

const errorSnippetLimit = 400

// Client is a single-attempt wrapper around the backend REST API.
// Retries are the caller's responsibility.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a backend client from config. The HTTP timeout bounds every
// call, including artifact downloads.
func New(cfg config.BackendConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// pendingEntry tolerates both list shapes the backend has produced over time:
// [{"filename":"a.rak"}] and ["a.rak"].
type pendingEntry struct {
	Filename string `json:"filename"`
}

func (e *pendingEntry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.Filename)
	}
	type alias pendingEntry
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	e.Filename = a.Filename
	return nil
}

// FetchPending returns the filenames of triggers waiting to be processed.
// 204 or an empty body means no work.
func (c *Client) FetchPending(ctx context.Context) ([]string, error) {
	body, status, err := c.get(ctx, common.PathPendingTriggers)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var entries []pendingEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse pending list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Filename != "" {
			names = append(names, e.Filename)
		}
	}
	return names, nil
}

// DownloadTrigger streams a pending trigger payload to dest.
func (c *Client) DownloadTrigger(ctx context.Context, filename, dest string) error {
	p, err := url.JoinPath(common.PathPendingTriggers, filename)
	if err != nil {
		return fmt.Errorf("join url: %w", err)
	}
	return c.downloadToFile(ctx, p, dest)
}

// DownloadSource streams the working artifact for a correlation id to dest.
// Any partially-written file is removed on failure so the caller never
// leaves a truncated artifact behind.
func (c *Client) DownloadSource(ctx context.Context, correlationID, dest string) error {
	return c.downloadToFile(ctx, fmt.Sprintf(common.PathSourceArtifactFmt, url.PathEscape(correlationID)), dest)
}

// Ack tells the backend a trigger has been consumed, removing it from the
// pending set. Best-effort; the caller logs failures and moves on.
func (c *Client) Ack(ctx context.Context, filename string) error {
	payload, err := json.Marshal(map[string]string{"filename": filename})
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+common.PathAck, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
		return fmt.Errorf("ack status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// UploadBundle posts the result file (field "xml") plus an optional companion
// artifact under companionField to the bundle-upload endpoint.
func (c *Client) UploadBundle(ctx context.Context, resultPath, companionPath, companionField string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := addFilePart(mw, common.BundleFieldResult, resultPath); err != nil {
		return err
	}
	if companionPath != "" {
		if err := addFilePart(mw, companionField, companionPath); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+common.PathUploadBundle, &buf)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload bundle: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
		return fmt.Errorf("upload status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func addFilePart(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path) // #nosec G304 - paths come from the job descriptor
	if err != nil {
		return fmt.Errorf("open %s part: %w", field, err)
	}
	defer func() { _ = f.Close() }()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s part: %w", field, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, fmt.Errorf("get %s status %d: %s", path, resp.StatusCode, truncate(string(body), errorSnippetLimit))
	}
	return body, resp.StatusCode, nil
}

// downloadToFile streams a GET response to dest, creating the parent
// directory first. On any failure the partial file is removed.
func (c *Client) downloadToFile(ctx context.Context, path, dest string) (err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if reqErr != nil {
		return fmt.Errorf("new request: %w", reqErr)
	}
	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("http do: %w", doErr)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
		return fmt.Errorf("download %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if mkErr := os.MkdirAll(filepath.Dir(dest), 0o750); mkErr != nil {
		return fmt.Errorf("ensure dir for %s: %w", dest, mkErr)
	}
	f, createErr := os.Create(dest) // #nosec G304 - dest comes from the job descriptor
	if createErr != nil {
		return fmt.Errorf("create %s: %w", dest, createErr)
	}
	defer func() {
		_ = f.Close()
		if err != nil {
			// Never leave a truncated artifact where the automation tool
			// could pick it up.
			_ = os.Remove(dest)
		}
	}()

	if _, copyErr := io.Copy(f, resp.Body); copyErr != nil {
		err = fmt.Errorf("write %s: %w", dest, copyErr)
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

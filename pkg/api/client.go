package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classroom-capture/pkg/models"

	"github.com/google/uuid"
)

// Transport is the backend contract the client core depends on.
type Transport interface {
	Ping(ctx context.Context) (bool, error)
	GetSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error
	CreateSession(ctx context.Context) (string, error)
	UploadAudio(ctx context.Context, filename string, r io.Reader) (string, error)
	StreamTranscript(ctx context.Context, req StreamRequest) (TranscriptStream, error)
	StartVideoAnalyticsPipeline(ctx context.Context, pipelines []models.PipelineSpec, sessionID string) (models.AnalyticsResponse, error)
	GetClassStatistics(ctx context.Context, sessionID string) (models.ClassStatistics, error)
}

type Options struct {
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

type Client struct {
	base   *url.URL
	http   *http.Client
	upload *http.Client
	ws     wsDialer
}

func NewClient(baseURL string, opts Options) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:   base,
		http:   &http.Client{Timeout: opts.RequestTimeout},
		upload: &http.Client{Timeout: opts.UploadTimeout},
		ws:     newDialer(opts.RequestTimeout),
	}, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(path string, query url.Values) *url.URL {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return &u
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil).String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(hc *http.Client, req *http.Request, op string, out interface{}) error {
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path, op string, out interface{}, header http.Header) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(c.http, req, op, out)
}

func (c *Client) postJSON(ctx context.Context, path, op string, in, out interface{}, header http.Header) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return c.do(c.http, req, op, out)
}

// Ping reports whether the backend answered healthy. A transport failure
// is returned as an error; an unhealthy answer is (false, nil).
func (c *Client) Ping(ctx context.Context) (bool, error) {
	var payload struct {
		Status string `json:"status"`
	}
	err := c.getJSON(ctx, "/health", "ping", &payload, nil)
	if err != nil {
		var se *StatusError
		if asStatus(err, &se) {
			return false, nil
		}
		return false, err
	}
	return strings.EqualFold(payload.Status, "ok"), nil
}

func (c *Client) GetSettings(ctx context.Context) (models.Settings, error) {
	var s models.Settings
	err := c.getJSON(ctx, "/project", "get settings", &s, nil)
	return s, err
}

func (c *Client) SaveSettings(ctx context.Context, s models.Settings) error {
	return c.postJSON(ctx, "/project", "save settings", s, nil, nil)
}

func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.postJSON(ctx, "/sessions", "create session", nil, &payload, nil); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.SessionID) == "" {
		return "", fmt.Errorf("create session: backend returned empty session id")
	}
	return payload.SessionID, nil
}

func (c *Client) UploadAudio(ctx context.Context, filename string, r io.Reader) (string, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("upload audio: create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, r); err != nil {
		return "", fmt.Errorf("upload audio: copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload-audio", &requestBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var payload struct {
		Path string `json:"path"`
	}
	if err := c.do(c.upload, req, "upload audio", &payload); err != nil {
		return "", err
	}
	if payload.Path == "" {
		return "", fmt.Errorf("upload audio: backend returned empty path")
	}
	return payload.Path, nil
}

func sessionHeader(sessionID string) http.Header {
	h := http.Header{}
	h.Set("X-Session-ID", sessionID)
	return h
}

func (c *Client) StartVideoAnalyticsPipeline(ctx context.Context, pipelines []models.PipelineSpec, sessionID string) (models.AnalyticsResponse, error) {
	var resp models.AnalyticsResponse
	body := struct {
		Pipelines []models.PipelineSpec `json:"pipelines"`
	}{Pipelines: pipelines}
	err := c.postJSON(ctx, "/start-video-analytics-pipeline", "start video analytics", body, &resp, sessionHeader(sessionID))
	return resp, err
}

func (c *Client) GetClassStatistics(ctx context.Context, sessionID string) (models.ClassStatistics, error) {
	var stats models.ClassStatistics
	err := c.getJSON(ctx, "/class-statistics", "class statistics", &stats, sessionHeader(sessionID))
	return stats, err
}

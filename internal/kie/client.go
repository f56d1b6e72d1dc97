// Package kie is the primary image generator: an async job API where a task is
// created and then polled until it settles.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/LincolnGameplays/emprataai/internal/config"
	"github.com/LincolnGameplays/emprataai/internal/generator"
	"github.com/LincolnGameplays/emprataai/internal/models"
)

const (
	ModelNanoBanana = "nano-banana-pro"
	ModelFlux2      = "flux-2"

	maxDownloadBytes = 32 << 20
)

var errTaskPending = errors.New("kie task still running")

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	maxPolls     int
	httpClient   *http.Client
	log          *slog.Logger
}

var _ generator.Generator = (*Client)(nil)

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	interval := cfg.KIEPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	polls := cfg.KIEMaxPolls
	if polls <= 0 {
		polls = 60
	}
	model := cfg.KIEModel
	if model == "" {
		model = ModelNanoBanana
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Client{
		apiKey:       cfg.KIEAPIKey,
		baseURL:      strings.TrimRight(cfg.KIEBaseURL, "/"),
		model:        model,
		pollInterval: interval,
		maxPolls:     polls,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
	}
}

func (c *Client) Name() string {
	return "kie"
}

// Generate submits an image-to-image job for req.SourceURL, waits for it and
// downloads the first result.
func (c *Client) Generate(ctx context.Context, req generator.Request) (*models.Image, error) {
	taskID, err := c.createTask(ctx, c.payload(req))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	resultURL, err := c.pollTaskStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, resultURL)
}

func (c *Client) payload(req generator.Request) map[string]any {
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "1:1"
	}
	resolution := req.Resolution
	if resolution == "" {
		resolution = "1K"
	}
	input := map[string]any{
		"prompt":       req.Prompt,
		"aspect_ratio": aspect,
		"resolution":   resolution,
	}

	model := c.model
	switch c.model {
	case ModelFlux2:
		model = "flux-2/pro-text-to-image"
		if req.SourceURL != "" {
			model = "flux-2/pro-image-to-image"
			input["input_urls"] = []string{req.SourceURL}
		}
	default:
		input["output_format"] = "png"
		if req.SourceURL != "" {
			input["image_input"] = []string{req.SourceURL}
		}
	}
	return map[string]any{"model": model, "input": input}
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref := &url.URL{Path: path}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, fullURL string, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s kie: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("KIE request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(raw))
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(raw))
	}
	if env.Code != http.StatusOK {
		return nil, fmt.Errorf("kie rejected request: code=%d msg=%s", env.Code, env.Msg)
	}
	return env.Data, nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	c.log.Info("creating KIE task", "model", payload["model"])
	data, err := c.call(ctx, http.MethodPost, fullURL, body)
	if err != nil {
		return "", err
	}

	var created struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("decode task: %w", err)
	}
	if created.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}
	c.log.Info("KIE task created", "task_id", created.TaskID)
	return created.TaskID, nil
}

type taskRecord struct {
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailCode   string `json:"failCode"`
	FailMsg    string `json:"failMsg"`
}

// pollTaskStatus waits for the task to settle and returns its first result URL.
func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	var resultURL string
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(c.maxPolls-1), retry.NewConstant(c.pollInterval))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		data, err := c.call(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("get task status: %w", err)
		}
		var rec taskRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode task status: %w", err)
		}

		switch rec.State {
		case "success":
			resultURL, err = firstResult(rec.ResultJSON)
			if err != nil {
				return err
			}
			c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt)
			return nil
		case "fail":
			msg := rec.FailMsg
			if msg == "" {
				msg = "unknown error"
			}
			c.log.Error("KIE task failed", "task_id", taskID, "fail_code", rec.FailCode, "fail_msg", msg)
			return fmt.Errorf("task failed: %s (code: %s)", msg, rec.FailCode)
		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 1 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt, "max_attempts", c.maxPolls)
			}
			return retry.RetryableError(errTaskPending)
		default:
			return fmt.Errorf("unknown task state: %s", rec.State)
		}
	})
	if errors.Is(err, errTaskPending) {
		return "", fmt.Errorf("task timeout after %d attempts", c.maxPolls)
	}
	if err != nil {
		return "", err
	}
	return resultURL, nil
}

func firstResult(resultJSON string) (string, error) {
	if resultJSON == "" {
		return "", fmt.Errorf("empty resultJson: %w", generator.ErrMalformedOutput)
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return "", fmt.Errorf("parse resultJson: %v: %w", err, generator.ErrMalformedOutput)
	}
	for _, u := range result.ResultURLs {
		if strings.TrimSpace(u) != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("no resultUrls in result: %w", generator.ErrMalformedOutput)
}

func (c *Client) download(ctx context.Context, resultURL string) (*models.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download result: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty result body: %w", generator.ErrMalformedOutput)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return &models.Image{URL: resultURL, Bytes: data, Mime: mime}, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

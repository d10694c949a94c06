// Package mesh submits text-to-3D jobs to the mesh generation service and
// waits for their result.
package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
)

// Job statuses reported by the service.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const promptTemplate = "generate a highly detailed set of upper and lower grillz, capturing the full dental arc " +
	"conforming to a human teeth model. Photorealistic style, metallic surface. User design request: %s"

// maxDownload caps the size of a downloaded mesh.
const maxDownload = 200 << 20

// Prompt wraps a user design request in the fixed generation template.
func Prompt(request string) string {
	return fmt.Sprintf(promptTemplate, strings.TrimSpace(request))
}

// Client talks to the mesh generation REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger

	// PollInterval is the delay between status polls.
	PollInterval time.Duration
	// MaxAttempts bounds the number of status polls.
	MaxAttempts int
	// Deadline bounds the whole generation, submission included.
	Deadline time.Duration
}

// Defaults applied by NewClient. DefaultPollInterval also replaces a
// non-positive PollInterval at call time.
const (
	DefaultPollInterval = 2500 * time.Millisecond
	DefaultMaxAttempts  = 120
	DefaultDeadline     = 5 * time.Minute
)

// NewClient constructs a client for baseURL authenticated with apiKey.
func NewClient(baseURL, apiKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          log,
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
		Deadline:     DefaultDeadline,
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type taskStatus struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Result struct {
		PBRModel *struct {
			URL string `json:"url"`
		} `json:"pbr_model"`
		Model *struct {
			URL string `json:"url"`
		} `json:"model"`
	} `json:"result"`
}

func (t *taskStatus) modelURL() string {
	if t.Result.PBRModel != nil && t.Result.PBRModel.URL != "" {
		return t.Result.PBRModel.URL
	}
	if t.Result.Model != nil {
		return t.Result.Model.URL
	}
	return ""
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= 300 {
		if decodeErr == nil && env.Message != "" {
			return fmt.Errorf("mesh api %s: %s", resp.Status, env.Message)
		}
		return fmt.Errorf("mesh api %s", resp.Status)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode mesh api response: %w", decodeErr)
	}
	if env.Code != 0 {
		return fmt.Errorf("mesh api error %d: %s", env.Code, env.Message)
	}
	return json.Unmarshal(env.Data, out)
}

// Submit creates a text_to_model job for prompt and returns its task id.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	var data taskStatus
	if err := c.do(ctx, http.MethodPost, "/task", map[string]string{"type": "text_to_model", "prompt": prompt}, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", &apperr.GenerationError{Status: "submit", Reason: "response carries no task id"}
	}
	return data.TaskID, nil
}

// Status returns the current status and, on success, the model URL of a job.
func (c *Client) Status(ctx context.Context, taskID string) (string, string, error) {
	var data taskStatus
	if err := c.do(ctx, http.MethodGet, "/task/"+taskID, nil, &data); err != nil {
		return "", "", err
	}
	return data.Status, data.modelURL(), nil
}

// Generate wraps request in the generation template, submits it and polls the
// job until it reaches a terminal state. It returns apperr.ErrMeshTimeout when
// MaxAttempts or Deadline run out, a *apperr.GenerationError when the job fails,
// and the context's error when ctx is cancelled.
func (c *Client) Generate(ctx context.Context, request string) (string, error) {
	if c.apiKey == "" {
		return "", apperr.ErrNotConfigured
	}
	if c.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Deadline)
		defer cancel()
	}

	taskID, err := c.Submit(ctx, Prompt(request))
	if err != nil {
		return "", c.timeoutOr(ctx, err)
	}
	c.log.Info("mesh job submitted", zap.String("task_id", taskID))

	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", c.timeoutOr(ctx, ctx.Err())
		case <-ticker.C:
		}

		status, url, err := c.Status(ctx, taskID)
		if err != nil {
			return "", c.timeoutOr(ctx, err)
		}
		c.log.Debug("mesh job polled", zap.String("task_id", taskID), zap.String("status", status), zap.Int("attempt", attempt))

		switch status {
		case StatusQueued, StatusRunning:
			continue
		case StatusSuccess:
			if url == "" {
				return "", &apperr.GenerationError{TaskID: taskID, Status: status, Reason: "result carries no model url"}
			}
			return url, nil
		case StatusFailed, StatusCancelled:
			return "", &apperr.GenerationError{TaskID: taskID, Status: status, Reason: "job ended without a model"}
		default:
			return "", &apperr.GenerationError{TaskID: taskID, Status: status, Reason: "unknown job status"}
		}
	}
	return "", fmt.Errorf("task %s after %d polls: %w", taskID, c.MaxAttempts, apperr.ErrMeshTimeout)
}

// timeoutOr maps an expired deadline to apperr.ErrMeshTimeout and leaves every
// other error, caller cancellation included, untouched.
func (c *Client) timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%v: %w", err, apperr.ErrMeshTimeout)
	}
	return err
}

// Download fetches the bytes behind a time-limited model URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &apperr.StorageError{Op: "download", Key: url, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", &apperr.StorageError{Op: "download", Key: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &apperr.StorageError{Op: "download", Key: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, "", &apperr.StorageError{Op: "download", Key: url, Err: err}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "model/gltf-binary"
	}
	return data, contentType, nil
}

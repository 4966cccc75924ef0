package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"refiner/internal/infra"
	"refiner/pkg/backoff"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("runpod: api key and endpoint id are required")

// ErrInvalidResponse marks a 2xx body that could not be decoded. It is never retried.
var ErrInvalidResponse = errors.New("invalid response body")

// Options configures the RunPod serverless client.
type Options struct {
	APIKey         string
	EndpointID     string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Retry          *backoff.Config
}

// Client talks to a single RunPod serverless endpoint.
type Client struct {
	apiKey     string
	endpointID string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
	retry      *backoff.Config
}

// JobInput is the payload the skin refiner worker expects.
type JobInput struct {
	ImageKey    string          `json:"image_key"`
	Bucket      string          `json:"bucket"`
	FaceParsing map[string]bool `json:"face_parsing"`
	ProjectID   string          `json:"project_id"`
}

// Job is the acknowledgement returned by /run.
type Job struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobStatus is the response of /status/{id}. Output is whatever the worker
// returned: usually an object, sometimes a bare string or a list.
type JobStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

type runRequest struct {
	Input   JobInput `json:"input"`
	Webhook string   `json:"webhook,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("runpod: %s: status %d: %s", e.Op, e.Status, e.Detail)
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.ai/v2"
	}
	logger := infra.LoggerOrNop(opts.Logger)
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		endpointID: strings.TrimSpace(opts.EndpointID),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		retry:      opts.Retry,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.endpointID != ""
}

// Submit queues a job. It is not retried: a repeated /run creates a second job.
func (c *Client) Submit(ctx context.Context, input JobInput, webhookURL string) (*Job, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	body, err := json.Marshal(runRequest{Input: input, Webhook: webhookURL})
	if err != nil {
		return nil, fmt.Errorf("runpod: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL("run"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("runpod: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var job Job
	if err := c.do(req, "run", &job); err != nil {
		return nil, err
	}
	if strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("runpod: run: empty job id")
	}
	c.logger.Debug().
		Str("runpod_job_id", job.ID).
		Str("project_id", input.ProjectID).
		Str("status", job.Status).
		Msg("runpod: job submitted")
	return &job, nil
}

// Status fetches the current state of a job, retrying transient failures.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("runpod: job id is required")
	}
	var out JobStatus
	err := backoff.Retry(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL("status", jobID), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("runpod: build request: %w", err))
		}
		out = JobStatus{}
		return retryable(c.do(req, "status", &out))
	})
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = jobID
	}
	return &out, nil
}

func (c *Client) endpointURL(parts ...string) string {
	segments := []string{c.baseURL, url.PathEscape(c.endpointID)}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return strings.Join(segments, "/")
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runpod: %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("runpod: %s: read response: %w", op, err)
	}
	if resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(raw))
		var parsed errorResponse
		if err := json.Unmarshal(raw, &parsed); err == nil {
			if parsed.Error != "" {
				detail = parsed.Error
			} else if parsed.Message != "" {
				detail = parsed.Message
			}
		}
		return &StatusError{Op: op, Status: resp.StatusCode, Detail: detail}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("runpod: %s: %w: %v", op, ErrInvalidResponse, err)
	}
	return nil
}

// retryable marks undecodable bodies and 4xx responses (other than 408/429)
// as permanent.
func retryable(err error) error {
	if errors.Is(err, ErrInvalidResponse) {
		return backoff.Permanent(err)
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 &&
		se.Status != http.StatusRequestTimeout && se.Status != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// RunStatus is the lifecycle state of an actor run. Runs only move
// forward: PENDING/RUNNING until one of the terminal states is reached.
type RunStatus string

const (
	StatusPending   RunStatus = "PENDING"
	StatusRunning   RunStatus = "RUNNING"
	StatusSucceeded RunStatus = "SUCCEEDED"
	StatusFailed    RunStatus = "FAILED"
	StatusAborted   RunStatus = "ABORTED"
)

// Terminal reports whether a run status can still change.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// Poll attempt budgets. Most actors finish within two minutes; the tweet
// scraper regularly needs five.
const (
	DefaultMaxAttempts  = 12
	ExtendedMaxAttempts = 30
)

// Config holds the settings for a job API client
type Config struct {
	BaseURL           string        // API base URL
	Token             string        // Bearer-style token passed as a query parameter
	PollInterval      time.Duration // Delay between status polls
	RequestTimeout    time.Duration // Timeout for individual HTTP calls
	RequestsPerSecond int           // Outbound request rate cap
}

// DefaultConfig returns a Config with production defaults for the given token
func DefaultConfig(token string) *Config {
	return &Config{
		BaseURL:           "https://api.apify.com/v2",
		Token:             token,
		PollInterval:      10 * time.Second,
		RequestTimeout:    30 * time.Second,
		RequestsPerSecond: 5,
	}
}

// Client talks to a job-based scraping provider: submit an actor run, poll
// it to a terminal status, then fetch the result dataset. Safe for
// concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a job API client. If config is nil, default
// configuration is used (which still requires a token to be set).
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.RequestsPerSecond),
	}
}

type runData struct {
	ID               string    `json:"id"`
	Status           RunStatus `json:"status"`
	DefaultDatasetID string    `json:"defaultDatasetId"`
}

type runEnvelope struct {
	Data runData `json:"data"`
}

// RunActor submits an actor run with the given input, polls it until it
// reaches a terminal status or the attempt budget runs out, and returns up
// to limit items from the run's default dataset.
//
// A failed submission is returned as a plain error (nothing to poll). Once
// a run exists, failures surface as *JobError so callers can distinguish
// timeouts from provider-side failures. The client never re-submits; retry
// policy belongs to the caller.
func (c *Client) RunActor(ctx context.Context, actorID string, input any, maxAttempts, limit int) ([]json.RawMessage, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	run, err := c.submitRun(ctx, actorID, input)
	if err != nil {
		return nil, fmt.Errorf("failed to submit actor run: %w", err)
	}

	log.Debug().
		Str("actor_id", actorID).
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Msg("Actor run submitted")

	status := run.Status
	attempts := 0
	for !status.Terminal() && attempts < maxAttempts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.config.PollInterval):
		}

		polled, err := c.runDetails(ctx, actorID, run.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll run %s: %w", run.ID, err)
		}
		status = polled.Status
		attempts++

		log.Debug().
			Str("run_id", run.ID).
			Str("status", string(status)).
			Int("attempt", attempts).
			Int("max_attempts", maxAttempts).
			Msg("Actor run status")
	}

	switch status {
	case StatusSucceeded:
		// fall through to dataset retrieval
	case StatusFailed:
		return nil, &JobError{Kind: ErrFailed, RunID: run.ID, Status: status}
	case StatusAborted:
		return nil, &JobError{Kind: ErrAborted, RunID: run.ID, Status: status}
	default:
		return nil, &JobError{Kind: ErrTimeout, RunID: run.ID, Status: status}
	}

	// Re-read the run after success: the dataset reference lives in the
	// terminal run details.
	final, err := c.runDetails(ctx, actorID, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch run details for %s: %w", run.ID, err)
	}
	if final.DefaultDatasetID == "" {
		return nil, &JobError{Kind: ErrEmptyResult, RunID: run.ID, Status: status}
	}

	items, err := c.datasetItems(ctx, final.DefaultDatasetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset %s: %w", final.DefaultDatasetID, err)
	}
	if len(items) == 0 {
		return nil, &JobError{Kind: ErrEmptyResult, RunID: run.ID, Status: status}
	}

	return items, nil
}

func (c *Client) submitRun(ctx context.Context, actorID string, input any) (*runData, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actor input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/runs?token=%s", c.config.BaseURL, url.PathEscape(actorID), url.QueryEscape(c.config.Token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var envelope runEnvelope
	if err := c.do(req, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data.ID == "" {
		return nil, fmt.Errorf("run submission returned no run ID")
	}
	if envelope.Data.Status == "" {
		envelope.Data.Status = StatusPending
	}

	return &envelope.Data, nil
}

func (c *Client) runDetails(ctx context.Context, actorID, runID string) (*runData, error) {
	endpoint := fmt.Sprintf("%s/acts/%s/runs/%s?token=%s", c.config.BaseURL, url.PathEscape(actorID), url.PathEscape(runID), url.QueryEscape(c.config.Token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var envelope runEnvelope
	if err := c.do(req, &envelope); err != nil {
		return nil, err
	}

	return &envelope.Data, nil
}

func (c *Client) datasetItems(ctx context.Context, datasetID string, limit int) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/datasets/%s/items?token=%s&limit=%d", c.config.BaseURL, url.PathEscape(datasetID), url.QueryEscape(c.config.Token), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := c.do(req, &items); err != nil {
		return nil, err
	}

	return items, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

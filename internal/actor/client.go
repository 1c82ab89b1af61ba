// Package actor invokes managed scraping actors over their REST API and
// collects run output datasets.
package actor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/metrics"
	"github.com/crowdlens/social-crawler/internal/ratelimit"
	"github.com/crowdlens/social-crawler/internal/scrape"
)

// ErrMissingToken is returned when no API token is configured. Callers
// treat it as a fatal configuration error rather than a per-source one.
var ErrMissingToken = errors.New("actor api token not configured")

// Run statuses reported by the actor platform.
const (
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
	statusAborted   = "ABORTED"
	statusTimedOut  = "TIMED-OUT"
)

// RunError reports a run that reached a terminal status other than
// success.
type RunError struct {
	Status  string
	Message string
}

func (e *RunError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("actor run ended with status %s", e.Status)
	}
	return fmt.Sprintf("actor run ended with status %s: %s", e.Status, e.Message)
}

// Client implements scrape.ActorRunner against an Apify-compatible API.
// All calls share one injected rate limiter so the aggregate request rate
// stays inside the account quota. No retry happens here; retry policy
// belongs to callers.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	limiter      *ratelimit.Limiter
	logger       *zap.Logger
	pollInterval time.Duration
	defaultWait  time.Duration
	pageSize     int
}

// NewClient builds an actor API client.
func NewClient(cfg config.ActorConfig, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	pageSize := cfg.DatasetPageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		limiter:      limiter,
		logger:       logger,
		pollInterval: cfg.PollInterval(),
		defaultWait:  cfg.WaitTimeout(),
		pageSize:     pageSize,
	}
}

type runData struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	StatusMessage    string `json:"statusMessage"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

type runEnvelope struct {
	Data runData `json:"data"`
}

// RunActor starts the actor with the given input, waits for the run to
// reach a terminal status, and returns the full output dataset.
func (c *Client) RunActor(ctx context.Context, actorID string, input map[string]any, opts scrape.RunOptions) ([]scrape.RawItem, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}
	start := time.Now()
	defer func() {
		metrics.ObserveActorRunDuration(actorID, time.Since(start))
	}()

	run, err := c.startRun(ctx, actorID, input)
	if err != nil {
		metrics.ObserveActorRun(actorID, "start_error")
		return nil, err
	}

	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = c.defaultWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	final, err := c.awaitRun(waitCtx, run)
	if err != nil {
		metrics.ObserveActorRun(actorID, "wait_error")
		return nil, err
	}
	if final.Status != statusSucceeded {
		metrics.ObserveActorRun(actorID, final.Status)
		return nil, &RunError{Status: final.Status, Message: final.StatusMessage}
	}
	metrics.ObserveActorRun(actorID, final.Status)

	items, err := c.datasetItems(ctx, final.DefaultDatasetID)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("actor run collected",
		zap.String("actor", actorID),
		zap.String("run_id", final.ID),
		zap.Int("items", len(items)),
	)
	return items, nil
}

func (c *Client) startRun(ctx context.Context, actorID string, input map[string]any) (runData, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return runData{}, fmt.Errorf("marshal actor input: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs", c.baseURL, url.PathEscape(actorID))

	var env runEnvelope
	if err := c.doJSON(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body), &env); err != nil {
		return runData{}, fmt.Errorf("start actor %s: %w", actorID, err)
	}
	if env.Data.ID == "" {
		return runData{}, fmt.Errorf("start actor %s: response carried no run id", actorID)
	}
	return env.Data, nil
}

// awaitRun polls the run record until it reaches a terminal status or the
// context ends.
func (c *Client) awaitRun(ctx context.Context, run runData) (runData, error) {
	endpoint := fmt.Sprintf("%s/v2/actor-runs/%s", c.baseURL, url.PathEscape(run.ID))
	current := run
	for {
		switch current.Status {
		case statusSucceeded, statusFailed, statusAborted, statusTimedOut:
			return current, nil
		}
		select {
		case <-ctx.Done():
			return runData{}, fmt.Errorf("await actor run %s: %w", run.ID, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		var env runEnvelope
		if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, nil, &env); err != nil {
			return runData{}, fmt.Errorf("poll actor run %s: %w", run.ID, err)
		}
		current = env.Data
	}
}

// datasetItems pages through the run's default dataset until a short page
// signals the end.
func (c *Client) datasetItems(ctx context.Context, datasetID string) ([]scrape.RawItem, error) {
	if datasetID == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items", c.baseURL, url.PathEscape(datasetID))

	var items []scrape.RawItem
	for offset := 0; ; offset += c.pageSize {
		query := url.Values{
			"format": {"json"},
			"clean":  {"true"},
			"limit":  {strconv.Itoa(c.pageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		var page []scrape.RawItem
		if err := c.doJSON(ctx, http.MethodGet, endpoint, query, nil, &page); err != nil {
			return nil, fmt.Errorf("fetch dataset %s at offset %d: %w", datasetID, offset, err)
		}
		items = append(items, page...)
		if len(page) < c.pageSize {
			return items, nil
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"?"+query.Encode(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

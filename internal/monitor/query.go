package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client queries a Prometheus-compatible HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// QueryResult is an instant query response.
type QueryResult struct {
	Status string    `json:"status"`
	Data   QueryData `json:"data"`
	Error  string    `json:"error,omitempty"`
}

// QueryData holds the query result data.
type QueryData struct {
	ResultType string         `json:"resultType"`
	Result     []MetricResult `json:"result"`
}

// MetricResult is one sample: Value is [unix seconds, "value"].
type MetricResult struct {
	Metric map[string]string `json:"metric"`
	Value  [2]any            `json:"value"`
}

// NewClient returns a client for the API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Query runs an instant query.
func (c *Client) Query(ctx context.Context, query string) (QueryResult, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/query")
	if err != nil {
		return QueryResult{}, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("query", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return QueryResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Status != "success" {
		return result, fmt.Errorf("query %q: %s", query, result.Error)
	}
	return result, nil
}

// Scalar runs query and returns the first sample, or 0 when the result is
// empty.
func (c *Client) Scalar(ctx context.Context, query string) (float64, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	return extractFloatValue(result)
}

// Stats aggregates run health over a window.
type Stats struct {
	Window          time.Duration
	Runs            float64
	FailedRuns      float64
	RunLatencyP95   float64
	TokensUsed      float64
	ProposalsMade   float64
	ProposalsKept   float64
	ItemErrors      float64
	StepLatencyP95  map[string]float64
	StepFailureRate map[string]float64
}

// FailureRatio is FailedRuns/Runs, or 0 without runs.
func (s Stats) FailureRatio() float64 {
	if s.Runs == 0 {
		return 0
	}
	return s.FailedRuns / s.Runs
}

// Stats collects Stats over window, running the queries concurrently.
func (c *Client) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	if window <= 0 {
		return Stats{}, errors.New("window must be positive")
	}
	w := promDuration(window)
	s := Stats{Window: window}

	scalars := []struct {
		dst   *float64
		query string
	}{
		{&s.Runs, fmt.Sprintf("sum(increase(%s_runs_total[%s]))", Namespace, w)},
		{&s.FailedRuns, fmt.Sprintf(`sum(increase(%s_runs_total{status="failed"}[%s]))`, Namespace, w)},
		{&s.RunLatencyP95, fmt.Sprintf("histogram_quantile(0.95, sum by (le) (rate(%s_run_duration_seconds_bucket[%s])))", Namespace, w)},
		{&s.TokensUsed, fmt.Sprintf("sum(increase(%s_llm_tokens_total[%s]))", Namespace, w)},
		{&s.ProposalsMade, fmt.Sprintf(`sum(increase(%s_proposals_total{stage="generated"}[%s]))`, Namespace, w)},
		{&s.ProposalsKept, fmt.Sprintf(`sum(increase(%s_proposals_total{stage="accepted"}[%s]))`, Namespace, w)},
		{&s.ItemErrors, fmt.Sprintf("sum(increase(%s_item_errors_total[%s]))", Namespace, w)},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range scalars {
		g.Go(func() error {
			v, err := c.Scalar(gctx, sc.query)
			*sc.dst = v
			return err
		})
	}
	g.Go(func() error {
		v, err := c.byStep(gctx, fmt.Sprintf(
			"histogram_quantile(0.95, sum by (le, step_id) (rate(%s_step_duration_seconds_bucket[%s])))", Namespace, w))
		s.StepLatencyP95 = v
		return err
	})
	g.Go(func() error {
		v, err := c.byStep(gctx, fmt.Sprintf(
			"sum by (step_id) (increase(%s_step_failures_total[%s])) / sum by (step_id) (increase(%s_step_duration_seconds_count[%s]))",
			Namespace, w, Namespace, w))
		s.StepFailureRate = v
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (c *Client) byStep(ctx context.Context, query string) (map[string]float64, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(result.Data.Result))
	for _, r := range result.Data.Result {
		v, err := sampleValue(r)
		if err != nil {
			return nil, err
		}
		out[r.Metric["step_id"]] = v
	}
	return out, nil
}

// promDuration renders d in whole seconds, minutes or hours.
func promDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", max(int64(d/time.Second), 1))
	}
}

// extractFloatValue extracts a float value from query result
func extractFloatValue(result QueryResult) (float64, error) {
	if len(result.Data.Result) == 0 {
		return 0, nil
	}
	return sampleValue(result.Data.Result[0])
}

func sampleValue(r MetricResult) (float64, error) {
	valueStr, ok := r.Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("value is not a string")
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse value: %w", err)
	}
	return value, nil
}

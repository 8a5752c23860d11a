package windsor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sentinelhq/sentinel/internal/metrics"
)

// DefaultBaseURL is the Windsor.ai connector endpoint.
const DefaultBaseURL = "https://connectors.windsor.ai/all"

// UpstreamError reports a connector failure after all attempts.
type UpstreamError struct {
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("windsor request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusError is a non-2xx connector response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("windsor: HTTP %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client. Zero values take defaults.
type Options struct {
	BaseURL     string
	Source      string
	CacheTTL    time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	HTTPClient  *http.Client
	Cache       Cache
	// Sleep waits between attempts. Tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Client is the KPI data gateway.
type Client struct {
	baseURL     string
	source      string
	ttl         time.Duration
	maxAttempts int
	baseDelay   time.Duration
	http        *http.Client
	cache       Cache
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// New creates a gateway client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:     opts.BaseURL,
		source:      opts.Source,
		ttl:         opts.CacheTTL,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		http:        opts.HTTPClient,
		cache:       opts.Cache,
		sleep:       opts.Sleep,
		logger:      opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.source == "" {
		c.source = "facebook"
	}
	if c.ttl <= 0 {
		c.ttl = 15 * time.Minute
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 2 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(nil)
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func rangeParams(dr *DateRange) map[string]string {
	if dr == nil || dr.Start == "" || dr.End == "" {
		return map[string]string{"date_preset": "last_30d"}
	}
	return map[string]string{"date_from": dr.Start, "date_to": dr.End}
}

// cacheKey is apiKey plus the JSON form of params. encoding/json sorts
// map keys, so equal params always produce equal keys.
func cacheKey(apiKey string, params map[string]string) string {
	b, _ := json.Marshal(params)
	return apiKey + ":" + string(b)
}

// FetchCurrent returns aggregated KPIs for one campaign. A nil range means
// the trailing 30 days.
func (c *Client) FetchCurrent(ctx context.Context, apiKey, externalCampaignID string, dr *DateRange) (KPIs, error) {
	rows, err := c.fetchRows(ctx, apiKey, rangeParams(dr))
	if err != nil {
		return KPIs{}, err
	}
	return Aggregate(filterCampaign(rows, externalCampaignID)), nil
}

// FetchHistory returns the daily series of one metric, ordered by date.
func (c *Client) FetchHistory(ctx context.Context, apiKey, externalCampaignID, metric string, dr DateRange) ([]DataPoint, error) {
	rows, err := c.fetchRows(ctx, apiKey, map[string]string{"date_from": dr.Start, "date_to": dr.End})
	if err != nil {
		return nil, err
	}
	col := Column(metric)
	filtered := filterCampaign(rows, externalCampaignID)
	points := make([]DataPoint, 0, len(filtered))
	for _, r := range filtered {
		points = append(points, DataPoint{Date: r.String("date"), Value: r.Number(col)})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

// FetchAllCampaigns lists the campaigns seen in the last 30 days, first
// occurrence wins.
func (c *Client) FetchAllCampaigns(ctx context.Context, apiKey string) ([]CampaignSummary, error) {
	rows, err := c.fetchRows(ctx, apiKey, map[string]string{"date_preset": "last_30d"})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []CampaignSummary
	for _, r := range rows {
		id := r.String("campaign_id")
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		s := CampaignSummary{
			CampaignID:   id,
			CampaignName: r.String("campaign"),
			AccountID:    r.String("account_id"),
			AccountName:  r.String("account_name"),
		}
		if s.CampaignName == "" {
			s.CampaignName = id
		}
		if s.AccountID == "" {
			s.AccountID = "unknown"
		}
		if s.AccountName == "" {
			s.AccountName = "unknown"
		}
		out = append(out, s)
	}
	return out, nil
}

func filterCampaign(rows []Row, externalID string) []Row {
	var out []Row
	for _, r := range rows {
		if r.String("campaign_id") == externalID {
			out = append(out, r)
		}
	}
	return out
}

func (c *Client) fetchRows(ctx context.Context, apiKey string, params map[string]string) ([]Row, error) {
	key := cacheKey(apiKey, params)
	if rows, ok := c.cache.Get(ctx, key); ok {
		metrics.WindsorCache.WithLabelValues("hit").Inc()
		return rows, nil
	}
	metrics.WindsorCache.WithLabelValues("miss").Inc()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		rows, err := c.get(ctx, apiKey, params)
		if err == nil {
			metrics.WindsorRequests.WithLabelValues("ok").Inc()
			c.cache.Set(ctx, key, rows, c.ttl)
			return rows, nil
		}
		metrics.WindsorRequests.WithLabelValues("error").Inc()
		lastErr = err
		c.logger.Warn("Windsor request failed", "attempt", attempt, "attempts", c.maxAttempts, "error", err)
		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.baseDelay<<(attempt-1)); err != nil {
			return nil, err
		}
	}
	return nil, &UpstreamError{Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) get(ctx context.Context, apiKey string, params map[string]string) ([]Row, error) {
	q := url.Values{}
	q.Set("api_key", apiKey)
	q.Set("source", c.source)
	q.Set("fields", Fields)
	for k, v := range params {
		q.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Data []Row `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode windsor response: %w", err)
	}
	if payload.Data == nil {
		payload.Data = []Row{}
	}
	return payload.Data, nil
}

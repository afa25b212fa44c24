// Package synth is a REST client for the Synth forecasting API.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// Provider is the tag written to signals built from live Synth forecasts.
const Provider = "synth"

// Client fetches directional probabilities from Synth.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Synth client. ratePerMin <= 0 disables throttling.
func NewClient(baseURL, apiKey string, timeout time.Duration, ratePerMin float64) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if ratePerMin > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerMin/60), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    lim,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.apiKey) != ""
}

type upDownResponse struct {
	ProbabilityUp *float64 `json:"synth_probability_up"`
	Asset         string   `json:"asset"`
}

// ProbabilityUp returns Synth's probability that asset closes up on the
// daily horizon.
func (c *Client) ProbabilityUp(ctx context.Context, asset string) (float64, error) {
	if !c.Configured() {
		return 0, fmt.Errorf("synth: %w: api key", domain.ErrNotConfigured)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("synth: rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("asset", asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/insights/polymarket/up-down/daily?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("synth: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Apikey "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("synth: forecast %s: %w", asset, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("synth: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("synth: forecast %s: HTTP %d: %s", asset, resp.StatusCode, truncate(string(body), 200))
	}

	var out upDownResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("synth: decode forecast %s: %w", asset, err)
	}
	if out.ProbabilityUp == nil {
		return 0, fmt.Errorf("synth: forecast %s: missing synth_probability_up", asset)
	}
	p := *out.ProbabilityUp
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("synth: forecast %s: probability %v out of range", asset, p)
	}
	return p, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

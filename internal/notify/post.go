package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const sendTimeout = 10 * time.Second

// webhook posts JSON bodies to one endpoint, paced by a token bucket so a
// burst of desk events stays under the channel's rate limit.
type webhook struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
}

func newWebhook(name string, every time.Duration, burst int) webhook {
	return webhook{
		name:    name,
		client:  &http.Client{Timeout: sendTimeout},
		limiter: rate.NewLimiter(rate.Every(every), burst),
	}
}

func (w webhook) post(ctx context.Context, url string, payload any) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate wait: %w", w.name, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", w.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", w.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", w.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", w.name, resp.StatusCode, string(respBody))
	}
	return nil
}

// truncate caps s at max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

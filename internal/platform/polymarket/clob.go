package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ClobClient reads the public CLOB order book. The desk never places orders
// itself, so no signing or API key is involved.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClobClient creates a CLOB client. ratePerSec <= 0 disables throttling.
func NewClobClient(baseURL string, timeout time.Duration, ratePerSec float64) *ClobClient {
	return &ClobClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newLimiter(ratePerSec),
	}
}

// GetBook fetches the order book for a token.
func (c *ClobClient) GetBook(ctx context.Context, tokenID string) (BookResponse, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := getJSON(ctx, c.httpClient, c.limiter, c.baseURL+"/book?"+params.Encode())
	if err != nil {
		return BookResponse{}, fmt.Errorf("polymarket/clob: book %s: %w", tokenID, err)
	}
	var book BookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return BookResponse{}, fmt.Errorf("polymarket/clob: decode book %s: %w", tokenID, err)
	}
	return book, nil
}

package polymarket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

const testCondition = "0x1111111111111111111111111111111111111111111111111111111111111111"

func newTestServer(t *testing.T, books map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /markets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("condition_ids") != testCondition {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, `[{
			"id": "42",
			"question": "Will BTC close above 100k?",
			"conditionId": "`+testCondition+`",
			"active": "true",
			"outcomes": "[\"Yes\",\"No\"]",
			"outcomePrices": "[\"0.35\",\"0.65\"]",
			"clobTokenIds": "[\"tok-yes\",\"tok-no\"]"
		}]`)
	})
	mux.HandleFunc("GET /book", func(w http.ResponseWriter, r *http.Request) {
		body, ok := books[r.URL.Query().Get("token_id")]
		if !ok {
			http.Error(w, "no book", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestSource(srv *httptest.Server) *QuoteSource {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewQuoteSource(
		NewGammaClient(srv.URL, time.Second, 0),
		NewClobClient(srv.URL, time.Second, 0),
		nil, 0, logger,
	)
}

func TestQuotesUseBestAsk(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"tok-yes": `{"asks":[{"price":"0.41","size":"10"},{"price":"0.40","size":"5"}],"bids":[]}`,
		"tok-no":  `{"asks":[{"price":"0.61","size":"3"}],"bids":[]}`,
	})
	q, err := newTestSource(srv).Quotes(context.Background(), testCondition)
	require.NoError(t, err)
	assert.InDelta(t, 0.40, q.Yes, 1e-12)
	assert.InDelta(t, 0.61, q.No, 1e-12)
}

func TestQuotesFallBackToGammaThenDefault(t *testing.T) {
	srv := newTestServer(t, map[string]string{
		"tok-yes": `{"asks":[],"bids":[]}`,
	})
	q, err := newTestSource(srv).Quotes(context.Background(), testCondition)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, q.Yes, 1e-12)
	assert.InDelta(t, 0.65, q.No, 1e-12)
}

func TestQuotesUnknownMarket(t *testing.T) {
	srv := newTestServer(t, nil)
	_, err := newTestSource(srv).Quotes(context.Background(), "0xdead")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDetail(t *testing.T) {
	srv := newTestServer(t, nil)
	d, err := newTestSource(srv).Detail(context.Background(), testCondition)
	require.NoError(t, err)
	assert.Equal(t, "Will BTC close above 100k?", d.Question)
}

func TestParseFloatOrZero(t *testing.T) {
	assert.Equal(t, 0.25, ParseFloatOrZero(" 0.25 "))
	assert.Equal(t, 0.0, ParseFloatOrZero("abc"))
	assert.Equal(t, 0.0, ParseFloatOrZero("NaN"))
	assert.Equal(t, 0.0, ParseFloatOrZero(""))
}

package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polydesk/internal/domain"
	"github.com/alanyoungcy/polydesk/internal/store/memory"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "multipart")
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedTrades(store *memory.Store, day time.Time, n int) {
	arrival := 0.40
	for i := range n {
		store.AppendTrade(domain.TradeLog{
			CreatedAt:    day.Add(time.Duration(i) * time.Minute),
			SizedOrderID: "order",
			MarketID:     "0xabc",
			Side:         domain.SideYes,
			SizeUSD:      10,
			ArrivalPrice: &arrival,
			FillPrice:    0.41,
		})
	}
}

func TestExportTradesWritesOneDay(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := memory.New()
	seedTrades(store, day.Add(-time.Hour), 2)   // previous day
	seedTrades(store, day.Add(10*time.Hour), 3) // target day
	seedTrades(store, day.AddDate(0, 0, 1), 1)  // next day, excluded

	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, store.Ledger().Trades, testLogger())
	a.now = func() time.Time { return day.AddDate(0, 0, 2) }

	n, err := a.ExportTrades(context.Background(), day.Add(13*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	body := blobs.objects["archive/trades/2026/03/01.jsonl"]
	require.NotEmpty(t, body)
	assert.Equal(t, "application/x-ndjson", blobs.types["archive/trades/2026/03/01.jsonl"])

	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, "YES", rec["side"])
		assert.Equal(t, 0.4, rec["arrival_price"])
		lines++
	}
	assert.Equal(t, 3, lines)

	// A closed day that is already archived is skipped.
	n, err = a.ExportTrades(context.Background(), day)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExportTradesPagesPastPageSize(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	store := memory.New()
	seedTrades(store, day, exportPageSize+7)

	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil, store.Ledger().Trades, testLogger())
	n, err := a.ExportTrades(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, int64(exportPageSize+7), n)
	assert.Equal(t, exportPageSize+7, bytes.Count(blobs.objects[TradesPath(day)], []byte("\n")))
}

func TestExportTradesEmptyDayWritesNothing(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, memory.New().Ledger().Trades, testLogger())
	n, err := a.ExportTrades(context.Background(), time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestArchiveReport(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, nil, nil, testLogger())
	at := time.Date(2026, 3, 1, 12, 30, 5, 0, time.UTC)
	require.NoError(t, a.ArchiveReport(context.Background(), at, []byte(`{"text":"ok"}`)))
	assert.Equal(t, `{"text":"ok"}`, string(blobs.objects["reports/2026/03/01/123005.json"]))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}

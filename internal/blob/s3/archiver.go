package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

const (
	exportPageSize = 500
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// ArchiveImpl implements domain.Archiver: it copies the trade log to daily
// JSONL objects and stores report snapshots. Ledger rows are never deleted
// here.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades domain.TradeLogStore
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case
// closed days are re-exported on every call.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, trades domain.TradeLogStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		trades: trades,
		now:    time.Now,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// tradeRecord is the exported JSONL shape of one trade_log row.
type tradeRecord struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	SizedOrderID string    `json:"sized_order_id"`
	SignalID     string    `json:"signal_id,omitempty"`
	MarketID     string    `json:"market_id"`
	Side         string    `json:"side"`
	SizeUSD      float64   `json:"size_usd"`
	ArrivalPrice *float64  `json:"arrival_price"`
	FillPrice    float64   `json:"fill_price"`
	SlippageBps  *float64  `json:"slippage_bps"`
	ClobOrderID  string    `json:"clob_order_id,omitempty"`
	Wallet       string    `json:"wallet,omitempty"`
}

func toRecord(t domain.TradeLog) tradeRecord {
	return tradeRecord{
		ID:           t.ID,
		CreatedAt:    t.CreatedAt.UTC(),
		SizedOrderID: t.SizedOrderID,
		SignalID:     t.SignalID,
		MarketID:     t.MarketID,
		Side:         string(t.Side),
		SizeUSD:      t.SizeUSD,
		ArrivalPrice: t.ArrivalPrice,
		FillPrice:    t.FillPrice,
		SlippageBps:  t.SlippageBps,
		ClobOrderID:  t.ClobOrderID,
		Wallet:       t.Wallet,
	}
}

// ExportTrades writes every trade created on the UTC day containing day to
// archive/trades/YYYY/MM/DD.jsonl. A closed day that is already archived is
// skipped, since the trade log is append-only and fills are stamped at
// insert time. An empty day writes nothing.
func (a *ArchiveImpl) ExportTrades(ctx context.Context, day time.Time) (int64, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	path := TradesPath(start)

	if a.reader != nil && !a.now().Before(end) {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: export trades exists %s: %w", path, err)
		}
		if exists {
			a.logger.DebugContext(ctx, "archiver: day already exported", slog.String("path", path))
			return 0, nil
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var count int64
	for offset := 0; ; offset += exportPageSize {
		page, err := a.trades.List(ctx, domain.ListOpts{
			Since:  &start,
			Until:  &end,
			Limit:  exportPageSize,
			Offset: offset,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: export trades query: %w", err)
		}
		for _, t := range page {
			if err := enc.Encode(toRecord(t)); err != nil {
				return 0, fmt.Errorf("s3blob: export trades encode %s: %w", t.ID, err)
			}
			count++
		}
		if len(page) < exportPageSize {
			break
		}
	}
	if count == 0 {
		return 0, nil
	}

	if err := a.upload(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: export trades upload: %w", err)
	}
	a.logger.InfoContext(ctx, "archiver: trades exported",
		slog.String("path", path),
		slog.Int64("rows", count),
	)
	return count, nil
}

// ArchiveReport stores a report snapshot at reports/YYYY/MM/DD/HHMMSS.json.
func (a *ArchiveImpl) ArchiveReport(ctx context.Context, at time.Time, report []byte) error {
	path := ReportPath(at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(report), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive report: %w", err)
	}
	a.logger.DebugContext(ctx, "archiver: report archived", slog.String("path", path))
	return nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf *bytes.Buffer, contentType string) error {
	if buf.Len() >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, buf, minPartSize)
	}
	return a.writer.Put(ctx, path, buf, contentType)
}

// TradesPath is the object key of a daily trade export.
//
//	archive/trades/2026/03/01.jsonl
func TradesPath(day time.Time) string {
	return "archive/trades/" + day.UTC().Format("2006/01/02") + ".jsonl"
}

// ReportPath is the object key of a report snapshot.
func ReportPath(at time.Time) string {
	return "reports/" + at.UTC().Format("2006/01/02/150405") + ".json"
}

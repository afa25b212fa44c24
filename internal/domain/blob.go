package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader checks object storage for existing objects.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies ledger data to cold storage.
type Archiver interface {
	// ExportTrades writes the trade log rows for the UTC day containing day
	// and returns the number of rows written.
	ExportTrades(ctx context.Context, day time.Time) (int64, error)
	// ArchiveReport stores a rendered performance report snapshot.
	ArchiveReport(ctx context.Context, at time.Time, report []byte) error
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bullieverse/marketd/internal/domain"
)

// defaultArchiveBatch caps how many fills one archive pass exports.
const defaultArchiveBatch = 10_000

// FillArchiver exports fills older than the retention window to blob
// storage as JSONL and prunes them from the primary store. Pruning happens
// only after the upload succeeded, and only when the batch covered every
// fill past the cutoff; a partial batch leaves the store untouched for the
// next pass.
type FillArchiver struct {
	writer    domain.BlobWriter
	fills     domain.FillStore
	retention time.Duration
	batchSize int
	clock     domain.Clock
	logger    *slog.Logger
}

// NewFillArchiver creates a FillArchiver keeping fills for the retention
// window.
func NewFillArchiver(writer domain.BlobWriter, fills domain.FillStore, retention time.Duration, logger *slog.Logger) *FillArchiver {
	return &FillArchiver{
		writer:    writer,
		fills:     fills,
		retention: retention,
		batchSize: defaultArchiveBatch,
		clock:     time.Now,
		logger:    logger,
	}
}

// Archive runs one export pass and returns the uploaded object path, or an
// empty path when there was nothing to archive.
func (a *FillArchiver) Archive(ctx context.Context) (string, error) {
	cutoff := a.clock().UTC().Add(-a.retention)

	fills, err := a.fills.ListBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(fills) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if len(fills) < a.batchSize {
		removed, delErr := a.fills.DeleteBefore(ctx, cutoff)
		if delErr != nil {
			return path, fmt.Errorf("s3blob: archive prune after upload to %s: %w", path, delErr)
		}
		a.logger.InfoContext(ctx, "s3blob: fills archived",
			slog.String("path", path),
			slog.Int("count", len(fills)),
			slog.Int64("pruned", removed),
		)
		return path, nil
	}

	// The batch filled up; more fills remain past the cutoff. Skip pruning
	// so the next pass re-exports a complete picture.
	a.logger.WarnContext(ctx, "s3blob: archive batch full, pruning deferred",
		slog.String("path", path),
		slog.Int("count", len(fills)),
	)
	return path, nil
}

// Run archives on the given interval until ctx is cancelled. Intended to be
// started once in an errgroup alongside the server.
func (a *FillArchiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Archive(ctx); err != nil {
				a.logger.ErrorContext(ctx, "s3blob: scheduled archive failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archivePath builds the object key for one export, partitioned by the
// cutoff date:
//
//	fills/2026/08/29/9f2c41a0-....jsonl
func archivePath(cutoff time.Time) string {
	return fmt.Sprintf("fills/%s/%s.jsonl", cutoff.Format("2006/01/02"), uuid.New().String())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doubledice/ddindexer/internal/domain"
)

// BlobWriter stores one object in cold storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// MultipartBlobWriter is implemented by writers that can split a large object
// into concurrently uploaded parts.
type MultipartBlobWriter interface {
	PutMultipart(ctx context.Context, key string, body io.Reader, partSize int64) error
}

// multipartThreshold is the payload size above which an archive object goes
// through the multipart uploader instead of a single request.
const multipartThreshold = 8 << 20

// TransferArchiver batches the append-only transfer log into CSV objects in
// cold storage. It buffers rows handed over by the runner and flushes them on
// an interval, so an object-store hiccup never stalls ingestion.
type TransferArchiver struct {
	writer BlobWriter
	prefix string
	logger *slog.Logger

	// multipartAbove: payloads larger than this take the multipart path
	// when the writer supports it.
	multipartAbove int

	mu      sync.Mutex
	pending []domain.OutcomeTimeslotTransfer
}

// NewTransferArchiver creates an archiver writing under the given key prefix.
func NewTransferArchiver(writer BlobWriter, prefix string, logger *slog.Logger) *TransferArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransferArchiver{
		writer:         writer,
		prefix:         prefix,
		logger:         logger,
		multipartAbove: multipartThreshold,
	}
}

// Append buffers transfers for the next flush.
func (a *TransferArchiver) Append(transfers []domain.OutcomeTimeslotTransfer) {
	a.mu.Lock()
	a.pending = append(a.pending, transfers...)
	a.mu.Unlock()
}

// Flush uploads all buffered transfers as one CSV object. On upload failure
// the batch goes back in the buffer for the next attempt.
func (a *TransferArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	data, err := transfersToCSV(batch)
	if err != nil {
		return fmt.Errorf("converting transfers to CSV: %w", err)
	}

	key := fmt.Sprintf("%s/transfers/%s/%s.csv",
		a.prefix, time.Now().UTC().Format("2006-01-02"), uuid.NewString())
	if err := a.put(ctx, key, data); err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return fmt.Errorf("uploading CSV to %s: %w", key, err)
	}

	a.logger.Info("transfer archive flushed",
		slog.Int("rows", len(batch)),
		slog.String("key", key),
	)
	return nil
}

// put uploads one object, routing oversized payloads through the multipart
// uploader. Part size zero lets the writer pick its minimum.
func (a *TransferArchiver) put(ctx context.Context, key string, data []byte) error {
	if mp, ok := a.writer.(MultipartBlobWriter); ok && len(data) > a.multipartAbove {
		return mp.PutMultipart(ctx, key, bytes.NewReader(data), 0)
	}
	return a.writer.Put(ctx, key, bytes.NewReader(data), "text/csv")
}

// RunLoop flushes on a repeating interval until the context is cancelled,
// with one final flush on shutdown.
func (a *TransferArchiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Flush(flushCtx); err != nil {
				a.logger.Error("final archive flush failed", slog.String("error", err.Error()))
			}
			a.logger.Info("transfer archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Error("archive flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

func transfersToCSV(transfers []domain.OutcomeTimeslotTransfer) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id",
		"outcome_timeslot",
		"from",
		"to",
		"timestamp",
		"amount",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}

	for _, t := range transfers {
		row := []string{
			t.ID,
			t.OutcomeTimeslot,
			t.From,
			t.To,
			strconv.FormatUint(t.Timestamp, 10),
			t.Amount.String(),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV writer: %w", err)
	}
	return buf.Bytes(), nil
}

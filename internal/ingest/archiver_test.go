package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubledice/ddindexer/internal/domain"
)

type memBlobWriter struct {
	objects map[string]string
	fail    error
}

func (w *memBlobWriter) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if w.fail != nil {
		return w.fail
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string]string)
	}
	w.objects[key] = string(data)
	return nil
}

func sampleTransfers() []domain.OutcomeTimeslotTransfer {
	return []domain.OutcomeTimeslotTransfer{
		{
			ID:              "0x259-0xaa-1-0",
			OutcomeTimeslot: "0x259",
			From:            "0x0000000000000000000000000000000000000000",
			To:              "0xa000000000000000000000000000000000000001",
			Timestamp:       1700000000,
			Amount:          decimal.RequireFromString("100"),
		},
		{
			ID:              "0x259-0xbb-2-0",
			OutcomeTimeslot: "0x259",
			From:            "0xa000000000000000000000000000000000000001",
			To:              "0xb000000000000000000000000000000000000001",
			Timestamp:       1700000060,
			Amount:          decimal.RequireFromString("40"),
		},
	}
}

func TestTransferArchiverFlush(t *testing.T) {
	w := &memBlobWriter{}
	a := NewTransferArchiver(w, "ddindexer", slog.New(slog.DiscardHandler))

	a.Append(sampleTransfers())
	require.NoError(t, a.Flush(context.Background()))

	require.Len(t, w.objects, 1)
	for key, body := range w.objects {
		assert.True(t, strings.HasPrefix(key, "ddindexer/transfers/"))
		assert.True(t, strings.HasSuffix(key, ".csv"))

		rows, err := csv.NewReader(strings.NewReader(body)).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3, "header + 2 rows")
		assert.Equal(t, "id", rows[0][0])
		assert.Equal(t, "0x259-0xaa-1-0", rows[1][0])
		assert.Equal(t, "40", rows[2][5])
	}

	// Nothing pending: flush is a no-op, no empty objects.
	require.NoError(t, a.Flush(context.Background()))
	assert.Len(t, w.objects, 1)
}

type memMultipartWriter struct {
	memBlobWriter
	multipartKeys []string
}

func (w *memMultipartWriter) PutMultipart(ctx context.Context, key string, body io.Reader, partSize int64) error {
	if err := w.Put(ctx, key, body, "text/csv"); err != nil {
		return err
	}
	w.multipartKeys = append(w.multipartKeys, key)
	return nil
}

func TestTransferArchiverLargeBatchUsesMultipart(t *testing.T) {
	w := &memMultipartWriter{}
	a := NewTransferArchiver(w, "ddindexer", slog.New(slog.DiscardHandler))
	a.multipartAbove = 1

	a.Append(sampleTransfers())
	require.NoError(t, a.Flush(context.Background()))
	require.Len(t, w.multipartKeys, 1)
	assert.Contains(t, w.objects, w.multipartKeys[0])

	// Back under the threshold: the single-request path again.
	a.multipartAbove = multipartThreshold
	a.Append(sampleTransfers())
	require.NoError(t, a.Flush(context.Background()))
	assert.Len(t, w.multipartKeys, 1)
	assert.Len(t, w.objects, 2)
}

func TestTransferArchiverRequeuesOnFailure(t *testing.T) {
	w := &memBlobWriter{fail: errors.New("slow down")}
	a := NewTransferArchiver(w, "ddindexer", slog.New(slog.DiscardHandler))

	a.Append(sampleTransfers())
	require.Error(t, a.Flush(context.Background()))

	w.fail = nil
	require.NoError(t, a.Flush(context.Background()))
	require.Len(t, w.objects, 1)
	for _, body := range w.objects {
		rows, err := csv.NewReader(strings.NewReader(body)).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 3, "requeued batch survives the failed upload")
	}
}

// Package ingest drives the aggregation engine: it pulls events off a Source
// in stream order, applies each one, and fans the committed mutations out to
// the durable projection and the transfer archive.
package ingest

import (
	"context"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/repo"
)

// Source yields events in strict (block, txIndex, logIndex) order. Next
// returns io.EOF when the stream is exhausted; a live source blocks until an
// event arrives or the context is cancelled.
type Source interface {
	Next(ctx context.Context) (domain.Event, error)
}

// Projection receives every committed mutation set together with the position
// of the event that produced it, so durable state and checkpoint always move
// in one transaction.
type Projection interface {
	ApplyMutations(ctx context.Context, muts *repo.Mutations, pos domain.EventPosition) error
}

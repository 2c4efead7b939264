package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/engine"
	"github.com/doubledice/ddindexer/internal/repo"
)

// TransferSink receives the transfer rows of each committed event, for
// archival. Append must not block ingestion.
type TransferSink interface {
	Append(transfers []domain.OutcomeTimeslotTransfer)
}

// Config tunes a Runner. Zero values get sensible defaults.
type Config struct {
	// StartAfter resumes after the given checkpoint. A restarted stream
	// replays from the top, so events at or before the checkpoint are
	// skipped without being applied; positions after it must still be
	// strictly increasing.
	StartAfter *domain.EventPosition

	Projection   Projection
	Transfers    TransferSink
	OnTransition func(engine.Transition)

	// Transient-error retry at the same position.
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int

	Logger *slog.Logger
}

// Runner is the single writer: it pulls events in order and applies each one
// as an atomic unit. An integrity violation halts the run with position
// context; nothing past the checkpoint is ever skipped.
type Runner struct {
	id     string
	engine *engine.Engine
	source Source
	cfg    Config

	last     domain.EventPosition
	haveLast bool
	logger   *slog.Logger
}

// NewRunner builds a Runner over the given engine and source.
func NewRunner(eng *engine.Engine, src Source, cfg Config) *Runner {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	r := &Runner{
		id:     id,
		engine: eng,
		source: src,
		cfg:    cfg,
		logger: logger.With(slog.String("run_id", id)),
	}
	if cfg.StartAfter != nil {
		r.last = *cfg.StartAfter
		r.haveLast = true
	}
	return r
}

// ID is the unique id of this ingestion run, for log correlation.
func (r *Runner) ID() string { return r.id }

// LastPosition returns the position of the last applied event.
func (r *Runner) LastPosition() (domain.EventPosition, bool) {
	return r.last, r.haveLast
}

// Run consumes the source until it is exhausted, the context is cancelled, or
// an unrecoverable error halts ingestion.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("ingestion starting", slog.Bool("resuming", r.haveLast))

	var applied, skipped int
	for {
		ev, err := r.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.logger.Info("event stream exhausted",
				slog.Int("events_applied", applied),
				slog.Int("events_skipped", skipped),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("ingest: read source: %w", err)
		}

		ok, err := r.process(ctx, ev)
		if err != nil {
			r.logger.Error("ingestion halted",
				slog.String("kind", string(ev.Kind())),
				slog.String("position", ev.Meta().Position.String()),
				slog.String("error", err.Error()),
			)
			return err
		}
		if ok {
			applied++
		} else {
			skipped++
		}
	}
}

// process applies one event. It reports false for events at or before the
// resume checkpoint, which are dropped without side effects.
func (r *Runner) process(ctx context.Context, ev domain.Event) (bool, error) {
	pos := ev.Meta().Position
	if r.cfg.StartAfter != nil && pos.Compare(*r.cfg.StartAfter) <= 0 {
		// Replayed prefix: already committed before the checkpoint was
		// taken, so the projection holds its effects.
		return false, nil
	}
	if r.haveLast && pos.Compare(r.last) <= 0 {
		return false, domain.Integrityf("Event", pos.String(),
			"out of order: position not after %s", r.last)
	}

	muts, transitions, err := r.applyWithRetry(ctx, ev)
	if err != nil {
		return false, err
	}

	// Durable projection and checkpoint move together; a projection failure
	// halts so the restart replays this event instead of losing it.
	if r.cfg.Projection != nil {
		if err := r.cfg.Projection.ApplyMutations(ctx, muts, pos); err != nil {
			return false, fmt.Errorf("ingest: project mutations at %s: %w", pos, err)
		}
	}

	if r.cfg.Transfers != nil && len(muts.Transfers) > 0 {
		r.cfg.Transfers.Append(muts.Transfers)
	}
	if r.cfg.OnTransition != nil {
		for _, tr := range transitions {
			r.cfg.OnTransition(tr)
		}
	}

	r.last = pos
	r.haveLast = true
	return true, nil
}

// applyWithRetry retries transient failures (chain reads, mostly) at the same
// position with exponential backoff. Anything else is final.
func (r *Runner) applyWithRetry(ctx context.Context, ev domain.Event) (muts *repo.Mutations, transitions []engine.Transition, err error) {
	delay := r.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		muts, transitions, err = r.engine.Apply(ctx, ev)
		if err == nil {
			return muts, transitions, nil
		}
		if !domain.IsTransient(err) || attempt >= r.cfg.RetryMaxAttempts {
			return nil, nil, err
		}

		r.logger.Warn("transient failure, retrying at same position",
			slog.String("position", ev.Meta().Position.String()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

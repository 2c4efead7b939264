// Package engine is the aggregation engine: it consumes the ordered event
// stream and maintains the denormalized entity hierarchy, one atomic
// repository transaction per event.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/doubledice/ddindexer/internal/chain"
	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/metadata"
	"github.com/doubledice/ddindexer/internal/repo"
)

// Result-set and challenge windows, in seconds. The producer does not emit
// these as event params yet, so they are mirrored here.
const (
	setWindowSeconds       = 60 * 60
	challengeWindowSeconds = 60 * 60
)

// Transition is one lifecycle state change produced while applying an event.
type Transition struct {
	VirtualFloor string
	From         domain.VirtualFloorState
	To           domain.VirtualFloorState
	Position     domain.EventPosition
}

// Engine applies events to the repository. It trusts event contents: all
// business-rule validation happened upstream. What it does enforce, loudly,
// are existence, immutability and conservation invariants of its own derived
// state.
type Engine struct {
	repo     *repo.Repo
	tokens   chain.TokenMetadataReader
	metadata metadata.Decoder
	logger   *slog.Logger
}

// New builds an Engine over the given repository and adapters.
func New(r *repo.Repo, tokens chain.TokenMetadataReader, dec metadata.Decoder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: r, tokens: tokens, metadata: dec, logger: logger}
}

// application carries one event's in-flight transaction.
type application struct {
	tx          *repo.Tx
	meta        domain.EventMeta
	transitions []Transition
}

// Apply processes one event as a single atomic unit. On any error nothing is
// committed and the repository is untouched; the caller decides whether the
// error is retryable (transient external read) or halts ingestion.
func (e *Engine) Apply(ctx context.Context, ev domain.Event) (*repo.Mutations, []Transition, error) {
	a := &application{tx: e.repo.Begin(), meta: ev.Meta()}

	if err := e.dispatch(ctx, a, ev); err != nil {
		return nil, nil, fmt.Errorf("apply %s at %s: %w", ev.Kind(), ev.Meta().Position, err)
	}

	muts := a.tx.Commit()
	e.logger.Debug("event applied",
		slog.String("kind", string(ev.Kind())),
		slog.String("position", ev.Meta().Position.String()),
	)
	return muts, a.transitions, nil
}

func (e *Engine) dispatch(ctx context.Context, a *application, ev domain.Event) error {
	switch ev := ev.(type) {
	case domain.PaymentTokenWhitelistUpdate:
		return e.handlePaymentTokenWhitelistUpdate(ctx, a, ev)
	case domain.VirtualFloorCreation:
		return e.handleVirtualFloorCreation(a, ev)
	case domain.UserCommitment:
		return e.handleUserCommitment(a, ev)
	case domain.TransferSingle:
		return e.handleTransferSingle(a, ev)
	case domain.TransferBatch:
		return e.handleTransferBatch(a, ev)
	case domain.VirtualFloorCancellationUnresolvable:
		return e.handleCancellationUnresolvable(a, ev)
	case domain.VirtualFloorCancellationFlagged:
		return e.handleCancellationFlagged(a, ev)
	case domain.VirtualFloorResolution:
		return e.handleVirtualFloorResolution(a, ev)
	case domain.CreationQuotaAdjustments:
		return e.handleCreationQuotaAdjustments(a, ev)
	case domain.ResultUpdate:
		return e.handleResultUpdate(a, ev)
	default:
		return fmt.Errorf("unknown event kind %T", ev)
	}
}

// setState advances a floor's lifecycle, rejecting transitions the state
// machine does not admit. Terminal states admit none.
func (a *application) setState(vf *domain.VirtualFloor, next domain.VirtualFloorState) error {
	if !vf.State.CanTransition(next) {
		return domain.Integrityf("VirtualFloor", vf.ID,
			"illegal state transition %s -> %s", vf.State, next)
	}
	a.transitions = append(a.transitions, Transition{
		VirtualFloor: vf.ID,
		From:         vf.State,
		To:           next,
		Position:     a.meta.Position,
	})
	vf.State = next
	return nil
}

// adjustConcurrentFloors moves a user's live-floor count; the user must exist.
func adjustConcurrentFloors(tx *repo.Tx, userID string, delta int) error {
	u, err := tx.Users.LoadExistent(userID)
	if err != nil {
		return err
	}
	u.ConcurrentVirtualFloors += delta
	tx.Users.Put(u)
	return nil
}

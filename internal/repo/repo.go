// Package repo is the in-memory entity repository. It is the only component
// that touches storage: the aggregation engine mutates entities through
// per-event transactions, and the read side queries committed state under a
// shared lock.
//
// Every entity kind is held in a typed Table keyed by entity id, which makes
// the (outcome, user) and (outcomeTimeslot, user) cardinality bounds
// structural: a second row per composite key cannot exist.
package repo

import (
	"sync"

	"github.com/doubledice/ddindexer/internal/domain"
)

// Table holds committed rows of one entity kind.
type Table[T domain.Entity] struct {
	name string
	rows map[string]T
}

func newTable[T domain.Entity](name string) *Table[T] {
	return &Table[T]{name: name, rows: make(map[string]T)}
}

// Get returns the committed row with the given id.
func (t *Table[T]) Get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

// All calls fn for every committed row, in no particular order.
func (t *Table[T]) All(fn func(T)) {
	for _, v := range t.rows {
		fn(v)
	}
}

// Len returns the committed row count.
func (t *Table[T]) Len() int { return len(t.rows) }

// Restore inserts a row directly, bypassing transaction staging. Only for
// rebuilding state from the durable projection before ingestion starts.
func (t *Table[T]) Restore(v T) { t.rows[v.EntityID()] = v }

// State is the full committed entity hierarchy.
type State struct {
	PaymentTokens        *Table[domain.PaymentToken]
	Users                *Table[domain.User]
	Categories           *Table[domain.Category]
	Subcategories        *Table[domain.Subcategory]
	VirtualFloors        *Table[domain.VirtualFloor]
	Outcomes             *Table[domain.Outcome]
	Opponents            *Table[domain.Opponent]
	ResultSources        *Table[domain.ResultSource]
	OutcomeTimeslots     *Table[domain.OutcomeTimeslot]
	UserOutcomes         *Table[domain.UserOutcome]
	UserOutcomeTimeslots *Table[domain.UserOutcomeTimeslot]
	Transfers            *Table[domain.OutcomeTimeslotTransfer]
	Aggregates           *Table[domain.VirtualFloorsAggregate]
}

func newState() *State {
	return &State{
		PaymentTokens:        newTable[domain.PaymentToken]("PaymentToken"),
		Users:                newTable[domain.User]("User"),
		Categories:           newTable[domain.Category]("Category"),
		Subcategories:        newTable[domain.Subcategory]("Subcategory"),
		VirtualFloors:        newTable[domain.VirtualFloor]("VirtualFloor"),
		Outcomes:             newTable[domain.Outcome]("Outcome"),
		Opponents:            newTable[domain.Opponent]("Opponent"),
		ResultSources:        newTable[domain.ResultSource]("ResultSource"),
		OutcomeTimeslots:     newTable[domain.OutcomeTimeslot]("OutcomeTimeslot"),
		UserOutcomes:         newTable[domain.UserOutcome]("UserOutcome"),
		UserOutcomeTimeslots: newTable[domain.UserOutcomeTimeslot]("UserOutcomeTimeslot"),
		Transfers:            newTable[domain.OutcomeTimeslotTransfer]("OutcomeTimeslotTransfer"),
		Aggregates:           newTable[domain.VirtualFloorsAggregate]("VirtualFloorsAggregate"),
	}
}

// Repo guards the committed state. There is exactly one writer (the ingest
// runner); readers run concurrently against committed snapshots.
type Repo struct {
	mu    sync.RWMutex
	state *State
}

// New returns an empty repository.
func New() *Repo {
	return &Repo{state: newState()}
}

// NewState returns an empty State for projection recovery; populate it with
// Table.Restore and hand it to NewFromState.
func NewState() *State { return newState() }

// NewFromState returns a repository over a recovered state.
func NewFromState(s *State) *Repo {
	return &Repo{state: s}
}

// Read runs fn against the committed state under a shared lock, so a
// multi-entity gather sees one consistent snapshot. fn must not retain
// references to the tables after returning.
func (r *Repo) Read(fn func(s *State)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.state)
}

// Begin opens a transaction for one event's mutation set. Only the single
// writer may call it.
func (r *Repo) Begin() *Tx {
	return &Tx{
		repo:                 r,
		PaymentTokens:        newTxTable(r.state.PaymentTokens),
		Users:                newTxTable(r.state.Users),
		Categories:           newTxTable(r.state.Categories),
		Subcategories:        newTxTable(r.state.Subcategories),
		VirtualFloors:        newTxTable(r.state.VirtualFloors),
		Outcomes:             newTxTable(r.state.Outcomes),
		Opponents:            newTxTable(r.state.Opponents),
		ResultSources:        newTxTable(r.state.ResultSources),
		OutcomeTimeslots:     newTxTable(r.state.OutcomeTimeslots),
		UserOutcomes:         newTxTable(r.state.UserOutcomes),
		UserOutcomeTimeslots: newTxTable(r.state.UserOutcomeTimeslots),
		Transfers:            newTxTable(r.state.Transfers),
		Aggregates:           newTxTable(r.state.Aggregates),
	}
}

// Tx stages one event's mutations. Nothing is visible to readers until
// Commit; dropping the Tx without committing discards everything, which is
// what makes each event all-or-nothing.
type Tx struct {
	repo *Repo

	PaymentTokens        *TxTable[domain.PaymentToken]
	Users                *TxTable[domain.User]
	Categories           *TxTable[domain.Category]
	Subcategories        *TxTable[domain.Subcategory]
	VirtualFloors        *TxTable[domain.VirtualFloor]
	Outcomes             *TxTable[domain.Outcome]
	Opponents            *TxTable[domain.Opponent]
	ResultSources        *TxTable[domain.ResultSource]
	OutcomeTimeslots     *TxTable[domain.OutcomeTimeslot]
	UserOutcomes         *TxTable[domain.UserOutcome]
	UserOutcomeTimeslots *TxTable[domain.UserOutcomeTimeslot]
	Transfers            *TxTable[domain.OutcomeTimeslotTransfer]
	Aggregates           *TxTable[domain.VirtualFloorsAggregate]
}

// Commit publishes the staged rows to committed state and returns them,
// grouped per kind in foreign-key order, for the durable projection.
func (tx *Tx) Commit() *Mutations {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()

	return &Mutations{
		PaymentTokens:        tx.PaymentTokens.merge(),
		Users:                tx.Users.merge(),
		Categories:           tx.Categories.merge(),
		Subcategories:        tx.Subcategories.merge(),
		VirtualFloors:        tx.VirtualFloors.merge(),
		Outcomes:             tx.Outcomes.merge(),
		Opponents:            tx.Opponents.merge(),
		ResultSources:        tx.ResultSources.merge(),
		OutcomeTimeslots:     tx.OutcomeTimeslots.merge(),
		UserOutcomes:         tx.UserOutcomes.merge(),
		UserOutcomeTimeslots: tx.UserOutcomeTimeslots.merge(),
		Transfers:            tx.Transfers.merge(),
		Aggregates:           tx.Aggregates.merge(),
	}
}

// Mutations is one committed event's dirty entity set.
type Mutations struct {
	PaymentTokens        []domain.PaymentToken
	Users                []domain.User
	Categories           []domain.Category
	Subcategories        []domain.Subcategory
	VirtualFloors        []domain.VirtualFloor
	Outcomes             []domain.Outcome
	Opponents            []domain.Opponent
	ResultSources        []domain.ResultSource
	OutcomeTimeslots     []domain.OutcomeTimeslot
	UserOutcomes         []domain.UserOutcome
	UserOutcomeTimeslots []domain.UserOutcomeTimeslot
	Transfers            []domain.OutcomeTimeslotTransfer
	Aggregates           []domain.VirtualFloorsAggregate
}

// TxTable overlays staged rows of one entity kind on a committed Table. The
// three access contracts (create-exclusive, get-or-create, get-required) live
// here; assertion failures surface as IntegrityError values instead of
// halting anything shared.
type TxTable[T domain.Entity] struct {
	base   *Table[T]
	staged map[string]T
	order  []string // staged ids in first-write order
}

func newTxTable[T domain.Entity](base *Table[T]) *TxTable[T] {
	return &TxTable[T]{base: base, staged: make(map[string]T)}
}

// Get reads through the overlay: staged row first, committed row second.
func (t *TxTable[T]) Get(id string) (T, bool) {
	if v, ok := t.staged[id]; ok {
		return v, true
	}
	return t.base.Get(id)
}

// Put stages v, creating or overwriting its row.
func (t *TxTable[T]) Put(v T) {
	id := v.EntityID()
	if _, ok := t.staged[id]; !ok {
		t.order = append(t.order, id)
	}
	t.staged[id] = v
}

// CreateNew stages v and fails with an IntegrityError if a row with the same
// id already exists. Existing rows are never overwritten.
func (t *TxTable[T]) CreateNew(v T) error {
	id := v.EntityID()
	if _, ok := t.Get(id); ok {
		return &domain.IntegrityError{
			Entity: t.base.name,
			ID:     id,
			Reason: "expected entity to not already exist",
			Err:    domain.ErrAlreadyExists,
		}
	}
	t.Put(v)
	return nil
}

// LoadExistent returns the row with the given id and fails with an
// IntegrityError if it is missing.
func (t *TxTable[T]) LoadExistent(id string) (T, error) {
	v, ok := t.Get(id)
	if !ok {
		return v, &domain.IntegrityError{
			Entity: t.base.name,
			ID:     id,
			Reason: "expected entity to already exist",
			Err:    domain.ErrNotFound,
		}
	}
	return v, nil
}

// LoadOrCreate returns the existing row, or stages and returns the result of
// init. The second return reports whether the row was created.
func (t *TxTable[T]) LoadOrCreate(id string, init func() T) (T, bool) {
	if v, ok := t.Get(id); ok {
		return v, false
	}
	v := init()
	t.Put(v)
	return v, true
}

// merge writes staged rows into the committed table. Caller holds the
// repository write lock.
func (t *TxTable[T]) merge() []T {
	if len(t.staged) == 0 {
		return nil
	}
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		v := t.staged[id]
		t.base.rows[id] = v
		out = append(out, v)
	}
	return out
}

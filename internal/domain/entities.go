package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Entities are plain values related by id, never by pointer, so that a struct
// copy is a consistent snapshot. Numeric fields mutate through the aggregation
// engine; everything else is written once at creation.

// Entity is anything the repository can store.
type Entity interface {
	EntityID() string
}

// PaymentToken is an ERC-20 token used to denominate virtual floors. Created
// at first sighting from an on-chain metadata read, then never mutated.
type PaymentToken struct {
	ID       string
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
}

func (t PaymentToken) EntityID() string { return t.ID }

// User is any address seen as committer, creator, transfer endpoint or
// challenger, including the zero address.
type User struct {
	ID                         string
	ConcurrentVirtualFloors    int
	MaxConcurrentVirtualFloors int64
}

func (u User) EntityID() string { return u.ID }

// Category groups virtual floors; created idempotently from decoded metadata.
type Category struct {
	ID   string
	Slug string
}

func (c Category) EntityID() string { return c.ID }

// Subcategory belongs to a Category; id is "<category>-<subcategory>".
type Subcategory struct {
	ID       string
	Category string
	Slug     string
}

func (s Subcategory) EntityID() string { return s.ID }

// VirtualFloor is one prediction-market round.
type VirtualFloor struct {
	ID    string
	IntID *big.Int // immutable once set

	Subcategory      string
	Title            string
	Description      string
	IsListed         bool
	DiscordChannelID string

	Owner        string // User id
	PaymentToken string // PaymentToken id

	BetaOpen        decimal.Decimal
	CreationFeeRate decimal.Decimal
	PlatformFeeRate decimal.Decimal

	TCreated            uint64
	TOpen               uint64
	TClose              uint64
	TResolve            uint64
	TResultSetMin       uint64
	TResultSetMax       uint64
	TResultChallengeMax uint64 // 0 until the creator sets a result

	State          VirtualFloorState
	WinningOutcome string           // Outcome id, "" until a result is set
	WinnerProfits  *decimal.Decimal // nil until resolved with winners
	FlaggingReason string
	Challenger     string // User id, "" unless challenged

	OutcomeCount        int
	BonusAmount         decimal.Decimal
	MinCommitmentAmount decimal.Decimal
	MaxCommitmentAmount decimal.Decimal

	// TotalSupply starts at BonusAmount and thereafter changes only through
	// the credit/debit hierarchy.
	TotalSupply decimal.Decimal
}

func (v VirtualFloor) EntityID() string { return v.ID }

// OutcomeIDs returns the ids of all declared outcomes, in index order.
func (v VirtualFloor) OutcomeIDs() []string {
	ids := make([]string, v.OutcomeCount)
	for i := range ids {
		ids[i] = OutcomeID(v.ID, i)
	}
	return ids
}

// Outcome is one mutually exclusive option of a virtual floor.
type Outcome struct {
	ID           string
	VirtualFloor string
	Title        string
	Index        int

	TotalSupply         decimal.Decimal
	TotalWeightedSupply decimal.Decimal
}

func (o Outcome) EntityID() string { return o.ID }

// Opponent is a display-side participant decoded from floor metadata.
type Opponent struct {
	ID           string
	VirtualFloor string
	Title        string
	Image        string
}

func (o Opponent) EntityID() string { return o.ID }

// ResultSource is a reference the floor's result is adjudicated against.
type ResultSource struct {
	ID           string
	VirtualFloor string
	Title        string
	URL          string
}

func (r ResultSource) EntityID() string { return r.ID }

// OutcomeTimeslot is the fungible position token minted for commitments to an
// outcome during one timeslot. Outcome, Timeslot, TokenID and Beta are fixed
// at first mint; a later sighting with different values is an integrity
// violation, never an update.
type OutcomeTimeslot struct {
	ID       string // token id hex
	Outcome  string
	Timeslot uint64
	TokenID  *big.Int
	Beta     decimal.Decimal

	TotalSupply decimal.Decimal
}

func (o OutcomeTimeslot) EntityID() string { return o.ID }

// UserOutcome aggregates one user's position across all timeslots of one
// outcome. Keyed by (outcome, user), so a second row per pair cannot exist.
type UserOutcome struct {
	ID      string
	User    string
	Outcome string

	TotalBalance         decimal.Decimal
	TotalWeightedBalance decimal.Decimal
}

func (u UserOutcome) EntityID() string { return u.ID }

// UserOutcomeTimeslot is one user's balance of one position token.
type UserOutcomeTimeslot struct {
	ID              string
	User            string
	Outcome         string
	Timeslot        uint64
	UserOutcome     string
	OutcomeTimeslot string

	Balance decimal.Decimal
}

func (u UserOutcomeTimeslot) EntityID() string { return u.ID }

// OutcomeTimeslotTransfer is one row of the append-only transfer audit log.
// Written by the aggregation engine, never read back by it.
type OutcomeTimeslotTransfer struct {
	ID              string
	OutcomeTimeslot string
	From            string
	To              string
	Timestamp       uint64
	Amount          decimal.Decimal
}

func (t OutcomeTimeslotTransfer) EntityID() string { return t.ID }

// VirtualFloorsAggregate is the singleton counter row, stored under
// SingletonAggregateID and updated through the same repository discipline as
// every other entity.
type VirtualFloorsAggregate struct {
	ID                        string
	TotalVirtualFloorsCreated int
}

func (a VirtualFloorsAggregate) EntityID() string { return a.ID }

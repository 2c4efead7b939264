// Package claim computes what a user may withdraw from a virtual floor once
// it reaches a terminal state. The calculator is a pure function over a
// consistent read snapshot; it never mutates anything and may run
// concurrently with ingestion.
package claim

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/doubledice/ddindexer/internal/domain"
)

// Kind distinguishes profit payouts from principal-only refunds.
type Kind int

const (
	KindPayouts Kind = iota
	KindRefunds
)

func (k Kind) String() string {
	if k == KindPayouts {
		return "Payouts"
	}
	return "Refunds"
}

// PreparedClaim is the claimable total and the position tokens to redeem.
type PreparedClaim struct {
	Kind       Kind
	TotalClaim decimal.Decimal
	TokenIDs   []*big.Int
}

// MissingFieldError reports a snapshot that does not carry a field the
// calculation needs; the query that built it was too narrow.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("claim: missing snapshot field: %s", e.Field)
}

// UserOutcomeRow is one user's aggregate position under one outcome.
type UserOutcomeRow struct {
	TotalBalance         decimal.Decimal
	TotalWeightedBalance decimal.Decimal
	TokenIDs             []*big.Int // the user's outcome-timeslot token ids
}

// OutcomeView is one outcome with the querying user's rows under it. UserRows
// holds zero or one element; more is a cardinality violation the repository
// should have made impossible.
type OutcomeView struct {
	ID                  string
	TotalWeightedSupply decimal.Decimal
	UserRows            []UserOutcomeRow
}

// Snapshot is one floor's claim-relevant state for one user, gathered under a
// single consistent read.
type Snapshot struct {
	State          domain.VirtualFloorState
	WinningOutcome *OutcomeView     // nil when no result recorded
	WinnerProfits  *decimal.Decimal // nil unless resolved with winners
	Outcomes       []OutcomeView    // all declared outcomes, in index order
}

// Prepare turns a snapshot into a claim. A floor in a non-claimable state
// yields (nil, nil): no claim, which is distinct from a zero-value claim.
func Prepare(s *Snapshot) (*PreparedClaim, error) {
	if s.State == "" {
		return nil, &MissingFieldError{Field: "state"}
	}

	switch s.State {
	case domain.StateClaimablePayouts:
		return preparePayouts(s)

	case domain.StateClaimableRefundsFlagged,
		domain.StateClaimableRefundsResolvedNoWinners,
		domain.StateClaimableRefundsResolvableNever:
		return prepareRefunds(s)

	default:
		return nil, nil
	}
}

func preparePayouts(s *Snapshot) (*PreparedClaim, error) {
	// A floor resolved with winners always carries both fields.
	if s.WinningOutcome == nil {
		return nil, &MissingFieldError{Field: "winningOutcome"}
	}
	if s.WinnerProfits == nil {
		return nil, &MissingFieldError{Field: "winnerProfits"}
	}

	win := s.WinningOutcome
	if len(win.UserRows) > 1 {
		return nil, domain.Integrityf("UserOutcome", win.ID,
			"%d rows for one (outcome, user) pair", len(win.UserRows))
	}
	if len(win.UserRows) == 0 {
		return &PreparedClaim{Kind: KindPayouts, TotalClaim: decimal.Zero}, nil
	}

	row := win.UserRows[0]
	if win.TotalWeightedSupply.IsZero() {
		// Unreachable when the upstream producer behaves: a floor cannot
		// resolve with winners onto an outcome nobody committed to.
		return nil, domain.Integrityf("Outcome", win.ID,
			"winning outcome has zero total weighted supply")
	}

	// The one non-exact step: a non-terminating quotient rounds half-up to
	// decimal.DivisionPrecision (16) fractional digits.
	profit := row.TotalWeightedBalance.Mul(*s.WinnerProfits).Div(win.TotalWeightedSupply)
	return &PreparedClaim{
		Kind:       KindPayouts,
		TotalClaim: row.TotalBalance.Add(profit),
		TokenIDs:   row.TokenIDs,
	}, nil
}

func prepareRefunds(s *Snapshot) (*PreparedClaim, error) {
	// Fewer than two outcomes means the query filtered some out; a floor
	// never has fewer.
	if len(s.Outcomes) < 2 {
		return nil, &MissingFieldError{Field: "outcomes"}
	}

	out := &PreparedClaim{Kind: KindRefunds, TotalClaim: decimal.Zero}
	for _, outcome := range s.Outcomes {
		if len(outcome.UserRows) > 1 {
			return nil, domain.Integrityf("UserOutcome", outcome.ID,
				"%d rows for one (outcome, user) pair", len(outcome.UserRows))
		}
		if len(outcome.UserRows) == 0 {
			continue
		}
		row := outcome.UserRows[0]
		out.TotalClaim = out.TotalClaim.Add(row.TotalBalance)
		out.TokenIDs = append(out.TokenIDs, row.TokenIDs...)
	}
	return out, nil
}

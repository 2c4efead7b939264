package domain

// VirtualFloorState is the canonical lifecycle state of a virtual floor. The
// machine is driven purely by events; there are no time-based substates and no
// clock. The four Claimable_* states are terminal.
type VirtualFloorState string

const (
	StateActiveResultNone                  VirtualFloorState = "Active_ResultNone"
	StateActiveResultSet                   VirtualFloorState = "Active_ResultSet"
	StateActiveResultChallenged            VirtualFloorState = "Active_ResultChallenged"
	StateClaimablePayouts                  VirtualFloorState = "Claimable_Payouts"
	StateClaimableRefundsResolvedNoWinners VirtualFloorState = "Claimable_Refunds_ResolvedNoWinners"
	StateClaimableRefundsResolvableNever   VirtualFloorState = "Claimable_Refunds_ResolvableNever"
	StateClaimableRefundsFlagged           VirtualFloorState = "Claimable_Refunds_Flagged"
)

// IsClaimable reports whether s is one of the terminal Claimable_* states.
func (s VirtualFloorState) IsClaimable() bool {
	switch s {
	case StateClaimablePayouts,
		StateClaimableRefundsResolvedNoWinners,
		StateClaimableRefundsResolvableNever,
		StateClaimableRefundsFlagged:
		return true
	}
	return false
}

// CanTransition reports whether the state machine admits a transition from s
// to next. Cancellation is reachable from every active state; resolution only
// after a result has been set; terminal states admit nothing.
func (s VirtualFloorState) CanTransition(next VirtualFloorState) bool {
	if s.IsClaimable() {
		return false
	}
	switch next {
	case StateClaimableRefundsResolvableNever, StateClaimableRefundsFlagged:
		return true
	case StateActiveResultSet:
		return s == StateActiveResultNone
	case StateActiveResultChallenged:
		return s == StateActiveResultSet
	case StateClaimablePayouts, StateClaimableRefundsResolvedNoWinners:
		return s == StateActiveResultSet || s == StateActiveResultChallenged
	}
	return false
}

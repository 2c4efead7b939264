package domain

import "fmt"

// VirtualFloorResolutionType mirrors the producer's resolution-type tag.
type VirtualFloorResolutionType uint8

const (
	ResolutionNoWinners VirtualFloorResolutionType = iota
	ResolutionWinners
)

func (t VirtualFloorResolutionType) String() string {
	switch t {
	case ResolutionNoWinners:
		return "NoWinners"
	case ResolutionWinners:
		return "Winners"
	default:
		return fmt.Sprintf("VirtualFloorResolutionType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known resolution type.
func (t VirtualFloorResolutionType) Valid() bool {
	return t == ResolutionNoWinners || t == ResolutionWinners
}

// ResultUpdateAction mirrors the producer's result-update action tag. Values
// follow the wire encoding.
type ResultUpdateAction uint8

const (
	ActionAdminFinalizedUnsetResult ResultUpdateAction = iota
	ActionCreatorSetResult
	ActionSomeoneConfirmedUnchallengedResult
	ActionSomeoneChallengedSetResult
	ActionAdminFinalizedChallenge
)

func (a ResultUpdateAction) String() string {
	switch a {
	case ActionAdminFinalizedUnsetResult:
		return "AdminFinalizedUnsetResult"
	case ActionCreatorSetResult:
		return "CreatorSetResult"
	case ActionSomeoneConfirmedUnchallengedResult:
		return "SomeoneConfirmedUnchallengedResult"
	case ActionSomeoneChallengedSetResult:
		return "SomeoneChallengedSetResult"
	case ActionAdminFinalizedChallenge:
		return "AdminFinalizedChallenge"
	default:
		return fmt.Sprintf("ResultUpdateAction(%d)", uint8(a))
	}
}

// Valid reports whether a is a known action.
func (a ResultUpdateAction) Valid() bool {
	return a <= ActionAdminFinalizedChallenge
}

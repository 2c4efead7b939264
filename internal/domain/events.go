package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventPosition is the strict total order over the event stream:
// (block number, transaction index, log index). Ordering is load-bearing:
// existence assertions in the handlers make replays and reorderings fail
// loudly instead of silently diverging.
type EventPosition struct {
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
}

// Compare returns -1, 0 or +1 as p orders before, equal to, or after q.
func (p EventPosition) Compare(q EventPosition) int {
	switch {
	case p.BlockNumber != q.BlockNumber:
		if p.BlockNumber < q.BlockNumber {
			return -1
		}
		return 1
	case p.TxIndex != q.TxIndex:
		if p.TxIndex < q.TxIndex {
			return -1
		}
		return 1
	case p.LogIndex != q.LogIndex:
		if p.LogIndex < q.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

func (p EventPosition) String() string {
	return fmt.Sprintf("%d/%d/%d", p.BlockNumber, p.TxIndex, p.LogIndex)
}

// EventMeta carries the producing transaction's context, common to all events.
type EventMeta struct {
	Position       EventPosition
	TxHash         common.Hash
	BlockTimestamp uint64
}

func (m EventMeta) Meta() EventMeta { return m }

// Event is one typed entry of the ordered stream.
type Event interface {
	Meta() EventMeta
	Kind() EventKind
}

// EventKind names the event shapes the engine dispatches on.
type EventKind string

const (
	KindPaymentTokenWhitelistUpdate          EventKind = "PaymentTokenWhitelistUpdate"
	KindVirtualFloorCreation                 EventKind = "VirtualFloorCreation"
	KindUserCommitment                       EventKind = "UserCommitment"
	KindTransferSingle                       EventKind = "TransferSingle"
	KindTransferBatch                        EventKind = "TransferBatch"
	KindVirtualFloorCancellationUnresolvable EventKind = "VirtualFloorCancellationUnresolvable"
	KindVirtualFloorCancellationFlagged      EventKind = "VirtualFloorCancellationFlagged"
	KindVirtualFloorResolution               EventKind = "VirtualFloorResolution"
	KindCreationQuotaAdjustments             EventKind = "CreationQuotaAdjustments"
	KindResultUpdate                         EventKind = "ResultUpdate"
)

// EncodedMetadata is the opaque versioned metadata blob attached to a
// VirtualFloorCreation event.
type EncodedMetadata struct {
	Version common.Hash
	Data    []byte
}

// PaymentTokenWhitelistUpdate exists only to discover payment tokens early;
// the whitelisted flag itself is not stored.
type PaymentTokenWhitelistUpdate struct {
	EventMeta
	Token       common.Address
	Whitelisted bool
}

func (PaymentTokenWhitelistUpdate) Kind() EventKind { return KindPaymentTokenWhitelistUpdate }

type VirtualFloorCreation struct {
	EventMeta
	VirtualFloorID      *big.Int
	Creator             common.Address
	PaymentToken        common.Address
	BetaOpenE18         *big.Int
	CreationFeeRateE18  *big.Int
	PlatformFeeRateE18  *big.Int
	TOpen               uint64
	TClose              uint64
	TResolve            uint64
	NOutcomes           int
	BonusAmount         *big.Int
	MinCommitmentAmount *big.Int
	MaxCommitmentAmount *big.Int
	Metadata            EncodedMetadata
}

func (VirtualFloorCreation) Kind() EventKind { return KindVirtualFloorCreation }

// UserCommitment is the mint path: value creation credited to the committer
// with no corresponding debit.
type UserCommitment struct {
	EventMeta
	VirtualFloorID *big.Int
	Committer      common.Address
	OutcomeIndex   int
	Timeslot       uint64
	Amount         *big.Int
	BetaE18        *big.Int
	TokenID        *big.Int
}

func (UserCommitment) Kind() EventKind { return KindUserCommitment }

type TransferSingle struct {
	EventMeta
	From    common.Address
	To      common.Address
	TokenID *big.Int
	Value   *big.Int
}

func (TransferSingle) Kind() EventKind { return KindTransferSingle }

type TransferBatch struct {
	EventMeta
	From     common.Address
	To       common.Address
	TokenIDs []*big.Int
	Values   []*big.Int
}

func (TransferBatch) Kind() EventKind { return KindTransferBatch }

type VirtualFloorCancellationUnresolvable struct {
	EventMeta
	VirtualFloorID *big.Int
}

func (VirtualFloorCancellationUnresolvable) Kind() EventKind {
	return KindVirtualFloorCancellationUnresolvable
}

type VirtualFloorCancellationFlagged struct {
	EventMeta
	VirtualFloorID *big.Int
	Reason         string
}

func (VirtualFloorCancellationFlagged) Kind() EventKind {
	return KindVirtualFloorCancellationFlagged
}

type VirtualFloorResolution struct {
	EventMeta
	VirtualFloorID      *big.Int
	WinningOutcomeIndex int
	ResolutionType      VirtualFloorResolutionType
	WinnerProfits       *big.Int
}

func (VirtualFloorResolution) Kind() EventKind { return KindVirtualFloorResolution }

// QuotaAdjustment is one signed adjustment to a creator's quota.
type QuotaAdjustment struct {
	Creator        common.Address
	RelativeAmount int64
}

type CreationQuotaAdjustments struct {
	EventMeta
	Adjustments []QuotaAdjustment
}

func (CreationQuotaAdjustments) Kind() EventKind { return KindCreationQuotaAdjustments }

type ResultUpdate struct {
	EventMeta
	VirtualFloorID *big.Int
	Operator       common.Address
	Action         ResultUpdateAction
	OutcomeIndex   int
}

func (ResultUpdate) Kind() EventKind { return KindResultUpdate }

package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Entity ids mirror the upstream event log's addressing scheme: addresses and
// uint256 token/floor ids rendered as lowercase 0x-prefixed hex, composite ids
// joined with "-".

// ZeroAddress is the mint source and the burn sink. It is tracked as an
// ordinary user account so that burned balances change owner instead of
// vanishing.
var ZeroAddress = common.Address{}

// SingletonAggregateID keys the single VirtualFloorsAggregate row.
const SingletonAggregateID = "singleton"

// AddressID renders an address as a lowercase hex entity id.
func AddressID(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// BigIntID renders a uint256 id (virtual-floor id, token id) as minimal
// lowercase hex with a 0x prefix.
func BigIntID(n *big.Int) string {
	return "0x" + n.Text(16)
}

func OutcomeID(vfID string, outcomeIndex int) string {
	return fmt.Sprintf("%s-%d", vfID, outcomeIndex)
}

func OpponentID(vfID string, index int) string {
	return fmt.Sprintf("%s-%d", vfID, index)
}

func ResultSourceID(vfID string, index int) string {
	return fmt.Sprintf("%s-%d", vfID, index)
}

func SubcategoryID(category, subcategory string) string {
	return category + "-" + subcategory
}

func UserOutcomeID(outcomeID, userID string) string {
	return outcomeID + "-" + userID
}

func UserOutcomeTimeslotID(outcomeTimeslotID, userID string) string {
	return outcomeTimeslotID + "-" + userID
}

// TransferID keys one OutcomeTimeslotTransfer row. pairIndex disambiguates
// multiple pairs of the same token inside a single TransferBatch.
func TransferID(outcomeTimeslotID string, txHash common.Hash, logIndex uint, pairIndex int) string {
	return fmt.Sprintf("%s-%s-%d-%d", outcomeTimeslotID, strings.ToLower(txHash.Hex()), logIndex, pairIndex)
}

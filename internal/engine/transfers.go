package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/repo"
)

// handleUserCommitment is the mint path. Balances are updated here rather
// than on the accompanying transfer event, and mints are skipped there, so
// the outcome does not depend on intra-transaction event ordering.
func (e *Engine) handleUserCommitment(a *application, ev domain.UserCommitment) error {
	tx := a.tx
	vfID := domain.BigIntID(ev.VirtualFloorID)
	outcomeID := domain.OutcomeID(vfID, ev.OutcomeIndex)
	otsID := domain.BigIntID(ev.TokenID)
	beta := domain.FromE18(ev.BetaE18)

	if err := ensureOutcomeTimeslot(tx, otsID, outcomeID, ev.Timeslot, ev.TokenID, beta); err != nil {
		return err
	}

	ensureUser(tx, domain.AddressID(domain.ZeroAddress))
	ensureUser(tx, domain.AddressID(ev.Committer))

	return e.applyTransfers(a, domain.ZeroAddress, ev.Committer,
		[]*big.Int{ev.TokenID}, []*big.Int{ev.Amount})
}

// handleTransferSingle skips mints: those are already accounted for by the
// UserCommitment event in the same transaction.
func (e *Engine) handleTransferSingle(a *application, ev domain.TransferSingle) error {
	if ev.From == domain.ZeroAddress {
		return nil
	}
	return e.applyTransfers(a, ev.From, ev.To,
		[]*big.Int{ev.TokenID}, []*big.Int{ev.Value})
}

func (e *Engine) handleTransferBatch(a *application, ev domain.TransferBatch) error {
	if ev.From == domain.ZeroAddress {
		return nil
	}
	return e.applyTransfers(a, ev.From, ev.To, ev.TokenIDs, ev.Values)
}

// applyTransfers moves value through the hierarchy: debit the from side
// (unless minting), always credit the to side — even the zero address. Burns
// are transfers of ownership to the zero-address sink, so every total above
// the user level is conserved.
func (e *Engine) applyTransfers(a *application, from, to common.Address, ids, values []*big.Int) error {
	tx := a.tx
	if len(ids) != len(values) {
		return domain.Integrityf("OutcomeTimeslotTransfer", a.meta.TxHash.Hex(),
			"%d token ids vs %d values", len(ids), len(values))
	}

	isMint := from == domain.ZeroAddress
	fromID := domain.AddressID(from)
	toID := domain.AddressID(to)

	for i := range ids {
		otsID := domain.BigIntID(ids[i])

		// An unknown token id means the mint that created it was never seen.
		ots, err := tx.OutcomeTimeslots.LoadExistent(otsID)
		if err != nil {
			return err
		}
		outcome, err := tx.Outcomes.LoadExistent(ots.Outcome)
		if err != nil {
			return err
		}
		vf, err := tx.VirtualFloors.LoadExistent(outcome.VirtualFloor)
		if err != nil {
			return err
		}
		token, err := tx.PaymentTokens.LoadExistent(vf.PaymentToken)
		if err != nil {
			return err
		}
		amount := domain.TokenAmount(values[i], token.Decimals)

		if !isMint {
			if err := creditHierarchy(tx, vf.ID, outcome.ID, otsID, fromID, amount.Neg(), ots.Beta); err != nil {
				return err
			}
		}
		if err := creditHierarchy(tx, vf.ID, outcome.ID, otsID, toID, amount, ots.Beta); err != nil {
			return err
		}

		transfer := domain.OutcomeTimeslotTransfer{
			ID:              domain.TransferID(otsID, a.meta.TxHash, a.meta.Position.LogIndex, i),
			OutcomeTimeslot: otsID,
			From:            fromID,
			To:              toID,
			Timestamp:       a.meta.BlockTimestamp,
			Amount:          amount,
		}
		if err := tx.Transfers.CreateNew(transfer); err != nil {
			return err
		}
	}
	return nil
}

// creditHierarchy is the propagation primitive: one signed amount applied at
// every aggregation level, with the weighted contribution computed from the
// beta recorded at the outcome timeslot, never recomputed. Invoked once per
// mint and twice (debit, credit) per transfer, so transfer legs always net to
// zero above the user level.
func creditHierarchy(tx *repo.Tx, vfID, outcomeID, otsID, userID string, amount, beta decimal.Decimal) error {
	weighted := amount.Mul(beta)

	vf, err := tx.VirtualFloors.LoadExistent(vfID)
	if err != nil {
		return err
	}
	vf.TotalSupply = vf.TotalSupply.Add(amount)
	tx.VirtualFloors.Put(vf)

	outcome, err := tx.Outcomes.LoadExistent(outcomeID)
	if err != nil {
		return err
	}
	outcome.TotalSupply = outcome.TotalSupply.Add(amount)
	outcome.TotalWeightedSupply = outcome.TotalWeightedSupply.Add(weighted)
	tx.Outcomes.Put(outcome)

	ots, err := tx.OutcomeTimeslots.LoadExistent(otsID)
	if err != nil {
		return err
	}
	ots.TotalSupply = ots.TotalSupply.Add(amount)
	tx.OutcomeTimeslots.Put(ots)

	ensureUser(tx, userID)

	uoID := domain.UserOutcomeID(outcomeID, userID)
	uo, _ := tx.UserOutcomes.LoadOrCreate(uoID, func() domain.UserOutcome {
		return domain.UserOutcome{ID: uoID, User: userID, Outcome: outcomeID}
	})
	uo.TotalBalance = uo.TotalBalance.Add(amount)
	uo.TotalWeightedBalance = uo.TotalWeightedBalance.Add(weighted)
	tx.UserOutcomes.Put(uo)

	uotsID := domain.UserOutcomeTimeslotID(otsID, userID)
	uots, _ := tx.UserOutcomeTimeslots.LoadOrCreate(uotsID, func() domain.UserOutcomeTimeslot {
		return domain.UserOutcomeTimeslot{
			ID:              uotsID,
			User:            userID,
			Outcome:         outcomeID,
			Timeslot:        ots.Timeslot,
			UserOutcome:     uoID,
			OutcomeTimeslot: otsID,
		}
	})
	uots.Balance = uots.Balance.Add(amount)
	tx.UserOutcomeTimeslots.Put(uots)

	return nil
}

// ensureOutcomeTimeslot get-or-creates the position-token row. On a repeat
// sighting every identifying field must match what was stored; beta in
// particular is immutable once set.
func ensureOutcomeTimeslot(tx *repo.Tx, id, outcomeID string, timeslot uint64, tokenID *big.Int, beta decimal.Decimal) error {
	existing, ok := tx.OutcomeTimeslots.Get(id)
	if !ok {
		tx.OutcomeTimeslots.Put(domain.OutcomeTimeslot{
			ID:       id,
			Outcome:  outcomeID,
			Timeslot: timeslot,
			TokenID:  tokenID,
			Beta:     beta,
		})
		return nil
	}

	switch {
	case existing.Outcome != outcomeID:
		return domain.Integrityf("OutcomeTimeslot", id,
			"outcome %s != %s", existing.Outcome, outcomeID)
	case existing.Timeslot != timeslot:
		return domain.Integrityf("OutcomeTimeslot", id,
			"timeslot %d != %d", existing.Timeslot, timeslot)
	case existing.TokenID.Cmp(tokenID) != 0:
		return domain.Integrityf("OutcomeTimeslot", id,
			"tokenId %s != %s", existing.TokenID, tokenID)
	case !existing.Beta.Equal(beta):
		return domain.Integrityf("OutcomeTimeslot", id,
			"beta %s != %s", existing.Beta, beta)
	}
	return nil
}

func ensureUser(tx *repo.Tx, id string) {
	tx.Users.LoadOrCreate(id, func() domain.User {
		return domain.User{ID: id}
	})
}

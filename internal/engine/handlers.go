package engine

import (
	"context"

	"github.com/doubledice/ddindexer/internal/domain"
)

// handlePaymentTokenWhitelistUpdate discovers payment tokens. Whether the
// token is being enabled or disabled is irrelevant; the flag is not stored.
// The on-chain metadata read happens only at first sighting, before anything
// is staged, so a failed read leaves no partial state behind.
func (e *Engine) handlePaymentTokenWhitelistUpdate(ctx context.Context, a *application, ev domain.PaymentTokenWhitelistUpdate) error {
	id := domain.AddressID(ev.Token)
	if _, ok := a.tx.PaymentTokens.Get(id); ok {
		return nil
	}

	md, err := e.tokens.ReadTokenMetadata(ctx, ev.Token)
	if err != nil {
		return err
	}

	return a.tx.PaymentTokens.CreateNew(domain.PaymentToken{
		ID:       id,
		Address:  ev.Token,
		Name:     md.Name,
		Symbol:   md.Symbol,
		Decimals: md.Decimals,
	})
}

func (e *Engine) handleVirtualFloorCreation(a *application, ev domain.VirtualFloorCreation) error {
	tx := a.tx
	vfID := domain.BigIntID(ev.VirtualFloorID)

	aggregate, _ := tx.Aggregates.LoadOrCreate(domain.SingletonAggregateID, func() domain.VirtualFloorsAggregate {
		return domain.VirtualFloorsAggregate{ID: domain.SingletonAggregateID}
	})
	aggregate.TotalVirtualFloorsCreated++
	tx.Aggregates.Put(aggregate)

	decoded, err := e.metadata.Decode(ev.Metadata)
	if err != nil {
		return err
	}
	if len(decoded.Outcomes) != ev.NOutcomes {
		return domain.Integrityf("VirtualFloor", vfID,
			"metadata declares %d outcomes, event declares %d", len(decoded.Outcomes), ev.NOutcomes)
	}

	tx.Categories.LoadOrCreate(decoded.Category, func() domain.Category {
		return domain.Category{ID: decoded.Category, Slug: decoded.Category}
	})
	subcategoryID := domain.SubcategoryID(decoded.Category, decoded.Subcategory)
	tx.Subcategories.LoadOrCreate(subcategoryID, func() domain.Subcategory {
		return domain.Subcategory{ID: subcategoryID, Category: decoded.Category, Slug: decoded.Subcategory}
	})

	ownerID := domain.AddressID(ev.Creator)
	tx.Users.LoadOrCreate(ownerID, func() domain.User {
		return domain.User{ID: ownerID}
	})
	if err := adjustConcurrentFloors(tx, ownerID, +1); err != nil {
		return err
	}

	// The producer rejects floors denominated in a non-whitelisted token, so
	// the token entity must have been created when it was whitelisted.
	tokenID := domain.AddressID(ev.PaymentToken)
	token, err := tx.PaymentTokens.LoadExistent(tokenID)
	if err != nil {
		return err
	}

	bonus := domain.TokenAmount(ev.BonusAmount, token.Decimals)

	vf := domain.VirtualFloor{
		ID:    vfID,
		IntID: ev.VirtualFloorID,

		Subcategory:      subcategoryID,
		Title:            decoded.Title,
		Description:      decoded.Description,
		IsListed:         decoded.IsListed,
		DiscordChannelID: decoded.DiscordChannelID,

		Owner:        ownerID,
		PaymentToken: tokenID,

		BetaOpen:        domain.FromE18(ev.BetaOpenE18),
		CreationFeeRate: domain.FromE18(ev.CreationFeeRateE18),
		PlatformFeeRate: domain.FromE18(ev.PlatformFeeRateE18),

		TCreated:      a.meta.BlockTimestamp,
		TOpen:         ev.TOpen,
		TClose:        ev.TClose,
		TResolve:      ev.TResolve,
		TResultSetMin: ev.TResolve,
		TResultSetMax: ev.TResolve + setWindowSeconds,

		State: domain.StateActiveResultNone,

		OutcomeCount:        ev.NOutcomes,
		BonusAmount:         bonus,
		MinCommitmentAmount: domain.TokenAmount(ev.MinCommitmentAmount, token.Decimals),
		MaxCommitmentAmount: domain.TokenAmount(ev.MaxCommitmentAmount, token.Decimals),

		TotalSupply: bonus,
	}
	if err := tx.VirtualFloors.CreateNew(vf); err != nil {
		return err
	}

	for i, opp := range decoded.Opponents {
		err := tx.Opponents.CreateNew(domain.Opponent{
			ID:           domain.OpponentID(vfID, i),
			VirtualFloor: vfID,
			Title:        opp.Title,
			Image:        opp.Image,
		})
		if err != nil {
			return err
		}
	}

	for i, rs := range decoded.ResultSources {
		err := tx.ResultSources.CreateNew(domain.ResultSource{
			ID:           domain.ResultSourceID(vfID, i),
			VirtualFloor: vfID,
			Title:        rs.Title,
			URL:          rs.URL,
		})
		if err != nil {
			return err
		}
	}

	for i, out := range decoded.Outcomes {
		err := tx.Outcomes.CreateNew(domain.Outcome{
			ID:           domain.OutcomeID(vfID, i),
			VirtualFloor: vfID,
			Title:        out.Title,
			Index:        i,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) handleCancellationUnresolvable(a *application, ev domain.VirtualFloorCancellationUnresolvable) error {
	vf, err := a.tx.VirtualFloors.LoadExistent(domain.BigIntID(ev.VirtualFloorID))
	if err != nil {
		return err
	}
	if err := adjustConcurrentFloors(a.tx, vf.Owner, -1); err != nil {
		return err
	}
	if err := a.setState(&vf, domain.StateClaimableRefundsResolvableNever); err != nil {
		return err
	}
	a.tx.VirtualFloors.Put(vf)
	return nil
}

func (e *Engine) handleCancellationFlagged(a *application, ev domain.VirtualFloorCancellationFlagged) error {
	vf, err := a.tx.VirtualFloors.LoadExistent(domain.BigIntID(ev.VirtualFloorID))
	if err != nil {
		return err
	}
	if err := adjustConcurrentFloors(a.tx, vf.Owner, -1); err != nil {
		return err
	}
	if err := a.setState(&vf, domain.StateClaimableRefundsFlagged); err != nil {
		return err
	}
	vf.FlaggingReason = ev.Reason
	a.tx.VirtualFloors.Put(vf)
	return nil
}

func (e *Engine) handleVirtualFloorResolution(a *application, ev domain.VirtualFloorResolution) error {
	tx := a.tx
	vf, err := tx.VirtualFloors.LoadExistent(domain.BigIntID(ev.VirtualFloorID))
	if err != nil {
		return err
	}

	if err := adjustConcurrentFloors(tx, vf.Owner, -1); err != nil {
		return err
	}

	switch ev.ResolutionType {
	case domain.ResolutionNoWinners:
		if err := a.setState(&vf, domain.StateClaimableRefundsResolvedNoWinners); err != nil {
			return err
		}
	case domain.ResolutionWinners:
		if err := a.setState(&vf, domain.StateClaimablePayouts); err != nil {
			return err
		}
	default:
		return domain.Integrityf("VirtualFloor", vf.ID,
			"unknown resolution type %d", uint8(ev.ResolutionType))
	}

	vf.WinningOutcome = domain.OutcomeID(vf.ID, ev.WinningOutcomeIndex)

	token, err := tx.PaymentTokens.LoadExistent(vf.PaymentToken)
	if err != nil {
		return err
	}
	profits := domain.TokenAmount(ev.WinnerProfits, token.Decimals)
	vf.WinnerProfits = &profits

	tx.VirtualFloors.Put(vf)
	return nil
}

// handleCreationQuotaAdjustments applies signed quota deltas. Non-negativity
// is the producer's concern; no bound is enforced here.
func (e *Engine) handleCreationQuotaAdjustments(a *application, ev domain.CreationQuotaAdjustments) error {
	for _, adj := range ev.Adjustments {
		id := domain.AddressID(adj.Creator)
		u, _ := a.tx.Users.LoadOrCreate(id, func() domain.User {
			return domain.User{ID: id}
		})
		u.MaxConcurrentVirtualFloors += adj.RelativeAmount
		a.tx.Users.Put(u)
	}
	return nil
}

// handleResultUpdate drives the pre-resolution result machine. The three
// finalizing actions are deliberate no-ops here: each is accompanied, in the
// same processing unit, by a resolution or cancellation event that performs
// the terminal transition, and handling both would double-apply side effects.
func (e *Engine) handleResultUpdate(a *application, ev domain.ResultUpdate) error {
	tx := a.tx
	vf, err := tx.VirtualFloors.LoadExistent(domain.BigIntID(ev.VirtualFloorID))
	if err != nil {
		return err
	}

	vf.WinningOutcome = domain.OutcomeID(vf.ID, ev.OutcomeIndex)

	switch ev.Action {
	case domain.ActionCreatorSetResult:
		if err := a.setState(&vf, domain.StateActiveResultSet); err != nil {
			return err
		}
		vf.TResultChallengeMax = a.meta.BlockTimestamp + challengeWindowSeconds

	case domain.ActionSomeoneChallengedSetResult:
		if err := a.setState(&vf, domain.StateActiveResultChallenged); err != nil {
			return err
		}
		challengerID := domain.AddressID(ev.Operator)
		tx.Users.LoadOrCreate(challengerID, func() domain.User {
			return domain.User{ID: challengerID}
		})
		vf.Challenger = challengerID

	case domain.ActionAdminFinalizedUnsetResult,
		domain.ActionSomeoneConfirmedUnchallengedResult,
		domain.ActionAdminFinalizedChallenge:
		// Terminal transition arrives as a separate event.

	default:
		return domain.Integrityf("VirtualFloor", vf.ID,
			"unknown result-update action %d", uint8(ev.Action))
	}

	tx.VirtualFloors.Put(vf)
	return nil
}

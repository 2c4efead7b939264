package engine

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubledice/ddindexer/internal/chain"
	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/metadata"
	"github.com/doubledice/ddindexer/internal/repo"
)

var (
	tokenAddr  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	creator    = common.HexToAddress("0xc000000000000000000000000000000000000001")
	alice      = common.HexToAddress("0xa000000000000000000000000000000000000001")
	bob        = common.HexToAddress("0xb000000000000000000000000000000000000001")
	challenger = common.HexToAddress("0xd000000000000000000000000000000000000001")
)

const tokenDecimals = 6

// raw converts a human amount ("100", "0.5") to raw token units.
func raw(s string) *big.Int {
	return decimal.RequireFromString(s).Shift(tokenDecimals).BigInt()
}

// e18 converts a human factor ("1.5") to its 1e18 fixed-point encoding.
func e18(s string) *big.Int {
	return decimal.RequireFromString(s).Shift(18).BigInt()
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	t      *testing.T
	repo   *repo.Repo
	engine *Engine
	seq    uint // monotonically increasing log index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	r := repo.New()
	reader := &chain.StaticReader{Tokens: map[common.Address]chain.TokenMetadata{
		tokenAddr: {Name: "Dollar", Symbol: "DLR", Decimals: tokenDecimals},
	}}
	logger := slog.New(slog.DiscardHandler)
	return &fixture{
		t:      t,
		repo:   r,
		engine: New(r, reader, metadata.ABIDecoder{}, logger),
	}
}

// meta returns the next event position within a synthetic block.
func (f *fixture) meta(ts uint64) domain.EventMeta {
	f.seq++
	return domain.EventMeta{
		Position:       domain.EventPosition{BlockNumber: 100, TxIndex: 0, LogIndex: f.seq},
		TxHash:         common.HexToHash("0xfeed"),
		BlockTimestamp: ts,
	}
}

func (f *fixture) apply(ev domain.Event) ([]Transition, error) {
	f.t.Helper()
	_, transitions, err := f.engine.Apply(context.Background(), ev)
	return transitions, err
}

func (f *fixture) mustApply(ev domain.Event) []Transition {
	f.t.Helper()
	transitions, err := f.apply(ev)
	require.NoError(f.t, err)
	return transitions
}

func (f *fixture) whitelistToken() {
	f.mustApply(domain.PaymentTokenWhitelistUpdate{
		EventMeta: f.meta(1000), Token: tokenAddr, Whitelisted: true,
	})
}

func testMetadata(nOutcomes int) domain.EncodedMetadata {
	dec := metadata.Decoded{
		Category:         "sports",
		Subcategory:      "football",
		Title:            "Final",
		Description:      "Who wins?",
		IsListed:         true,
		Opponents:        []metadata.OpponentMeta{{Title: "Reds", Image: "https://img/r.png"}},
		ResultSources:    []metadata.ResultSourceMeta{{Title: "Official", URL: "https://res"}},
		DiscordChannelID: "42",
	}
	for i := 0; i < nOutcomes; i++ {
		dec.Outcomes = append(dec.Outcomes, metadata.OutcomeMeta{Title: string(rune('A' + i))})
	}
	blob, err := metadata.Encode(dec)
	if err != nil {
		panic(err)
	}
	return blob
}

func (f *fixture) creationEvent(vfID int64, bonus string, nOutcomes int) domain.VirtualFloorCreation {
	return domain.VirtualFloorCreation{
		EventMeta:           f.meta(1010),
		VirtualFloorID:      big.NewInt(vfID),
		Creator:             creator,
		PaymentToken:        tokenAddr,
		BetaOpenE18:         e18("10"),
		CreationFeeRateE18:  e18("0.01"),
		PlatformFeeRateE18:  e18("0.25"),
		TOpen:               2000,
		TClose:              3000,
		TResolve:            4000,
		NOutcomes:           nOutcomes,
		BonusAmount:         raw(bonus),
		MinCommitmentAmount: raw("1"),
		MaxCommitmentAmount: raw("1000"),
		Metadata:            testMetadata(nOutcomes),
	}
}

// createFloor whitelists the token and creates floor 1 with the given bonus.
func (f *fixture) createFloor(bonus string, nOutcomes int) {
	f.whitelistToken()
	f.mustApply(f.creationEvent(1, bonus, nOutcomes))
}

func (f *fixture) commit(user common.Address, outcomeIndex int, tokenID int64, timeslot uint64, amount, beta string) {
	f.mustApply(domain.UserCommitment{
		EventMeta:      f.meta(timeslot),
		VirtualFloorID: big.NewInt(1),
		Committer:      user,
		OutcomeIndex:   outcomeIndex,
		Timeslot:       timeslot,
		Amount:         raw(amount),
		BetaE18:        e18(beta),
		TokenID:        big.NewInt(tokenID),
	})
}

func (f *fixture) vf(id string) domain.VirtualFloor {
	f.t.Helper()
	var vf domain.VirtualFloor
	var ok bool
	f.repo.Read(func(s *repo.State) { vf, ok = s.VirtualFloors.Get(id) })
	require.True(f.t, ok, "VirtualFloor %s missing", id)
	return vf
}

func (f *fixture) outcome(id string) domain.Outcome {
	f.t.Helper()
	var o domain.Outcome
	var ok bool
	f.repo.Read(func(s *repo.State) { o, ok = s.Outcomes.Get(id) })
	require.True(f.t, ok, "Outcome %s missing", id)
	return o
}

func (f *fixture) ots(id string) domain.OutcomeTimeslot {
	f.t.Helper()
	var o domain.OutcomeTimeslot
	var ok bool
	f.repo.Read(func(s *repo.State) { o, ok = s.OutcomeTimeslots.Get(id) })
	require.True(f.t, ok, "OutcomeTimeslot %s missing", id)
	return o
}

func (f *fixture) user(addr common.Address) domain.User {
	f.t.Helper()
	var u domain.User
	var ok bool
	f.repo.Read(func(s *repo.State) { u, ok = s.Users.Get(domain.AddressID(addr)) })
	require.True(f.t, ok, "User %s missing", addr)
	return u
}

func (f *fixture) userOutcome(outcomeID string, addr common.Address) (domain.UserOutcome, bool) {
	var uo domain.UserOutcome
	var ok bool
	f.repo.Read(func(s *repo.State) {
		uo, ok = s.UserOutcomes.Get(domain.UserOutcomeID(outcomeID, domain.AddressID(addr)))
	})
	return uo, ok
}

func (f *fixture) userTimeslot(otsID string, addr common.Address) (domain.UserOutcomeTimeslot, bool) {
	var u domain.UserOutcomeTimeslot
	var ok bool
	f.repo.Read(func(s *repo.State) {
		u, ok = s.UserOutcomeTimeslots.Get(domain.UserOutcomeTimeslotID(otsID, domain.AddressID(addr)))
	})
	return u, ok
}

func TestPaymentTokenDiscoveredOnce(t *testing.T) {
	f := newFixture(t)

	f.whitelistToken()
	// Disabling the token later must not touch the stored row.
	f.mustApply(domain.PaymentTokenWhitelistUpdate{
		EventMeta: f.meta(1001), Token: tokenAddr, Whitelisted: false,
	})

	f.repo.Read(func(s *repo.State) {
		tok, ok := s.PaymentTokens.Get(domain.AddressID(tokenAddr))
		require.True(t, ok)
		assert.Equal(t, "DLR", tok.Symbol)
		assert.Equal(t, uint8(tokenDecimals), tok.Decimals)
		assert.Equal(t, 1, s.PaymentTokens.Len())
	})
}

func TestVirtualFloorCreation(t *testing.T) {
	f := newFixture(t)
	f.createFloor("2.5", 3)

	vf := f.vf("0x1")
	assert.Equal(t, domain.StateActiveResultNone, vf.State)
	assert.Equal(t, "sports-football", vf.Subcategory)
	assert.Equal(t, domain.AddressID(creator), vf.Owner)
	assert.True(t, vf.BetaOpen.Equal(d("10")))
	assert.True(t, vf.BonusAmount.Equal(d("2.5")))
	assert.True(t, vf.TotalSupply.Equal(d("2.5")), "totalSupply starts at bonus")
	assert.Equal(t, uint64(4000), vf.TResultSetMin)
	assert.Equal(t, uint64(4000+3600), vf.TResultSetMax)
	assert.Equal(t, 3, vf.OutcomeCount)

	assert.Equal(t, 1, f.user(creator).ConcurrentVirtualFloors)

	f.repo.Read(func(s *repo.State) {
		assert.Equal(t, 3, s.Outcomes.Len())
		assert.Equal(t, 1, s.Opponents.Len())
		assert.Equal(t, 1, s.ResultSources.Len())

		agg, ok := s.Aggregates.Get(domain.SingletonAggregateID)
		require.True(t, ok)
		assert.Equal(t, 1, agg.TotalVirtualFloorsCreated)

		_, ok = s.Categories.Get("sports")
		assert.True(t, ok)
		sub, ok := s.Subcategories.Get("sports-football")
		require.True(t, ok)
		assert.Equal(t, "football", sub.Slug)
	})

	out := f.outcome("0x1-1")
	assert.Equal(t, 1, out.Index)
	assert.Equal(t, "B", out.Title)
}

func TestVirtualFloorCreationIsExclusive(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)

	_, err := f.apply(f.creationEvent(1, "0", 2))
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))

	// The failed application must leave no trace: the aggregate counter and
	// the owner's concurrent count are unchanged.
	f.repo.Read(func(s *repo.State) {
		agg, _ := s.Aggregates.Get(domain.SingletonAggregateID)
		assert.Equal(t, 1, agg.TotalVirtualFloorsCreated)
	})
	assert.Equal(t, 1, f.user(creator).ConcurrentVirtualFloors)
}

func TestVirtualFloorCreationRequiresKnownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.apply(f.creationEvent(1, "0", 2))
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
}

func TestVirtualFloorCreationUnsupportedMetadata(t *testing.T) {
	f := newFixture(t)
	f.whitelistToken()

	ev := f.creationEvent(1, "0", 2)
	ev.Metadata.Version = common.BigToHash(big.NewInt(9))
	_, err := f.apply(ev)
	require.Error(t, err)

	var uv *domain.UnsupportedMetadataVersionError
	assert.ErrorAs(t, err, &uv)
}

func TestVirtualFloorCreationOutcomeCountMismatch(t *testing.T) {
	f := newFixture(t)
	f.whitelistToken()

	ev := f.creationEvent(1, "0", 2)
	ev.NOutcomes = 3 // metadata still declares 2
	_, err := f.apply(ev)
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
}

func TestUserCommitmentMintsThroughHierarchy(t *testing.T) {
	f := newFixture(t)
	f.createFloor("2.5", 2)
	f.commit(alice, 0, 601, 2100, "100", "1.5")

	assert.True(t, f.vf("0x1").TotalSupply.Equal(d("102.5")), "bonus + mint")

	out := f.outcome("0x1-0")
	assert.True(t, out.TotalSupply.Equal(d("100")))
	assert.True(t, out.TotalWeightedSupply.Equal(d("150")))

	ots := f.ots("0x259") // 601 = 0x259
	assert.True(t, ots.TotalSupply.Equal(d("100")))
	assert.True(t, ots.Beta.Equal(d("1.5")))
	assert.Equal(t, uint64(2100), ots.Timeslot)

	uo, ok := f.userOutcome("0x1-0", alice)
	require.True(t, ok)
	assert.True(t, uo.TotalBalance.Equal(d("100")))
	assert.True(t, uo.TotalWeightedBalance.Equal(d("150")))

	uots, ok := f.userTimeslot("0x259", alice)
	require.True(t, ok)
	assert.True(t, uots.Balance.Equal(d("100")))

	// The zero address is tracked as an ordinary account from the first mint.
	f.user(domain.ZeroAddress)

	// The mint is recorded in the transfer log with the zero address as from.
	f.repo.Read(func(s *repo.State) {
		assert.Equal(t, 1, s.Transfers.Len())
		s.Transfers.All(func(tr domain.OutcomeTimeslotTransfer) {
			assert.Equal(t, domain.AddressID(domain.ZeroAddress), tr.From)
			assert.Equal(t, domain.AddressID(alice), tr.To)
			assert.True(t, tr.Amount.Equal(d("100")))
		})
	})
}

func TestMintTransferEventIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.commit(alice, 0, 601, 2100, "100", "1.5")

	// The ERC-1155 TransferSingle emitted by the same mint transaction must
	// not double-count.
	f.mustApply(domain.TransferSingle{
		EventMeta: f.meta(2100),
		From:      domain.ZeroAddress,
		To:        alice,
		TokenID:   big.NewInt(601),
		Value:     raw("100"),
	})

	assert.True(t, f.vf("0x1").TotalSupply.Equal(d("100")))
	assert.True(t, f.ots("0x259").TotalSupply.Equal(d("100")))
}

func TestBetaIsImmutable(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.commit(alice, 0, 601, 2100, "100", "1.5")

	// Same token id, different beta: fatal.
	_, err := f.apply(domain.UserCommitment{
		EventMeta:      f.meta(2100),
		VirtualFloorID: big.NewInt(1),
		Committer:      bob,
		OutcomeIndex:   0,
		Timeslot:       2100,
		Amount:         raw("10"),
		BetaE18:        e18("1.4"),
		TokenID:        big.NewInt(601),
	})
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))

	// Nothing from the rejected event may stick.
	assert.True(t, f.ots("0x259").TotalSupply.Equal(d("100")))

	// Same beta: the second mint accumulates.
	f.commit(bob, 0, 601, 2100, "10", "1.5")
	assert.True(t, f.ots("0x259").TotalSupply.Equal(d("110")))
}

func TestSplitTransfer(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.commit(alice, 0, 601, 2100, "100", "1.5")

	f.mustApply(domain.TransferSingle{
		EventMeta: f.meta(2200),
		From:      alice,
		To:        bob,
		TokenID:   big.NewInt(601),
		Value:     raw("40"),
	})

	// Token-level total is unchanged by an ownership split.
	assert.True(t, f.ots("0x259").TotalSupply.Equal(d("100")))
	assert.True(t, f.vf("0x1").TotalSupply.Equal(d("100")))

	aliceTS, _ := f.userTimeslot("0x259", alice)
	assert.True(t, aliceTS.Balance.Equal(d("60")))
	bobTS, _ := f.userTimeslot("0x259", bob)
	assert.True(t, bobTS.Balance.Equal(d("40")))

	aliceUO, _ := f.userOutcome("0x1-0", alice)
	assert.True(t, aliceUO.TotalWeightedBalance.Equal(d("90")), "150 - 40*1.5")
	bobUO, _ := f.userOutcome("0x1-0", bob)
	assert.True(t, bobUO.TotalWeightedBalance.Equal(d("60")), "40*1.5")
}

func TestBurnKeepsConservation(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.commit(alice, 0, 601, 2100, "100", "1.5")

	f.mustApply(domain.TransferSingle{
		EventMeta: f.meta(2300),
		From:      alice,
		To:        domain.ZeroAddress,
		TokenID:   big.NewInt(601),
		Value:     raw("25"),
	})

	// Burns change ownership to the sink account; supply does not perish.
	assert.True(t, f.ots("0x259").TotalSupply.Equal(d("100")))

	sinkTS, ok := f.userTimeslot("0x259", domain.ZeroAddress)
	require.True(t, ok)
	assert.True(t, sinkTS.Balance.Equal(d("25")))

	// Per-token conservation across every holder including the sink.
	var sum decimal.Decimal
	f.repo.Read(func(s *repo.State) {
		s.UserOutcomeTimeslots.All(func(u domain.UserOutcomeTimeslot) {
			if u.OutcomeTimeslot == "0x259" {
				sum = sum.Add(u.Balance)
			}
		})
	})
	assert.True(t, sum.Equal(d("100")))
}

func TestTransferUnknownTokenIsFatal(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)

	_, err := f.apply(domain.TransferSingle{
		EventMeta: f.meta(2300),
		From:      alice,
		To:        bob,
		TokenID:   big.NewInt(999),
		Value:     raw("1"),
	})
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
}

func TestTransferBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.commit(alice, 0, 601, 2100, "100", "1.5")
	f.commit(alice, 1, 602, 2100, "50", "1.2")

	// Second pair references a token that was never minted; the whole batch
	// must be rejected, including the valid first pair.
	_, err := f.apply(domain.TransferBatch{
		EventMeta: f.meta(2400),
		From:      alice,
		To:        bob,
		TokenIDs:  []*big.Int{big.NewInt(601), big.NewInt(999)},
		Values:    []*big.Int{raw("10"), raw("10")},
	})
	require.Error(t, err)

	aliceTS, _ := f.userTimeslot("0x259", alice)
	assert.True(t, aliceTS.Balance.Equal(d("100")), "valid pair of failed batch must not apply")

	// A fully valid batch applies both pairs and logs one transfer per pair.
	f.mustApply(domain.TransferBatch{
		EventMeta: f.meta(2500),
		From:      alice,
		To:        bob,
		TokenIDs:  []*big.Int{big.NewInt(601), big.NewInt(602)},
		Values:    []*big.Int{raw("10"), raw("20")},
	})

	bobA, _ := f.userTimeslot("0x259", bob)
	assert.True(t, bobA.Balance.Equal(d("10")))
	bobB, _ := f.userTimeslot("0x25a", bob) // 602
	assert.True(t, bobB.Balance.Equal(d("20")))

	f.repo.Read(func(s *repo.State) {
		assert.Equal(t, 4, s.Transfers.Len(), "2 mints + 2 batch pairs")
	})
}

func TestCancellationUnresolvable(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)

	transitions := f.mustApply(domain.VirtualFloorCancellationUnresolvable{
		EventMeta: f.meta(4100), VirtualFloorID: big.NewInt(1),
	})

	vf := f.vf("0x1")
	assert.Equal(t, domain.StateClaimableRefundsResolvableNever, vf.State)
	assert.Equal(t, 0, f.user(creator).ConcurrentVirtualFloors)

	require.Len(t, transitions, 1)
	assert.Equal(t, domain.StateActiveResultNone, transitions[0].From)
	assert.Equal(t, domain.StateClaimableRefundsResolvableNever, transitions[0].To)
}

func TestCancellationFlagged(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)

	f.mustApply(domain.VirtualFloorCancellationFlagged{
		EventMeta: f.meta(4100), VirtualFloorID: big.NewInt(1), Reason: "duplicate market",
	})

	vf := f.vf("0x1")
	assert.Equal(t, domain.StateClaimableRefundsFlagged, vf.State)
	assert.Equal(t, "duplicate market", vf.FlaggingReason)
}

func (f *fixture) setResult(outcomeIndex int, ts uint64) {
	f.mustApply(domain.ResultUpdate{
		EventMeta:      f.meta(ts),
		VirtualFloorID: big.NewInt(1),
		Operator:       creator,
		Action:         domain.ActionCreatorSetResult,
		OutcomeIndex:   outcomeIndex,
	})
}

func TestResolutionWinners(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.setResult(1, 4100)

	f.mustApply(domain.VirtualFloorResolution{
		EventMeta:           f.meta(4200),
		VirtualFloorID:      big.NewInt(1),
		WinningOutcomeIndex: 1,
		ResolutionType:      domain.ResolutionWinners,
		WinnerProfits:       raw("5"),
	})

	vf := f.vf("0x1")
	assert.Equal(t, domain.StateClaimablePayouts, vf.State)
	assert.Equal(t, "0x1-1", vf.WinningOutcome)
	require.NotNil(t, vf.WinnerProfits)
	assert.True(t, vf.WinnerProfits.Equal(d("5")))
	assert.Equal(t, 0, f.user(creator).ConcurrentVirtualFloors)
}

func TestResolutionNoWinners(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.setResult(0, 4100)

	f.mustApply(domain.VirtualFloorResolution{
		EventMeta:           f.meta(4200),
		VirtualFloorID:      big.NewInt(1),
		WinningOutcomeIndex: 0,
		ResolutionType:      domain.ResolutionNoWinners,
		WinnerProfits:       raw("0"),
	})

	assert.Equal(t, domain.StateClaimableRefundsResolvedNoWinners, f.vf("0x1").State)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.mustApply(domain.VirtualFloorCancellationUnresolvable{
		EventMeta: f.meta(4100), VirtualFloorID: big.NewInt(1),
	})

	_, err := f.apply(domain.VirtualFloorCancellationFlagged{
		EventMeta: f.meta(4200), VirtualFloorID: big.NewInt(1), Reason: "late",
	})
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
	assert.Equal(t, domain.StateClaimableRefundsResolvableNever, f.vf("0x1").State)

	_, err = f.apply(domain.ResultUpdate{
		EventMeta:      f.meta(4300),
		VirtualFloorID: big.NewInt(1),
		Operator:       creator,
		Action:         domain.ActionCreatorSetResult,
		OutcomeIndex:   0,
	})
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
}

func TestResultUpdateCreatorSet(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.setResult(1, 4100)

	vf := f.vf("0x1")
	assert.Equal(t, domain.StateActiveResultSet, vf.State)
	assert.Equal(t, "0x1-1", vf.WinningOutcome)
	assert.Equal(t, uint64(4100+3600), vf.TResultChallengeMax)
}

func TestResultUpdateChallenge(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.setResult(1, 4100)

	f.mustApply(domain.ResultUpdate{
		EventMeta:      f.meta(4200),
		VirtualFloorID: big.NewInt(1),
		Operator:       challenger,
		Action:         domain.ActionSomeoneChallengedSetResult,
		OutcomeIndex:   0,
	})

	vf := f.vf("0x1")
	assert.Equal(t, domain.StateActiveResultChallenged, vf.State)
	assert.Equal(t, domain.AddressID(challenger), vf.Challenger)
	assert.Equal(t, "0x1-0", vf.WinningOutcome, "challenger's claimed outcome")
	f.user(challenger)
}

func TestResultUpdateFinalizingActionsAreNoops(t *testing.T) {
	f := newFixture(t)
	f.createFloor("0", 2)
	f.setResult(1, 4100)

	// The accompanying resolution event performs the terminal transition;
	// the result-update itself must not.
	transitions := f.mustApply(domain.ResultUpdate{
		EventMeta:      f.meta(4200),
		VirtualFloorID: big.NewInt(1),
		Operator:       creator,
		Action:         domain.ActionSomeoneConfirmedUnchallengedResult,
		OutcomeIndex:   1,
	})
	assert.Empty(t, transitions)
	assert.Equal(t, domain.StateActiveResultSet, f.vf("0x1").State)
}

func TestCreationQuotaAdjustments(t *testing.T) {
	f := newFixture(t)

	f.mustApply(domain.CreationQuotaAdjustments{
		EventMeta: f.meta(900),
		Adjustments: []domain.QuotaAdjustment{
			{Creator: creator, RelativeAmount: 10},
			{Creator: alice, RelativeAmount: 3},
		},
	})
	f.mustApply(domain.CreationQuotaAdjustments{
		EventMeta:   f.meta(901),
		Adjustments: []domain.QuotaAdjustment{{Creator: creator, RelativeAmount: -4}},
	})

	assert.Equal(t, int64(6), f.user(creator).MaxConcurrentVirtualFloors)
	assert.Equal(t, int64(3), f.user(alice).MaxConcurrentVirtualFloors)
}

// TestFloorConservation replays a mixed sequence and checks the §8-style
// conservation identities: floor supply equals bonus plus all mints, and each
// token's supply equals the sum of its holders' balances.
func TestFloorConservation(t *testing.T) {
	f := newFixture(t)
	f.createFloor("7", 3)

	f.commit(alice, 0, 601, 2100, "100", "1.5")
	f.commit(bob, 0, 601, 2100, "40", "1.5")
	f.commit(alice, 1, 602, 2160, "30", "1.45")
	f.commit(bob, 2, 603, 2220, "12.5", "1.4")

	f.mustApply(domain.TransferSingle{
		EventMeta: f.meta(2300), From: alice, To: bob,
		TokenID: big.NewInt(601), Value: raw("25"),
	})
	f.mustApply(domain.TransferSingle{
		EventMeta: f.meta(2301), From: bob, To: domain.ZeroAddress,
		TokenID: big.NewInt(601), Value: raw("5"),
	})
	f.mustApply(domain.TransferBatch{
		EventMeta: f.meta(2302), From: alice, To: bob,
		TokenIDs: []*big.Int{big.NewInt(602)}, Values: []*big.Int{raw("30")},
	})

	assert.True(t, f.vf("0x1").TotalSupply.Equal(d("189.5")), "7 + 100+40+30+12.5")

	f.repo.Read(func(s *repo.State) {
		s.OutcomeTimeslots.All(func(ots domain.OutcomeTimeslot) {
			var sum decimal.Decimal
			s.UserOutcomeTimeslots.All(func(u domain.UserOutcomeTimeslot) {
				if u.OutcomeTimeslot == ots.ID {
					sum = sum.Add(u.Balance)
				}
			})
			assert.True(t, sum.Equal(ots.TotalSupply),
				"token %s: holders sum %s != supply %s", ots.ID, sum, ots.TotalSupply)
		})
	})
}

package claim

import (
	"sort"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/repo"
)

// BuildSnapshot gathers one floor's claim-relevant state for one user under a
// single repository read, so the calculator sees a consistent picture even
// while ingestion is advancing.
func BuildSnapshot(r *repo.Repo, vfID, userID string) (*Snapshot, error) {
	var (
		snap *Snapshot
		err  error
	)
	r.Read(func(s *repo.State) {
		vf, ok := s.VirtualFloors.Get(vfID)
		if !ok {
			err = domain.ErrNotFound
			return
		}

		snap = &Snapshot{
			State:         vf.State,
			WinnerProfits: vf.WinnerProfits,
		}

		for _, outcomeID := range vf.OutcomeIDs() {
			view, verr := buildOutcomeView(s, outcomeID, userID)
			if verr != nil {
				err = verr
				return
			}
			snap.Outcomes = append(snap.Outcomes, view)
			if outcomeID == vf.WinningOutcome {
				v := view
				snap.WinningOutcome = &v
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func buildOutcomeView(s *repo.State, outcomeID, userID string) (OutcomeView, error) {
	outcome, ok := s.Outcomes.Get(outcomeID)
	if !ok {
		return OutcomeView{}, domain.Integrityf("Outcome", outcomeID, "declared outcome row missing")
	}

	view := OutcomeView{
		ID:                  outcomeID,
		TotalWeightedSupply: outcome.TotalWeightedSupply,
	}

	uo, ok := s.UserOutcomes.Get(domain.UserOutcomeID(outcomeID, userID))
	if !ok {
		return view, nil
	}

	row := UserOutcomeRow{
		TotalBalance:         uo.TotalBalance,
		TotalWeightedBalance: uo.TotalWeightedBalance,
	}

	// Collect the user's position tokens under this outcome. The scan is over
	// the outcome's timeslots; the per-user row is a direct key lookup.
	var timeslots []domain.OutcomeTimeslot
	s.OutcomeTimeslots.All(func(ots domain.OutcomeTimeslot) {
		if ots.Outcome == outcomeID {
			timeslots = append(timeslots, ots)
		}
	})
	sort.Slice(timeslots, func(i, j int) bool {
		return timeslots[i].Timeslot < timeslots[j].Timeslot
	})
	for _, ots := range timeslots {
		if _, ok := s.UserOutcomeTimeslots.Get(domain.UserOutcomeTimeslotID(ots.ID, userID)); ok {
			row.TokenIDs = append(row.TokenIDs, ots.TokenID)
		}
	}

	view.UserRows = []UserOutcomeRow{row}
	return view, nil
}

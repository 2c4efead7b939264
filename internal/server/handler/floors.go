package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/repo"
)

// FloorHandler serves virtual-floor queries against the committed state.
type FloorHandler struct {
	repo   *repo.Repo
	logger *slog.Logger
}

// NewFloorHandler creates a FloorHandler over the given repository.
func NewFloorHandler(r *repo.Repo, logger *slog.Logger) *FloorHandler {
	return &FloorHandler{repo: r, logger: logger}
}

type floorSummary struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Subcategory    string `json:"subcategory"`
	State          string `json:"state"`
	IsListed       bool   `json:"isListed"`
	Owner          string `json:"owner"`
	PaymentToken   string `json:"paymentToken"`
	TOpen          uint64 `json:"tOpen"`
	TClose         uint64 `json:"tClose"`
	TResolve       uint64 `json:"tResolve"`
	OutcomeCount   int    `json:"outcomeCount"`
	TotalSupply    string `json:"totalSupply"`
	WinningOutcome string `json:"winningOutcome,omitempty"`
}

type floorDetail struct {
	floorSummary

	Description         string  `json:"description"`
	DiscordChannelID    string  `json:"discordChannelId,omitempty"`
	BetaOpen            string  `json:"betaOpen"`
	CreationFeeRate     string  `json:"creationFeeRate"`
	PlatformFeeRate     string  `json:"platformFeeRate"`
	TCreated            uint64  `json:"tCreated"`
	TResultSetMin       uint64  `json:"tResultSetMin"`
	TResultSetMax       uint64  `json:"tResultSetMax"`
	TResultChallengeMax uint64  `json:"tResultChallengeMax,omitempty"`
	BonusAmount         string  `json:"bonusAmount"`
	MinCommitmentAmount string  `json:"minCommitmentAmount"`
	MaxCommitmentAmount string  `json:"maxCommitmentAmount"`
	WinnerProfits       *string `json:"winnerProfits,omitempty"`
	Challenger          string  `json:"challenger,omitempty"`
	FlaggingReason      string  `json:"flaggingReason,omitempty"`

	Outcomes      []outcomeView      `json:"outcomes"`
	Opponents     []opponentView     `json:"opponents"`
	ResultSources []resultSourceView `json:"resultSources"`
}

type outcomeView struct {
	ID                  string `json:"id"`
	Index               int    `json:"index"`
	Title               string `json:"title"`
	TotalSupply         string `json:"totalSupply"`
	TotalWeightedSupply string `json:"totalWeightedSupply"`
}

type opponentView struct {
	Title string `json:"title"`
	Image string `json:"image"`
}

type resultSourceView struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func summarize(vf domain.VirtualFloor) floorSummary {
	return floorSummary{
		ID:             vf.ID,
		Title:          vf.Title,
		Subcategory:    vf.Subcategory,
		State:          string(vf.State),
		IsListed:       vf.IsListed,
		Owner:          vf.Owner,
		PaymentToken:   vf.PaymentToken,
		TOpen:          vf.TOpen,
		TClose:         vf.TClose,
		TResolve:       vf.TResolve,
		OutcomeCount:   vf.OutcomeCount,
		TotalSupply:    vf.TotalSupply.String(),
		WinningOutcome: vf.WinningOutcome,
	}
}

// ListFloors returns floors filtered by state and subcategory, newest first.
// GET /api/floors?state=&subcategory=&limit=&offset=
func (h *FloorHandler) ListFloors(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	stateFilter := r.URL.Query().Get("state")
	subcategoryFilter := r.URL.Query().Get("subcategory")

	var floors []domain.VirtualFloor
	h.repo.Read(func(s *repo.State) {
		s.VirtualFloors.All(func(vf domain.VirtualFloor) {
			if stateFilter != "" && string(vf.State) != stateFilter {
				return
			}
			if subcategoryFilter != "" && vf.Subcategory != subcategoryFilter {
				return
			}
			floors = append(floors, vf)
		})
	})

	sort.Slice(floors, func(i, j int) bool {
		return floors[i].IntID.Cmp(floors[j].IntID) > 0
	})

	total := len(floors)
	if opts.Offset < len(floors) {
		floors = floors[opts.Offset:]
	} else {
		floors = nil
	}
	if len(floors) > opts.Limit {
		floors = floors[:opts.Limit]
	}

	out := make([]floorSummary, 0, len(floors))
	for _, vf := range floors {
		out = append(out, summarize(vf))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"floors": out,
		"total":  total,
	})
}

// GetFloor returns one floor with its outcomes, opponents and result sources.
// GET /api/floors/{id}
func (h *FloorHandler) GetFloor(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		detail floorDetail
		found  bool
	)
	h.repo.Read(func(s *repo.State) {
		vf, ok := s.VirtualFloors.Get(id)
		if !ok {
			return
		}
		found = true

		detail = floorDetail{
			floorSummary:        summarize(vf),
			Description:         vf.Description,
			DiscordChannelID:    vf.DiscordChannelID,
			BetaOpen:            vf.BetaOpen.String(),
			CreationFeeRate:     vf.CreationFeeRate.String(),
			PlatformFeeRate:     vf.PlatformFeeRate.String(),
			TCreated:            vf.TCreated,
			TResultSetMin:       vf.TResultSetMin,
			TResultSetMax:       vf.TResultSetMax,
			TResultChallengeMax: vf.TResultChallengeMax,
			BonusAmount:         vf.BonusAmount.String(),
			MinCommitmentAmount: vf.MinCommitmentAmount.String(),
			MaxCommitmentAmount: vf.MaxCommitmentAmount.String(),
			Challenger:          vf.Challenger,
			FlaggingReason:      vf.FlaggingReason,
			Outcomes:            collectOutcomes(s, vf),
		}
		if vf.WinnerProfits != nil {
			wp := vf.WinnerProfits.String()
			detail.WinnerProfits = &wp
		}

		s.Opponents.All(func(o domain.Opponent) {
			if o.VirtualFloor == vf.ID {
				detail.Opponents = append(detail.Opponents, opponentView{Title: o.Title, Image: o.Image})
			}
		})
		s.ResultSources.All(func(rs domain.ResultSource) {
			if rs.VirtualFloor == vf.ID {
				detail.ResultSources = append(detail.ResultSources, resultSourceView{Title: rs.Title, URL: rs.URL})
			}
		})
	})

	if !found {
		writeError(w, http.StatusNotFound, "floor not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListOutcomes returns a floor's outcomes in index order.
// GET /api/floors/{id}/outcomes
func (h *FloorHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var (
		outcomes []outcomeView
		found    bool
	)
	h.repo.Read(func(s *repo.State) {
		vf, ok := s.VirtualFloors.Get(id)
		if !ok {
			return
		}
		found = true
		outcomes = collectOutcomes(s, vf)
	})

	if !found {
		writeError(w, http.StatusNotFound, "floor not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

func collectOutcomes(s *repo.State, vf domain.VirtualFloor) []outcomeView {
	out := make([]outcomeView, 0, vf.OutcomeCount)
	for _, outcomeID := range vf.OutcomeIDs() {
		o, ok := s.Outcomes.Get(outcomeID)
		if !ok {
			continue
		}
		out = append(out, outcomeView{
			ID:                  o.ID,
			Index:               o.Index,
			Title:               o.Title,
			TotalSupply:         o.TotalSupply.String(),
			TotalWeightedSupply: o.TotalWeightedSupply.String(),
		})
	}
	return out
}

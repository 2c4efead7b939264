package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/repo"
)

// TokenHandler serves position-token (outcome-timeslot) metadata lookups, the
// read path token wallets hit to render an ERC-1155 balance.
type TokenHandler struct {
	repo   *repo.Repo
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler over the given repository.
func NewTokenHandler(r *repo.Repo, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{repo: r, logger: logger}
}

type positionTokenView struct {
	ID          string `json:"id"`
	TokenID     string `json:"tokenId"`
	Timeslot    uint64 `json:"timeslot"`
	Beta        string `json:"beta"`
	TotalSupply string `json:"totalSupply"`

	Outcome struct {
		ID    string `json:"id"`
		Index int    `json:"index"`
		Title string `json:"title"`
	} `json:"outcome"`

	VirtualFloor struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		State        string `json:"state"`
		PaymentToken string `json:"paymentToken"`
	} `json:"virtualFloor"`
}

// normalizeTokenID accepts a position-token id as 0x-hex or decimal and
// returns the canonical entity id.
func normalizeTokenID(raw string) (string, bool) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		n, ok := new(big.Int).SetString(raw[2:], 16)
		if !ok {
			return "", false
		}
		return domain.BigIntID(n), true
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", false
	}
	return domain.BigIntID(n), true
}

// GetToken returns one position token with its outcome and floor context.
// GET /api/tokens/{id}
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := normalizeTokenID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusBadRequest, "token id must be hex or decimal")
		return
	}

	var (
		view  positionTokenView
		found bool
	)
	h.repo.Read(func(s *repo.State) {
		ots, ok := s.OutcomeTimeslots.Get(id)
		if !ok {
			return
		}
		outcome, ok := s.Outcomes.Get(ots.Outcome)
		if !ok {
			return
		}
		vf, ok := s.VirtualFloors.Get(outcome.VirtualFloor)
		if !ok {
			return
		}
		found = true

		view.ID = ots.ID
		view.TokenID = ots.TokenID.String()
		view.Timeslot = ots.Timeslot
		view.Beta = ots.Beta.String()
		view.TotalSupply = ots.TotalSupply.String()
		view.Outcome.ID = outcome.ID
		view.Outcome.Index = outcome.Index
		view.Outcome.Title = outcome.Title
		view.VirtualFloor.ID = vf.ID
		view.VirtualFloor.Title = vf.Title
		view.VirtualFloor.State = string(vf.State)
		view.VirtualFloor.PaymentToken = vf.PaymentToken
	})

	if !found {
		writeError(w, http.StatusNotFound, "position token not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

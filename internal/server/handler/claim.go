package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/doubledice/ddindexer/internal/claim"
	"github.com/doubledice/ddindexer/internal/domain"
	"github.com/doubledice/ddindexer/internal/repo"
)

// ClaimCache caches prepared claims for terminal floors. Get returns
// domain.ErrNotFound on a miss.
type ClaimCache interface {
	Get(ctx context.Context, vfID, userID string) (*claim.PreparedClaim, error)
	Set(ctx context.Context, vfID, userID string, c *claim.PreparedClaim) error
}

// ClaimHandler serves payout/refund queries. Claims for terminal floors are
// immutable, so those are cached; active floors are always computed fresh.
type ClaimHandler struct {
	repo   *repo.Repo
	cache  ClaimCache // nil disables caching
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler. cache may be nil.
func NewClaimHandler(r *repo.Repo, cache ClaimCache, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{repo: r, cache: cache, logger: logger}
}

type claimResponse struct {
	Claimable  bool     `json:"claimable"`
	Kind       string   `json:"kind,omitempty"`
	TotalClaim string   `json:"totalClaim,omitempty"`
	TokenIDs   []string `json:"tokenIds,omitempty"`
}

// GetClaim computes what the given user may withdraw from the floor.
// GET /api/floors/{id}/claim?user=0x...
func (h *ClaimHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	vfID := r.PathValue("id")

	rawUser := r.URL.Query().Get("user")
	if !common.IsHexAddress(rawUser) {
		writeError(w, http.StatusBadRequest, "user must be a hex address")
		return
	}
	userID := domain.AddressID(common.HexToAddress(rawUser))

	cacheable := false
	h.repo.Read(func(s *repo.State) {
		if vf, ok := s.VirtualFloors.Get(vfID); ok {
			cacheable = vf.State.IsClaimable()
		}
	})

	if cacheable && h.cache != nil {
		if c, err := h.cache.Get(r.Context(), vfID, userID); err == nil {
			writeJSON(w, http.StatusOK, toClaimResponse(c))
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("claim cache read failed",
				slog.String("virtual_floor", vfID),
				slog.String("error", err.Error()))
		}
	}

	snap, err := claim.BuildSnapshot(h.repo, vfID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "floor not found")
			return
		}
		h.logger.Error("claim snapshot failed",
			slog.String("virtual_floor", vfID),
			slog.String("user", userID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	c, err := claim.Prepare(snap)
	if err != nil {
		h.logger.Error("claim preparation failed",
			slog.String("virtual_floor", vfID),
			slog.String("user", userID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, claimResponse{Claimable: false})
		return
	}

	// Terminal states never leave, so the prepared claim can only grow stale
	// in TTL terms, never in value.
	if cacheable && h.cache != nil {
		if err := h.cache.Set(r.Context(), vfID, userID, c); err != nil {
			h.logger.Warn("claim cache write failed",
				slog.String("virtual_floor", vfID),
				slog.String("error", err.Error()))
		}
	}

	writeJSON(w, http.StatusOK, toClaimResponse(c))
}

func toClaimResponse(c *claim.PreparedClaim) claimResponse {
	resp := claimResponse{
		Claimable:  true,
		Kind:       c.Kind.String(),
		TotalClaim: c.TotalClaim.String(),
	}
	for _, id := range c.TokenIDs {
		resp.TokenIDs = append(resp.TokenIDs, id.String())
	}
	return resp
}

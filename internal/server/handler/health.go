package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/doubledice/ddindexer/internal/repo"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	repo   *repo.Repo
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler over the given repository.
func NewHealthHandler(r *repo.Repo, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{repo: r, logger: logger}
}

// HealthCheck responds with liveness plus a few entity counts, so a glance
// tells whether ingestion has caught up with anything at all.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	var floors, tokens int
	h.repo.Read(func(s *repo.State) {
		floors = s.VirtualFloors.Len()
		tokens = s.PaymentTokens.Len()
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"virtual_floors": floors,
		"payment_tokens": tokens,
	})
}

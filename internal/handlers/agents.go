package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/apierr"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/models"
)

// AgentsResponse represents the agent directory response.
type AgentsResponse struct {
	Total   int                   `json:"total"`
	Agents  []models.AgentSummary `json:"agents"`
	Storage string                `json:"storage"`
}

// Agents lists every agent holding a key.
func (h *Handler) Agents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.keys.Agents(r.Context())
	if err != nil {
		h.Error(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, AgentsResponse{
		Total:   len(agents),
		Agents:  agents,
		Storage: h.storage(),
	})
}

// Who handles a single agent lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ai_id")
	if !validAgentID(id) {
		h.Error(w, r, apierr.Invalid("Invalid ai_id", "invalid agent ID format"))
		return
	}

	agents, err := h.keys.Agents(r.Context())
	if err != nil {
		h.Error(w, r, err)
		return
	}

	for _, a := range agents {
		if a.AgentID == id {
			h.JSON(w, http.StatusOK, a)
			return
		}
	}
	h.Error(w, r, apierr.NotFound("agent not found"))
}

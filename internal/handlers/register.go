package handlers

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/apierr"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/keys"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
)

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	AgentID     string `json:"ai_id"`
	Description string `json:"description"`
}

// RegisterResponse represents the registration response.
type RegisterResponse struct {
	OK        bool   `json:"ok"`
	APIKey    string `json:"api_key"`
	AgentID   string `json:"ai_id"`
	CreatedAt string `json:"created_at"`
	Message   string `json:"message"`
	Storage   string `json:"storage"`
}

// Register issues a new API key for an agent id. Registering the same id
// again issues an additional key.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	if !validAgentID(req.AgentID) {
		h.Error(w, r, apierr.Invalid("Invalid ai_id", "ai_id must be 3-50 characters of letters, digits, '_', '.' or '-'"))
		return
	}

	desc := sanitizeDescription(req.Description)
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		h.Error(w, r, apierr.Invalid("Invalid description", "description must be at most 500 characters"))
		return
	}

	key, rec, err := h.keys.Issue(r.Context(), req.AgentID, desc)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	metrics.AgentsRegistered.Inc()

	h.logger.Info().
		Str("agent", rec.AgentID).
		Str("key", keys.Mask(key)).
		Msg("Registered agent")

	h.JSON(w, http.StatusCreated, RegisterResponse{
		OK:        true,
		APIKey:    key,
		AgentID:   rec.AgentID,
		CreatedAt: rec.IssuedAt.Format(time.RFC3339),
		Message:   "API Key generated successfully",
		Storage:   h.storage(),
	})
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/api/middleware"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/apierr"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/messages"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/models"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/pubsub"
)

const (
	maxInboxLimit  = 500
	publishTimeout = 2 * time.Second
	// maxPendingPublishes bounds in-flight notifications; beyond it they are dropped.
	maxPendingPublishes = 256
)

// SendRequest represents the send request body.
type SendRequest struct {
	From    string          `json:"from,omitempty"` // optional, must match the caller
	To      string          `json:"to"`
	Message json.RawMessage `json:"message"`
}

// SendResponse represents the send response.
type SendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// InboxResponse represents the inbox response.
type InboxResponse struct {
	Total    int              `json:"total"`
	Messages []models.Message `json:"messages"`
	Storage  string           `json:"storage"`
}

// OKResponse is a bare acknowledgement.
type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Send stores a message for its recipient and notifies live subscribers.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	sender := middleware.GetKeyFromContext(r.Context())
	if sender == nil {
		h.Error(w, r, apierr.Auth("Missing API Key", "authentication required"))
		return
	}

	var req SendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	if req.From != "" && req.From != sender.AgentID {
		h.Error(w, r, apierr.Forbidden("Permission denied", "from does not match the agent that owns this API key"))
		return
	}
	if !validAgentID(req.To) {
		h.Error(w, r, apierr.Invalid("Invalid recipient", "to must be a valid ai_id"))
		return
	}
	if len(req.Message) == 0 || bytes.Equal(req.Message, []byte("null")) {
		h.Error(w, r, apierr.Invalid("Invalid message", "message is required"))
		return
	}

	env, err := h.messages.Put(r.Context(), sender.AgentID, req.To, req.Message)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	metrics.MessagesSent.Inc()

	h.notify(models.Message{
		ID:        env.ID,
		From:      env.From,
		To:        env.To,
		Timestamp: env.CreatedAt.UnixMilli(),
		Content:   req.Message,
	})

	h.logger.Debug().
		Str("from", env.From).
		Str("to", env.To).
		Str("message_id", env.ID).
		Msg("message stored")

	h.JSON(w, http.StatusOK, SendResponse{
		OK:        true,
		MessageID: env.ID,
		Timestamp: env.CreatedAt.UnixMilli(),
		Message:   "Message sent successfully",
	})
}

// notify publishes msg on the recipient's inbox topic in the background.
// Failures never fail the send.
func (h *Handler) notify(msg models.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case h.publishSlots <- struct{}{}:
	default:
		metrics.PublishFailures.Inc()
		h.logger.Warn().
			Str("publisher", h.publisher.Name()).
			Str("message_id", msg.ID).
			Msg("too many pending notifications, dropping")
		return
	}

	go func() {
		defer func() { <-h.publishSlots }()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := h.publisher.Publish(ctx, pubsub.InboxTopic(msg.To), payload); err != nil {
			metrics.PublishFailures.Inc()
			h.logger.Warn().
				Err(err).
				Str("publisher", h.publisher.Name()).
				Str("message_id", msg.ID).
				Msg("failed to publish inbox notification")
		}
	}()
}

// Inbox returns the caller's unexpired messages, newest first.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetKeyFromContext(r.Context())
	if caller == nil {
		h.Error(w, r, apierr.Auth("Missing API Key", "authentication required"))
		return
	}

	agentID := chi.URLParam(r, "ai_id")
	if agentID != caller.AgentID {
		h.Error(w, r, apierr.Forbidden("Permission denied", "you can only read your own inbox"))
		return
	}

	q, err := parseInboxQuery(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	msgs, err := h.messages.Get(r.Context(), agentID, q)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, InboxResponse{
		Total:    len(msgs),
		Messages: msgs,
		Storage:  h.storage(),
	})
}

// parseInboxQuery reads limit (default 50, capped at 500) and since (Unix ms).
func parseInboxQuery(r *http.Request) (messages.Query, error) {
	q := messages.Query{Limit: messages.DefaultLimit}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return q, apierr.Invalid("Invalid limit", "limit must be a positive integer")
		}
		q.Limit = min(limit, maxInboxLimit)
	}

	if v := r.URL.Query().Get("since"); v != "" {
		since, err := strconv.ParseInt(v, 10, 64)
		if err != nil || since < 0 {
			return q, apierr.Invalid("Invalid since", "since must be a Unix timestamp in milliseconds")
		}
		if since > 0 {
			q.Since = time.UnixMilli(since)
		}
	}

	return q, nil
}

// DeleteMessage removes a message sent by the caller.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetKeyFromContext(r.Context())
	if caller == nil {
		h.Error(w, r, apierr.Auth("Missing API Key", "authentication required"))
		return
	}

	id := chi.URLParam(r, "message_id")
	err := h.messages.Delete(r.Context(), id, caller.AgentID)
	switch {
	case errors.Is(err, messages.ErrNotFound):
		h.Error(w, r, &apierr.Error{
			Kind:    apierr.KindNotFound,
			Code:    "Message not found",
			Message: "Message does not exist or has been deleted",
		})
		return
	case errors.Is(err, messages.ErrForbidden):
		h.Error(w, r, apierr.Forbidden("Permission denied", "You can only delete your own messages"))
		return
	case err != nil:
		h.Error(w, r, err)
		return
	}
	metrics.MessagesDeleted.Inc()

	h.JSON(w, http.StatusOK, OKResponse{OK: true, Message: "Message deleted successfully"})
}

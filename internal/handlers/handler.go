package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/apierr"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/keys"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/messages"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/pubsub"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/store"
)

// agentIDRegex matches 3 to 50 characters of letters, digits, '_', '.' and '-'.
var agentIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]{3,50}$`)

const maxDescriptionLength = 500

// SubscriberCounter reports how many live subscribers are connected.
type SubscriberCounter interface {
	Clients() int64
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	KV          store.KV
	Keys        *keys.Store
	Messages    *messages.Store
	Publisher   pubsub.Publisher  // nil disables live notifications
	Subscribers SubscriberCounter // nil when no broker is embedded
	Logger      zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	kv          store.KV
	keys        *keys.Store
	messages    *messages.Store
	publisher   pubsub.Publisher
	subscribers SubscriberCounter
	logger      zerolog.Logger
	startedAt   time.Time

	publishSlots chan struct{}
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	pub := d.Publisher
	if pub == nil {
		pub = pubsub.NopPublisher{}
	}
	return &Handler{
		kv:          d.KV,
		keys:        d.Keys,
		messages:    d.Messages,
		publisher:   pub,
		subscribers: d.Subscribers,
		logger:      d.Logger,
		startedAt:   time.Now(),

		publishSlots: make(chan struct{}, maxPendingPublishes),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response. Errors that are not API errors are
// logged and reported as a generic 500.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request, err error) {
	if e := apierr.From(err); e.Kind == apierr.KindInternal {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	apierr.Write(w, err)
}

// storage names the active backend in responses.
func (h *Handler) storage() string {
	return h.kv.Name()
}

// decodeJSON reads a JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Validation("invalid JSON body")
	}
	return nil
}

// validAgentID reports whether id can name an agent. ".." is rejected so
// the id is always usable as a path segment.
func validAgentID(id string) bool {
	return agentIDRegex.MatchString(id) && !strings.Contains(id, "..")
}

// sanitizeDescription trims and removes control characters.
func sanitizeDescription(desc string) string {
	desc = strings.TrimSpace(desc)

	// Remove control characters
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, desc)
}

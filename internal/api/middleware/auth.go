package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/access"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/apierr"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/keys"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/models"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/ratelimit"
)

type contextKey string

const (
	KeyRecordContextKey contextKey = "api_key_record"
	rawKeyContextKey    contextKey = "api_key"
)

// APIKeyHeader carries the caller's key on authenticated routes.
const APIKeyHeader = "X-API-Key"

// Auth gates routes behind an API key, the access lists and the per-key rate limit.
type Auth struct {
	access  *access.List
	keys    *keys.Store
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// NewAuth creates the authentication middleware.
func NewAuth(list *access.List, keyStore *keys.Store, limiter *ratelimit.Limiter, logger zerolog.Logger) *Auth {
	return &Auth{access: list, keys: keyStore, limiter: limiter, logger: logger}
}

// RequireAPIKey runs the stages in order: presence, access lists, format,
// membership, rate limit. A request only spends a rate limit slot once every
// earlier stage has passed.
func (a *Auth) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			apierr.Write(w, apierr.Auth("Missing API Key", "Please provide an API key in the X-API-Key header"))
			return
		}

		if !a.access.Permit(key) {
			metrics.BlockedRequests.WithLabelValues("access_list").Inc()
			a.logger.Warn().
				Str("type", "security").
				Str("event", "access_denied").
				Str("key", keys.Mask(key)).
				Str("ip", RealIP(r)).
				Str("endpoint", r.URL.Path).
				Msg("access denied by access list")
			apierr.Write(w, apierr.Forbidden("Access denied", "Your API key is not allowed to use this hub"))
			return
		}

		if !keys.ValidateFormat(key) {
			apierr.Write(w, apierr.Auth("Invalid API Key format", "API keys look like oc- followed by 32 hex characters"))
			return
		}

		rec, err := a.keys.Lookup(r.Context(), key)
		if errors.Is(err, keys.ErrUnknownKey) {
			apierr.Write(w, apierr.Auth("Unknown API Key", "The provided API key is not registered"))
			return
		}
		if err != nil {
			a.logger.Error().Err(err).Msg("api key lookup failed")
			apierr.Write(w, err)
			return
		}

		d, err := a.limiter.Allow(r.Context(), key)
		if err != nil {
			a.logger.Error().Err(err).Msg("rate limiter unavailable")
			apierr.Write(w, err)
			return
		}
		setRateLimitHeaders(w, d)

		if !d.Allowed {
			metrics.RateLimitHits.WithLabelValues(routeLabel(r)).Inc()
			a.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("key", keys.Mask(key)).
				Str("agent", rec.AgentID).
				Str("endpoint", r.URL.Path).
				Int("count", d.Count).
				Msg("rate limit exceeded")
			apierr.Write(w, apierr.RateLimit(d.RetryAfter))
			return
		}

		ctx := context.WithValue(r.Context(), KeyRecordContextKey, rec)
		ctx = context.WithValue(ctx, rawKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// GetKeyFromContext returns the key record of the authenticated caller.
func GetKeyFromContext(ctx context.Context) *models.APIKey {
	rec, ok := ctx.Value(KeyRecordContextKey).(*models.APIKey)
	if !ok {
		return nil
	}
	return rec
}

// GetRawKeyFromContext returns the API key the caller presented.
func GetRawKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(rawKeyContextKey).(string)
	return key
}

package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/apierr"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/metrics"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/ratelimit"
)

// IPRateLimiter throttles unauthenticated routes per client IP.
type IPRateLimiter struct {
	limiter      *ratelimit.Limiter
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewIPRateLimiter creates a per-IP limiter. Whitelist entries are IPs or
// CIDRs exempt from limiting.
func NewIPRateLimiter(limiter *ratelimit.Limiter, whitelist []string, logger zerolog.Logger) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiter:      limiter,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
	}

	// Parse whitelist entries
	for _, entry := range whitelist {
		if strings.Contains(entry, "/") {
			// CIDR notation
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			// Single IP
			rl.whitelistIPs[entry] = true
		}
	}

	if len(whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *IPRateLimiter) isWhitelisted(ipStr string) bool {
	// Check exact IP match
	if rl.whitelistIPs[ipStr] {
		return true
	}

	// Check CIDR ranges
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	// Check X-Forwarded-For first
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	// Then X-Real-IP
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	// Fallback to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the rate limiting middleware.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		// Skip rate limiting for whitelisted IPs
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		d, err := rl.limiter.Allow(r.Context(), "ip:"+ip)
		if err != nil {
			rl.logger.Error().Err(err).Msg("rate limiter unavailable")
			apierr.Write(w, err)
			return
		}
		setRateLimitHeaders(w, d)

		if !d.Allowed {
			metrics.RateLimitHits.WithLabelValues(routeLabel(r)).Inc()
			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")
			apierr.Write(w, apierr.RateLimit(d.RetryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robalyx/resonance/internal/rest/middleware/auth"
	"github.com/robalyx/resonance/internal/setup/config"
	"github.com/robalyx/resonance/pkg/utils"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	errBlocked    = "temporarily blocked for repeated rate limit violations"
	errRateLimit  = "rate limit exceeded"
	headerRetryAt = "Retry-After"
)

type limiterState struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	strikes      int       // Number of times client has violated rate limit
	blockedUntil time.Time // Time until client is blocked for repeated violations
}

// Middleware implements rate limiting for API requests. Authenticated
// requests are limited per user, others per remote address.
type Middleware struct {
	limiters *utils.TTLMap[string, *limiterState]
	config   *config.RateLimit
	logger   *zap.Logger
}

// New creates a new rate limiting middleware.
func New(config *config.RateLimit, logger *zap.Logger) *Middleware {
	// Use the longer of block duration or burst window * 2 for TTL
	ttl := time.Second * time.Duration(config.BurstSize*2)
	if blockTTL := config.BlockDuration * 2; blockTTL > ttl {
		ttl = blockTTL
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &Middleware{
		limiters: utils.NewTTLMap[string, *limiterState](ttl),
		config:   config,
		logger:   logger,
	}
}

// Close stops the background sweeper of the limiter map.
func (m *Middleware) Close() {
	m.limiters.Close()
}

// AsRESTMiddleware returns a bunrouter middleware handler for rate limiting in REST server.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		if allowed, retryAfter, reason := m.checkRateLimit(clientKey(req)); !allowed {
			// Add Retry-After header if there's a wait time
			if retryAfter > 0 {
				w.Header().Set(headerRetryAt, fmt.Sprintf("%.0f", retryAfter.Seconds()))
			}

			http.Error(w, reason, http.StatusTooManyRequests)
			return nil
		}
		return next(w, req)
	}
}

// checkRateLimit checks if the request should be allowed and updates violation tracking.
func (m *Middleware) checkRateLimit(key string) (bool, time.Duration, string) {
	state := m.limiters.GetOrSet(key, func() *limiterState {
		return &limiterState{
			limiter: rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstSize),
		}
	})

	state.mu.Lock()
	defer state.mu.Unlock()

	now := time.Now()

	// Check if client is blocked
	if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
		retryAfter := state.blockedUntil.Sub(now).Round(time.Second)
		m.logger.Debug("Client is temporarily blocked",
			zap.String("client", key),
			zap.Duration("retry_after", retryAfter))
		return false, retryAfter, errBlocked
	}

	// Try to reserve a token
	reservation := state.limiter.ReserveN(now, 1)
	if !reservation.OK() || reservation.DelayFrom(now) > 0 {
		delay := time.Duration(0)
		if reservation.OK() {
			delay = reservation.DelayFrom(now)
			reservation.CancelAt(now)
		}

		state.strikes++

		// Check if we should block the client
		if m.config.StrikeLimit > 0 && state.strikes >= m.config.StrikeLimit {
			state.blockedUntil = now.Add(m.config.BlockDuration)
			state.strikes = 0 // Reset strikes

			m.logger.Debug("Client exceeded strike limit and is now blocked",
				zap.String("client", key),
				zap.Int("strikes", m.config.StrikeLimit),
				zap.Duration("block_duration", m.config.BlockDuration))

			return false, m.config.BlockDuration, errBlocked
		}

		m.logger.Debug("Rate limit exceeded",
			zap.String("client", key),
			zap.Duration("delay", delay),
			zap.Int("strikes", state.strikes))

		return false, delay, errRateLimit
	}

	// Reset strikes on successful request
	state.strikes = 0

	return true, 0, ""
}

func clientKey(req bunrouter.Request) string {
	if userID := auth.UserIDFromContext(req.Context()); userID != "" {
		return "user:" + userID
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}

	return "ip:" + host
}

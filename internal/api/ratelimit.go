package api

import (
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

// NewLimiter returns a token bucket for action execution, or nil when
// perSecond is zero. A zero burst defaults to one.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// The governor serializes all executions, so one shared bucket covers every
// caller. A request whose Idempotency-Key is already recorded never reaches
// the ledger and spends no token.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.isRecorded(r) {
			next.ServeHTTP(w, r)
			return
		}
		res := h.Limiter.Reserve()
		if !res.OK() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) isRecorded(r *http.Request) bool {
	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" || h.Idem == nil {
		return false
	}
	_, ok := h.Idem.Get(key)
	return ok
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rateLimiter enforces a fixed-window per-client request cap on the
// submission endpoints, counted in Redis so the cap holds across replicas.
type rateLimiter struct {
	client *redis.Client
	limit  int
	logger *zap.Logger
}

var rateLimitScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

func newRateLimiter(client *redis.Client, limit int, logger *zap.Logger) *rateLimiter {
	return &rateLimiter{client: client, limit: limit, logger: logger}
}

// middleware rejects requests over the per-minute cap with 429. A failed
// Redis check allows the request; limiting degrades open rather than taking
// the API down with it.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit <= 0 || rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("sentinelsoc:ratelimit:%s:%s", clientIP(r), r.URL.Path)
		count, err := rateLimitScript.Run(r.Context(), rl.client, []string{key}, 60000).Int()
		if err != nil {
			rl.logger.Warn("rate limit check failed, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > rl.limit {
			ttl, _ := rl.client.TTL(r.Context(), key).Result()
			if ttl < 0 {
				ttl = time.Minute
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate_limit_exceeded","retry_after":%d}`, int(ttl.Seconds()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

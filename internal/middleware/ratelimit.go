package middleware

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

// RateLimiter throttles write endpoints per authenticated user with a fixed
// window counter in Redis. A nil client disables limiting entirely so local
// development does not require Redis.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	log    *zap.SugaredLogger
}

func NewRateLimiter(rdb *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		log:    zap.S(),
	}
}

func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.rdb == nil {
			next.ServeHTTP(w, r)
			return
		}

		userID := GetUserID(r.Context())
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Authentication required"))
			return
		}

		key := "rl:" + userID
		pipe := l.rdb.TxPipeline()
		incr := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, l.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			// Redis trouble should not take the API down.
			l.log.Warnf("[ratelimit] redis error for %s: %v", userID, err)
			next.ServeHTTP(w, r)
			return
		}

		if incr.Val() > l.limit {
			writeJSON(w, http.StatusTooManyRequests, models.NewErrorResponse("Rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

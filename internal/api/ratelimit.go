package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	xerrors "PixelBoard/internal/errors"
	"PixelBoard/pkg/logger"
)

// RateLimiter 为每个客户端维护一个令牌桶。
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，perMinute 为每个客户端每分钟允许的请求数。
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perMinute / 60),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 判断 key 对应的客户端是否还有余量。
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Handler 返回限流中间件，超限时返回 429 RATE_LIMITED。
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !rl.Allow(key) {
			logger.L().Info("rate_limit_exceeded", "key", key, "path", r.URL.Path)
			writeError(w, r, xerrors.New(xerrors.CodeRateLimited, "too many image generation requests, slow down",
				xerrors.WithMetadata("per_second", formatLimit(rl.rate)),
				xerrors.WithLimit(rl.burst)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup 删除长时间未使用的令牌桶。
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

func formatLimit(l rate.Limit) string {
	return strconv.FormatFloat(float64(l), 'f', -1, 64)
}

package handlers

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tomasen/realip"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LoginLimiter throttles login attempts per client IP. Idle entries are
// pruned lazily when new clients arrive.
type LoginLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	clients  map[string]*clientLimiter
	clock    func() time.Time
	recorder LoginRecorder
}

// NewLoginLimiter allows perMinute attempts per client with the given burst.
func NewLoginLimiter(perMinute, burst int, recorder LoginRecorder) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &LoginLimiter{
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		clients:  make(map[string]*clientLimiter),
		clock:    time.Now,
		recorder: recorder,
	}
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func (l *LoginLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := realip.FromRequest(r)
		if !l.allow(ip) {
			if l.recorder != nil {
				l.recorder.RecordLogin("limited")
			}
			slog.Warn("login rate limit exceeded", slog.String("client_ip", ip))
			retryAfter := int(math.Ceil(1.0 / float64(l.rate)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked clients.
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *LoginLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	client, ok := l.clients[key]
	if !ok {
		for k, c := range l.clients {
			if now.Sub(c.lastAccess) > limiterIdleTTL {
				delete(l.clients, k)
			}
		}
		client = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = client
	}
	client.lastAccess = now
	return client.limiter.AllowN(now, 1)
}

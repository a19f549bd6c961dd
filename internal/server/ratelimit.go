package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/astrorag-go/internal/logging"
)

// defaultRateLimit is the number of requests per second allowed per client
// on /api/ask and /api/retrieve when Config.RateLimit is zero.
const defaultRateLimit = 10

// defaultRateBurst is the per-client burst when Config.RateBurst is zero.
const defaultRateBurst = 20

// clientTTL is how long an idle client keeps its token bucket.
const clientTTL = 5 * time.Minute

// client is one remote address's token bucket.
type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a token-bucket limit per remote address. Questions
// are expensive (retrieval plus a full LLM generation), so the limiter sits
// in front of the ask and retrieve endpoints only.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	rps   rate.Limit
	burst int
	log   *slog.Logger

	// rejected counts 429 responses per path. Nil disables the metric.
	rejected *prometheus.CounterVec
}

// newRateLimiter returns a limiter allowing rps sustained requests and burst
// instantaneous requests per client, plus a stop function that ends the
// background sweep of idle clients.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				rl.sweep(now)
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// bucket returns the token bucket for ip, creating it on first use.
func (rl *rateLimiter) bucket(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.bucket
}

// sweep drops clients idle for longer than clientTTL.
func (rl *rateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > clientTTL {
			delete(rl.clients, ip)
		}
	}
}

// middleware rejects requests over the client's budget with 429 and a
// Retry-After header holding the whole seconds until a token is available.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ip := clientIP(r)

		res := rl.bucket(ip, now).ReserveN(now, 1)
		if !res.OK() {
			rl.reject(w, r, ip, time.Second)
			return
		}
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			rl.reject(w, r, ip, delay)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) reject(w http.ResponseWriter, r *http.Request, ip string, wait time.Duration) {
	retry := max(int(math.Ceil(wait.Seconds())), 1)

	logging.FromContext(r.Context()).Warn("rate limit exceeded",
		slog.String("ip", ip),
		slog.String("path", r.URL.Path),
		slog.Int("retry_after_s", retry),
	)
	if rl.rejected != nil {
		rl.rejected.WithLabelValues(r.URL.Path).Inc()
	}

	w.Header().Set("Retry-After", strconv.Itoa(retry))
	http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored:
// the server binds to loopback by default and sits behind no proxy.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	// Unbracketed IPv6 with a port, such as "::1:8080".
	if i := strings.LastIndexByte(addr, ':'); i > 0 {
		return addr[:i]
	}
	return addr
}

package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSwept time.Time
	now       func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter allows rps requests per second per client with the given burst.
func NewClientLimiter(rps float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 5 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now.
func (l *ClientLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSwept) > l.idleTTL {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.idleTTL {
				delete(l.clients, k)
			}
		}
		l.lastSwept = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// RateLimitConfig holds rate limiting configuration. Forwarding headers are only
// believed on requests whose peer address is one of TrustedProxies (IPs or CIDRs).
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	TrustedProxies    []string
	Logger            *zap.Logger
}

// RateLimit middleware limits requests per client IP. A non-positive rate
// disables limiting.
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	if config.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	logger := orNop(config.Logger)
	trusted, err := ParseTrustedProxies(config.TrustedProxies)
	if err != nil {
		logger.Warn("Ignoring invalid trusted proxies", zap.Error(err))
	}
	limiter := NewClientLimiter(config.RequestsPerSecond, config.BurstSize)
	limitHeader := strconv.FormatFloat(config.RequestsPerSecond, 'f', -1, 64)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ClientIP(r, trusted)
			w.Header().Set("X-RateLimit-Limit", limitHeader)

			if !limiter.Allow(clientIP) {
				logger.Warn("Rate limit exceeded",
					zap.String("client_ip", clientIP),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method))
				w.Header().Set("Retry-After", "1")
				WriteError(w, r, apperrors.New(apperrors.ErrCodeRateLimit, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ParseTrustedProxies parses IP addresses and CIDR blocks. Valid entries are
// returned even when others fail to parse.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var (
		nets []*net.IPNet
		errs []error
	)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				errs = append(errs, fmt.Errorf("trusted proxy %q is not an IP or CIDR", entry))
				continue
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("trusted proxy %q: %w", entry, err))
			continue
		}
		nets = append(nets, n)
	}
	return nets, errors.Join(errs...)
}

// ClientIP returns the address a request is attributed to. Requests from a
// trusted proxy are attributed to the right-most X-Forwarded-For entry that is
// not itself a trusted proxy, then to X-Real-IP; all others to their peer address.
func ClientIP(r *http.Request, trusted []*net.IPNet) string {
	peer := remoteIP(r)
	if !isTrusted(trusted, peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			ip := strings.TrimSpace(parts[i])
			if net.ParseIP(ip) == nil {
				break
			}
			if !isTrusted(trusted, ip) {
				return ip
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

func isTrusted(trusted []*net.IPNet, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteIP is the peer address of the connection.
func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

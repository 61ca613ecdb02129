package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"filevault/internal/shared/metrics"
	"filevault/internal/shared/server/respond"
)

// Throttle is a token bucket applied to requests Match selects.
// PerMinute is the refill rate; Burst is the bucket size.
type Throttle struct {
	Name      string
	PerMinute float64
	Burst     int
	Match     func(*gin.Context) bool
}

func (t Throttle) enabled() bool { return t.PerMinute > 0 && t.Burst > 0 }

// RateLimiter holds one bucket per client IP and throttle.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastPrune time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
	full   time.Duration
}

const pruneEvery = time.Minute

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{buckets: make(map[string]*bucket), now: now}
}

// RateLimit rejects requests over the first matching throttle with 429.
// Requests no throttle matches pass untouched.
func RateLimit(limiter *RateLimiter, throttles ...Throttle) gin.HandlerFunc {
	if limiter == nil {
		limiter = NewRateLimiter(nil)
	}
	return func(c *gin.Context) {
		for _, t := range throttles {
			if !t.enabled() || (t.Match != nil && !t.Match(c)) {
				continue
			}
			ok, wait := limiter.Take(c.ClientIP()+"|"+t.Name, t)
			if ok {
				break
			}
			metrics.IncRateLimited()
			waitMs := max(int(wait/time.Millisecond), 1)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(float64(waitMs)/1000))))
			respond.Error(c, http.StatusTooManyRequests, "rate_limited", "Too many requests", gin.H{"retryAfterMs": waitMs})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Take spends one token from key's bucket, reporting how long to wait when empty.
func (l *RateLimiter) Take(key string, t Throttle) (bool, time.Duration) {
	if l == nil || !t.enabled() {
		return true, 0
	}
	perSec := t.PerMinute / 60
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens: float64(t.Burst),
			last:   now,
			full:   time.Duration(float64(t.Burst) / perSec * float64(time.Second)),
		}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(t.Burst), b.tokens+elapsed*perSec)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := (1 - b.tokens) / perSec
	return false, time.Duration(math.Ceil(wait*1000)) * time.Millisecond
}

// prune drops buckets idle long enough to have refilled completely.
func (l *RateLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < pruneEvery {
		return
	}
	l.lastPrune = now
	for key, b := range l.buckets {
		if now.Sub(b.last) >= b.full {
			delete(l.buckets, key)
		}
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

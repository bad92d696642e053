package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"taskflow/pkg/metrics"
)

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// PerIP keeps one token bucket per client address.
type PerIP struct {
	config   RateLimitConfig
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func NewPerIP(config RateLimitConfig) *PerIP {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultConfig().MaxAge
	}
	return &PerIP{
		config:   config,
		limiters: make(map[string]*Limiter),
	}
}

// RunCleanup evicts idle limiters until ctx is done.
func (p *PerIP) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.evict(now)
		}
	}
}

func (p *PerIP) evict(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ip, limiter := range p.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > p.config.MaxAge {
			delete(p.limiters, ip)
		}
	}
}

func (p *PerIP) get(clientIP string) *Limiter {
	p.mu.RLock()
	limiter, exists := p.limiters[clientIP]
	p.mu.RUnlock()
	if exists {
		return limiter
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	limiter, exists = p.limiters[clientIP]
	if !exists {
		limiter = &Limiter{
			limiter:  rate.NewLimiter(rate.Limit(p.config.RPS), p.config.Burst),
			lastSeen: time.Now(),
		}
		p.limiters[clientIP] = limiter
	}
	return limiter
}

func (p *PerIP) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := p.get(clientIP)
		limiter.mu.Lock()
		limiter.lastSeen = time.Now()
		limiter.mu.Unlock()

		if !limiter.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Limit", formatRate(p.config.RPS))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		c.Header("X-RateLimit-Limit", formatRate(p.config.RPS))
		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func (p *PerIP) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.limiters)
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// limiterSweepInterval bounds how long idle client buckets are kept. The
// pool is reset wholesale; live clients rebuild their bucket on the next
// request.
const limiterSweepInterval = 5 * time.Minute

// limiterPool hands out one token bucket per client IP.
type limiterPool struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	perIP     map[string]*rate.Limiter
	lastSweep time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst < 1 {
		burst = 1
	}
	return &limiterPool{
		rps:       rate.Limit(rps),
		burst:     burst,
		perIP:     make(map[string]*rate.Limiter),
		lastSweep: time.Now(),
	}
}

func (p *limiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastSweep) > limiterSweepInterval {
		p.perIP = make(map[string]*rate.Limiter)
		p.lastSweep = time.Now()
	}

	limiter, ok := p.perIP[ip]
	if !ok {
		limiter = rate.NewLimiter(p.rps, p.burst)
		p.perIP[ip] = limiter
	}
	return limiter
}

// RequestIDMiddleware adds unique request ID for tracking. An inbound
// X-Request-ID is honored so upstream proxies can correlate logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("RequestID", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogger logs every request with timing and status.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("request",
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// RateLimitMiddleware rejects clients that exceed the per-IP budget.
func RateLimitMiddleware(rps float64, burst int, log *zap.Logger) gin.HandlerFunc {
	pool := newLimiterPool(rps, burst)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !pool.get(ip).Allow() {
			log.Warn("rate limit exceeded", zap.String("client_ip", ip))
			respondError(c, http.StatusTooManyRequests, "rate limit exceeded, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware prevents long-running requests from blocking resources.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		// Buffered so a handler that outlives the deadline (hijacked
		// websocket connections in particular) can still finish its send.
		finished := make(chan struct{}, 1)
		panicChan := make(chan any, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicChan <- p
				}
			}()
			c.Next()
			finished <- struct{}{}
		}()

		select {
		case <-panicChan:
			respondError(c, http.StatusInternalServerError, "internal server error")
			c.Abort()
		case <-finished:
			return
		case <-ctx.Done():
			respondError(c, http.StatusRequestTimeout, "request took too long to process")
			c.Abort()
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing for the dashboard.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

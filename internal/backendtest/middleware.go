package backendtest

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
)

const userKey = "user"

// authMiddleware validates the bearer token, or the token query parameter for
// WebSocket upgrades, and stores the caller in the context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		claims, err := s.issuer.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user, ok := s.store.user(claims.UserID)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) models.User {
	v, _ := c.Get(userKey)
	u, _ := v.(models.User)
	return u
}

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if u := currentUser(c); u.ID > 0 {
			key = fmt.Sprintf("user:%d", u.ID)
		}

		limiterContext, err := limiterInstance.Get(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limiter error"})
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// faultMiddleware counts calls per route and serves injected failures.
func (s *Server) faultMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := routeKey(c.Request.Method, c.FullPath())

		s.mu.Lock()
		s.calls[key]++
		var status int
		if queue := s.failures[key]; len(queue) > 0 {
			status, s.failures[key] = queue[0], queue[1:]
		}
		s.mu.Unlock()

		if status != 0 {
			c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
			return
		}
		c.Next()
	}
}

func routeKey(method, fullPath string) string {
	return method + " " + strings.TrimPrefix(fullPath, apiPrefix)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("duration", time.Since(start).Truncate(time.Millisecond)).
			Str("errors", c.Errors.ByType(gin.ErrorTypeAny).String()).
			Msg("sandbox request")
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Interface("error", recovered).
			Bytes("stack", debug.Stack()).
			Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

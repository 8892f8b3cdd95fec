package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medprice-service/internal/models"
	"medprice-service/internal/redisclient"
	"medprice-service/internal/service"
	"medprice-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiter counts hits per key in a fixed window
type RateLimiter interface {
	Allow(ctx context.Context, bucket, key string, limit int64, window time.Duration) (redisclient.RateLimit, error)
}

const (
	adminKeyHeader  = "X-Admin-Key"
	adminUserHeader = "X-Admin-User"
	actorKey        = "actor"
)

// adminAuth accepts requests carrying the static admin key. An empty key rejects everything.
func adminAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(adminKeyHeader)
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}

		user := strings.TrimSpace(c.GetHeader(adminUserHeader))
		if user == "" {
			user = "admin"
		}
		c.Set(actorKey, service.Actor{
			User: user,
			Meta: models.AuditMetadata{
				IPAddress: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
				Source:    models.AuditSourceAdmin,
			},
		})
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(service.Actor); ok {
			return a
		}
	}
	return service.SystemActor
}

// rateLimit allows limit requests per client IP per window. Limiter errors let the request through.
func (h *Handler) rateLimit(bucket string, limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		res, err := h.limiter.Allow(c.Request.Context(), bucket, c.ClientIP(), limit, h.opts.RateWindow)
		if err != nil {
			h.logger.Warn("Rate limiter unavailable", zap.String("bucket", bucket), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		if !res.Allowed {
			util.RateLimitedTotal.WithLabelValues(bucket).Inc()
			c.Header("Retry-After", strconv.Itoa(int(res.ResetIn.Seconds()+0.5)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

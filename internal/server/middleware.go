package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// rateLimit caps submissions per device per minute using the cache tier's
// counters. A cache failure allows the request through: rate limiting is a
// protection layer, not a correctness gate.
func (s *Server) rateLimit() gin.HandlerFunc {
	limit := int64(s.cfg.Pipeline.RateLimitPerMinute)

	return func(c *gin.Context) {
		var key string
		switch {
		case c.Request.Method == http.MethodPost:
			key = "submit"
		case c.Param("device_id") != "":
			key = "device:" + c.Param("device_id")
		case c.Param("user_id") != "":
			key = "user:" + c.Param("user_id")
		default:
			// No identity in scope (status and the like); nothing to bucket.
			c.Next()
			return
		}

		count, err := s.cache.IncrRate(c.Request.Context(), key, time.Minute)
		if err != nil {
			s.obs.RecordDegraded("rate_limit", 0, err)
			c.Next()
			return
		}
		if count > limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

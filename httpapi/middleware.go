package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// GlobalRateLimit rejects requests beyond rps with a burst allowance
func GlobalRateLimit(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Kind: "rate_limit"})
			c.Abort()
			return
		}
		c.Next()
	}
}

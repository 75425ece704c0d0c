package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/sandbox"
)

// runRequest is the JSON body of POST /runner
type runRequest struct {
	Code      string  `json:"code" binding:"required"`
	Args      *string `json:"args"`
	TimeoutMs int     `json:"timeout_ms" binding:"gte=0"`
}

// errorResponse is the JSON body of a failed run
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// runQuery handles GET /runner?code=..&args=..&timeout=..
func (s *Server) runQuery(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "code is required", Kind: "request"})
		return
	}

	timeoutMs := 0
	if raw := c.Query("timeout"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "timeout must be a non-negative integer", Kind: "request"})
			return
		}
		timeoutMs = v
	}

	s.run(c, code, c.DefaultQuery("args", sandbox.DefaultArgs), timeoutMs)
}

// runJSON handles POST /runner
func (s *Server) runJSON(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "request"})
		return
	}

	args := sandbox.DefaultArgs
	if req.Args != nil {
		args = *req.Args
	}
	s.run(c, req.Code, args, req.TimeoutMs)
}

func (s *Server) run(c *gin.Context, code, args string, timeoutMs int) {
	result, err := s.executor.Execute(c.Request.Context(), sandbox.ExecuteRequest{
		Source:  code,
		Args:    args,
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
	})
	if err != nil {
		kind := sandbox.KindOf(err)
		c.JSON(statusFor(kind), errorResponse{Error: err.Error(), Kind: string(kind)})
		return
	}

	c.Header("X-Execution-Id", result.ID)
	c.Header("X-Execution-Backend", result.Backend)
	c.String(http.StatusOK, result.Output)
}

// health handles GET /healthz
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"backend": s.config.Engine.Backend,
	})
}

// statusFor maps an execution failure to its HTTP status
func statusFor(kind sandbox.Kind) int {
	switch kind {
	case sandbox.KindTimeout:
		return http.StatusGatewayTimeout
	case sandbox.KindCapacity:
		return http.StatusServiceUnavailable
	case sandbox.KindMemoryLimit:
		return http.StatusInsufficientStorage
	case sandbox.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// requestLogger logs every request with zap
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

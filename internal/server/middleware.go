package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medley-tv/medley/internal/logger"
)

// requestLogger debug-logs one line per request. Health checks are
// skipped; they fire every few seconds and carry no signal.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.Debug("http %s %s -> %d in %s (%d bytes, %s)",
			c.Request.Method,
			c.Request.URL.RequestURI(),
			c.Writer.Status(),
			time.Since(start).Round(time.Millisecond),
			c.Writer.Size(),
			c.ClientIP(),
		)
	}
}

// errorLogger surfaces errors handlers attached to the context.
func errorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Error("request %s %s: %v",
				c.Request.Method, c.Request.URL.Path, err.Err)
		}
	}
}

// corsMiddleware allows browser clients from any origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, Range")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

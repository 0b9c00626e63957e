package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"drpactor/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/pretty"
)

const maxLoggedBody = 1000

// Logger access log. Each request gets a trace id carried by its context.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Request-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := logger.WithTrace(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", traceID)

		start := time.Now()

		var body string
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			body = getRequestBody(c)
		}

		c.Next()

		status := c.Writer.Status()
		if status == http.StatusNotFound {
			return
		}

		if body != "" {
			logger.InfoCtx(ctx, "[GIN] %3d | %13v | %15s | %s %s | body=%s",
				status, time.Since(start), c.ClientIP(), c.Request.Method, c.Request.URL.Path, body)
			return
		}
		logger.InfoCtx(ctx, "[GIN] %3d | %13v | %15s | %s %s",
			status, time.Since(start), c.ClientIP(), c.Request.Method, c.Request.URL.Path)
	}
}

// getRequestBody reads and restores the request body
func getRequestBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
	return CompressBody(string(raw))
}

// CompressBody strips JSON whitespace and truncates
func CompressBody(body string) string {
	if len(body) == 0 {
		return ""
	}

	compressed := pretty.Ugly([]byte(body))
	if len(compressed) > maxLoggedBody {
		return string(compressed[:maxLoggedBody]) + "..."
	}
	return string(compressed)
}

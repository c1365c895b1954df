package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/util"
	log "github.com/sirupsen/logrus"
)

// RequestLogMiddleware logs one line per request with secrets masked in the query.
// Paths under skipPrefixes are not logged.
func RequestLogMiddleware(logger log.FieldLogger, skipPrefixes ...string) gin.HandlerFunc {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		for _, prefix := range skipPrefixes {
			if hasPathPrefix(path, prefix) {
				return
			}
		}
		fields := log.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if q := util.MaskSensitiveQuery(c.Request.URL.RawQuery); q != "" {
			fields["query"] = q
		}
		if userID, ok := c.Get("userID"); ok {
			fields["user_id"] = userID
		}
		entry := logger.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("http request")
		case c.Writer.Status() >= 400:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// hasPathPrefix checks a prefix match on a path boundary.
func hasPathPrefix(path string, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}

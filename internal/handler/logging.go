package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerMiddleware logs every request on the debug surface. Health and metric
// scrapes are logged at debug level so they do not drown the sync logs.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	quiet := map[string]bool{"/health": true, "/metrics": true}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		level := zapcore.InfoLevel
		switch {
		case c.Writer.Status() >= 500:
			level = zapcore.ErrorLevel
		case quiet[path]:
			level = zapcore.DebugLevel
		}

		if ce := logger.Check(level, "HTTP request"); ce != nil {
			ce.Write(
				zap.Int("status", c.Writer.Status()),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("query", c.Request.URL.RawQuery),
				zap.Duration("latency", time.Since(start)),
				zap.Int("size", c.Writer.Size()),
				zap.Strings("errors", c.Errors.Errors()),
			)
		}
	}
}

package observability

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Meter returns a named meter from provider, or a no-op meter when metrics are disabled
func Meter(provider metric.MeterProvider, name string) metric.Meter {
	if provider == nil {
		return noop.NewMeterProvider().Meter(name)
	}
	return provider.Meter(name)
}

// PrometheusHandler returns a Gin handler serving the Prometheus scrape endpoint
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if handler == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "metrics are disabled",
			})
			return
		}
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

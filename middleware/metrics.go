package middleware

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/gin-gonic/gin"

	aws_pkg "order-monitor/pkg/aws"
)

// MetricsMiddleware sends one CloudWatch batch per request: a count, the
// latency and, for failures, a 4xx or 5xx count. Dimensions use the route
// template so order ids never become dimension values.
func MetricsMiddleware(metricsClient *aws_pkg.MetricsClient, serviceName string) gin.HandlerFunc {
	if !metricsClient.IsEnabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		dims := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusCodeToRange(status),
		}
		data := []types.MetricDatum{
			aws_pkg.Datum(aws_pkg.MetricHTTPRequests, 1, types.StandardUnitCount, dims),
			aws_pkg.Datum(aws_pkg.MetricHTTPLatency, float64(time.Since(start).Milliseconds()), types.StandardUnitMilliseconds, dims),
		}
		switch statusCodeToRange(status) {
		case "5xx":
			data = append(data, aws_pkg.Datum(aws_pkg.MetricHTTP5xx, 1, types.StandardUnitCount, dims))
		case "4xx":
			data = append(data, aws_pkg.Datum(aws_pkg.MetricHTTP4xx, 1, types.StandardUnitCount, dims))
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsClient.PutMetricBatch(ctx, data)
		}()
	}
}

func statusCodeToRange(statusCode int) string {
	switch statusCode / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	}
	return "unknown"
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formy_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formy_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// MetricsMiddleware records request counts and latency.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route,
			strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
		} else {
			entry.Info("request")
		}
	}
}

// CORSMiddleware allows the configured origins.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || allowAll {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// statusForKind maps error kinds to HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case errors.KindInvalidMode, errors.KindInvalidSourceImage,
		errors.KindMissingReferenceImage, errors.KindInvalidRequest,
		errors.KindInvalidCredentials:
		return http.StatusBadRequest
	case errors.KindUnauthenticated:
		return http.StatusUnauthorized
	case errors.KindCreditNotEnough:
		return http.StatusPaymentRequired
	case errors.KindForbidden:
		return http.StatusForbidden
	case errors.KindTaskDataNotFound, errors.KindResultNotFound:
		return http.StatusNotFound
	case errors.KindEngineUnavailable:
		return http.StatusServiceUnavailable
	case errors.KindEngineTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders an error with its mapped status. Structured details
// (e.g. the credit deficit) are lifted into the body.
func respondError(c *gin.Context, err error) {
	kind := errors.Kind(err)
	status := statusForKind(kind)

	body := gin.H{"error": kind}
	if e, ok := err.(*errors.Error); ok {
		body["message"] = e.Message
		for k, v := range e.Details {
			body[k] = v
		}
	} else {
		body["message"] = err.Error()
	}
	if status >= 500 {
		log.WithError(err).Errorf("%s %s failed", c.Request.Method, c.Request.URL.Path)
	}
	c.JSON(status, body)
}

// Package middleware provides the Gin middleware shared by the portal pages
// and the JSON API. Everything here is registered in internal/api/router.go
// before any route so every request is covered.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sparkcreatives/spark-portal/internal/telemetry"
)

// noRoute labels requests that matched no route so unknown paths do not
// inflate label cardinality.
const noRoute = "<no-route>"

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds for every request.
//
// The path label is c.FullPath(), the matched route template such as
// /reviewer/:org/data-room, never the raw URL.
//
// Register it after gin.Recovery() and RequestIDMiddleware so the status set
// by error handlers is captured:
//
//	router.Use(gin.Recovery())
//	router.Use(RequestIDMiddleware())
//	router.Use(MetricsMiddleware())
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

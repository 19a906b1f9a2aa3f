package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader is read from the request when present and always echoed
// on the response.
const RequestIDHeader = "X-Request-ID"

const unmatchedRoute = "unmatched"

// quietRoutes are polled by scrapers and orchestrators; they log at debug.
var quietRoutes = map[string]bool{
	"/metrics": true,
	"/health":  true,
	"/ready":   true,
}

// RequestLogger writes one line per status API request, tagged with the id
// of the link the API serves.
func RequestLogger(logger zerolog.Logger, linkID string) gin.HandlerFunc {
	scoped := logger.With().Str("link", linkID).Logger()
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)

		began := time.Now()
		c.Next()

		route := routeLabel(c)
		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = scoped.Error()
		case status >= 400:
			ev = scoped.Warn()
		case quietRoutes[route]:
			ev = scoped.Debug()
		default:
			ev = scoped.Info()
		}
		ev = ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int("resp_bytes", c.Writer.Size()).
			Dur("elapsed", time.Since(began))
		if route == unmatchedRoute {
			ev = ev.Str("path", c.Request.URL.Path)
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("gin_errors", c.Errors.String())
		}
		ev.Msg("status api request")
	}
}

// RequestMetricsMiddleware feeds the request counter and latency histogram.
// Unknown paths share one label so scanners cannot grow the series set.
func RequestMetricsMiddleware(linkName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		c.Next()
		RecordHTTPRequest(linkName, c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(began))
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

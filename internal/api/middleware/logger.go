// Package middleware holds the Gin middleware of the ingress API.
package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// redactedParams are query parameters that may carry dialogue answers or credentials.
var redactedParams = map[string]bool{
	"token":     true,
	"bot_token": true,
	"key":       true,
	"secret":    true,
	"text":      true,
}

// quietRoutes are polled by probes and scrapers; successful hits log at debug.
var quietRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/version": true,
}

const requesterRoutePrefix = "/api/v1/requesters/:id/"

func redactQueryString(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "[UNPARSEABLE]"
	}

	changed := false
	for name, values := range params {
		if !redactedParams[strings.ToLower(name)] {
			continue
		}
		for i := range values {
			values[i] = "[REDACTED]"
		}
		changed = true
	}
	if !changed {
		return rawQuery
	}
	return params.Encode()
}

// requesterEvent splits an ingress route into the requester id and the
// dialogue event it carries, e.g. "activate" or "answer".
func requesterEvent(c *gin.Context) (string, string, bool) {
	route := c.FullPath()
	if !strings.HasPrefix(route, requesterRoutePrefix) {
		return "", "", false
	}
	return c.Param("id"), strings.TrimPrefix(route, requesterRoutePrefix), true
}

func levelFor(log zerolog.Logger, route string, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	case quietRoutes[route]:
		return log.Debug()
	default:
		return log.Info()
	}
}

// RequestLogger logs one line per request. Ingress requests are tagged with
// the requester id and dialogue event. Bodies are never logged since answers
// carry bot tokens.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		query := redactQueryString(c.Request.URL.RawQuery)

		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		event := levelFor(log, route, status).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if query != "" {
			event = event.Str("query", query)
		}
		if id, ev, ok := requesterEvent(c); ok {
			event = event.Str("requester_id", id).Str("event", ev)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("request")
	}
}

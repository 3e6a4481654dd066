package shutdown

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// RequestTracker counts requests being served and turns away new ones once
// the manager stops accepting ingress.
type RequestTracker struct {
	inFlight atomic.Int64
}

// NewRequestTracker creates a new RequestTracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{}
}

// InFlight returns the number of requests currently being served.
func (t *RequestTracker) InFlight() int {
	return int(t.inFlight.Load())
}

// Middleware tracks every request. When accepting reports false the request
// is rejected with 503 before reaching the handler.
func (t *RequestTracker) Middleware(accepting func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if accepting != nil && !accepting() {
			c.Header("Connection", "close")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
			return
		}
		t.inFlight.Add(1)
		defer t.inFlight.Add(-1)
		c.Next()
	}
}

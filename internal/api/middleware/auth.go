package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>"
// header value, or "" if the header has another form.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// SharedSecretAuth returns a Gin middleware that requires the transport to
// present secret as a bearer token. An empty secret disables the check.
func SharedSecretAuth(secret string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "ingress_auth").Logger()
	if secret == "" {
		log.Warn().Msg("ingress authentication disabled, no shared secret configured")
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(secret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		token := ExtractBearerToken(authHeader)
		if token == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			log.Warn().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("invalid ingress secret")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		c.Next()
	}
}

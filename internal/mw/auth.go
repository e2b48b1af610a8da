package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"shopqueue-backend/internal/apperr"
	"shopqueue-backend/internal/auth"
)

const identityKey = "identity"

// Authenticate requires a valid bearer token and stores the verified
// identity in the context.
func Authenticate(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.Kind(apperr.ErrUnauthorized)})
			return
		}

		id, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			log.WithError(err).WithField("request_id", c.GetString(RequestIDKey)).Debug("bearer token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.Kind(apperr.ErrUnauthorized)})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

package admin

import (
	"net/http"

	"numgate/internal/session"

	"github.com/gin-gonic/gin"
)

// SessionCookie is the cookie carrying the admin session handle.
const SessionCookie = "numgate_session"

// identityKey is where the middleware stores the authenticated identity in
// the gin context.
const identityKey = "admin_identity"

// SessionMiddleware resolves the session cookie to an administrator identity
// or aborts with 401. Validation slides the session's TTL as a side effect.
func SessionMiddleware(authority *session.Authority) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(SessionCookie)
		if err != nil || sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		identity, err := authority.Validate(c.Request.Context(), sessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// currentIdentity returns the identity stored by SessionMiddleware.
func currentIdentity(c *gin.Context) (*session.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*session.Identity)
	return identity, ok
}

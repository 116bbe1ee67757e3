package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webterm/internal/auth"
)

const principalKey = "principal"

// RequireBearer authenticates the request with verifier and stores the
// principal on the context. Failures answer 401.
func RequireBearer(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := auth.BearerToken(c.Request)
		if credential == "" {
			c.Header("WWW-Authenticate", `Bearer realm="webterm"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer credential"})
			return
		}

		p, err := verifier.Verify(c.Request.Context(), credential)
		if err != nil {
			msg := "invalid bearer credential"
			if errors.Is(err, auth.ErrMissingCredential) {
				msg = "missing bearer credential"
			}
			c.Header("WWW-Authenticate", `Bearer realm="webterm", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by RequireBearer
func PrincipalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}

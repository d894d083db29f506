package auth

import (
	"github.com/gin-gonic/gin"

	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/logger"
)

const principalKey = "auth.principal"

// Middleware rejects requests without a valid bearer token with 401 and
// stores the Principal on the gin context otherwise.
func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			logger.New().WithRequest(c.Request).WithField("component", "auth").
				WithField("error", err.Error()).Warn("authentication failed")
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(evalerr.HTTPStatus(err), gin.H{
				"error":      evalerr.PublicMessage(err),
				"error_kind": string(evalerr.KindOf(err)),
			})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the caller stored by Middleware.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

const (
	principalKey = "principal"
	grantKey     = "grant"
)

// Auth validates the Authorization header and attaches the resolved user
// and ledger row to the request context.
type Auth struct {
	AuthService *service.AuthService
}

// RequireSession aborts unless the request carries a live bearer access
// token. The ledger is consulted on every request; a revoked token fails
// here no matter how fresh its signature is.
func (m *Auth) RequireSession(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		abortUnauthorized(c, "Authorization header missing or malformed.")
		return
	}

	user, grant, err := m.AuthService.Identify(c.Request.Context(), token)
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		abortUnauthorized(c, "Access token is invalid or revoked.")
		return
	}

	c.Set(principalKey, user)
	c.Set(grantKey, grant)
	c.Next()
}

// RequireMask returns a middleware that aborts unless the session's granted
// permission mask covers every bit in required.
func (m *Auth) RequireMask(required uint64) gin.HandlerFunc {
	return func(c *gin.Context) {
		grant, ok := GetGrant(c)
		if !ok || grant.PermissionMask&required != required {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"message":       http.StatusText(http.StatusForbidden),
				"customMessage": "The granted scope does not cover this operation.",
				"status":        http.StatusForbidden,
				"code":          "Forbidden",
				"timestamp":     time.Now().UTC(),
				"path":          c.Request.URL.Path,
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated user attached by RequireSession.
func GetPrincipal(c *gin.Context) (domain.User, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := value.(domain.User)
	return user, ok
}

// GetGrant returns the ledger row backing the session token.
func GetGrant(c *gin.Context) (domain.GrantedToken, bool) {
	value, ok := c.Get(grantKey)
	if !ok {
		return domain.GrantedToken{}, false
	}
	grant, ok := value.(domain.GrantedToken)
	return grant, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"message":       http.StatusText(http.StatusUnauthorized),
		"customMessage": detail,
		"status":        http.StatusUnauthorized,
		"code":          "InvalidToken",
		"timestamp":     time.Now().UTC(),
		"path":          c.Request.URL.Path,
	})
}

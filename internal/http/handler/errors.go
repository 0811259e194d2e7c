package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
)

// ErrorBody is the uniform error envelope of every failing endpoint.
type ErrorBody struct {
	Message       string    `json:"message"`
	CustomMessage string    `json:"customMessage"`
	Status        int       `json:"status"`
	Code          string    `json:"code"`
	Timestamp     time.Time `json:"timestamp"`
	Path          string    `json:"path"`
}

// statusFor maps machine codes to HTTP statuses. Credential and token
// failures are 401, ownership failures 403, everything else malformed is
// 400. Codes outside the map are internal faults.
func statusFor(code string) int {
	switch code {
	case "InvalidClient", "InvalidToken", "TokenRevoked":
		return http.StatusUnauthorized
	case "Forbidden":
		return http.StatusForbidden
	case "InvalidRequest", "InvalidGrant", "InvalidScope", "InvalidRedirectUri":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// detailFor returns the stable human description per machine code. Never
// echo internal error text to callers.
func detailFor(code string) string {
	switch code {
	case "InvalidClient":
		return "Client authentication failed."
	case "InvalidToken":
		return "Token is malformed, expired, or not signed by this server."
	case "TokenRevoked":
		return "Token has been revoked."
	case "Forbidden":
		return "The authenticated party does not own this resource."
	case "InvalidRequest":
		return "The request is missing a parameter or is otherwise malformed."
	case "InvalidGrant":
		return "The provided grant is invalid, expired, or already used."
	case "InvalidScope":
		return "The requested scope is unknown."
	case "InvalidRedirectUri":
		return "The redirect URI is not registered for this client."
	default:
		return "Internal server error."
	}
}

// writeEnvelope writes an explicit envelope for codes outside the protocol
// sentinel set.
func writeEnvelope(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Message:       http.StatusText(status),
		CustomMessage: detail,
		Status:        status,
		Code:          code,
		Timestamp:     time.Now().UTC(),
		Path:          c.Request.URL.Path,
	})
}

// respondError writes the envelope for err. Protocol sentinels keep their
// machine code; anything unrecognized is logged and collapsed to a 500.
func respondError(c *gin.Context, err error) {
	code := oauth.Code(err)
	if code == "" {
		zap.L().Error("unhandled request failure",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		code = "InternalError"
	}

	status := statusFor(code)
	if status == http.StatusUnauthorized {
		// InvalidClient means HTTP Basic failed at the token endpoint; the
		// other 401s are bearer-token failures.
		if code == "InvalidClient" {
			c.Header("WWW-Authenticate", "Basic")
		} else {
			c.Header("WWW-Authenticate", "Bearer")
		}
	}
	c.AbortWithStatusJSON(status, ErrorBody{
		Message:       http.StatusText(status),
		CustomMessage: detailFor(code),
		Status:        status,
		Code:          code,
		Timestamp:     time.Now().UTC(),
		Path:          c.Request.URL.Path,
	})
}

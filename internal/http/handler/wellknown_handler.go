package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

// WellKnownHandler serves the discovery endpoints.
type WellKnownHandler struct {
	Discovery *service.DiscoveryService
	Keys      *jwt.KeyManager
}

// NewWellKnownHandler creates the handler set.
func NewWellKnownHandler(discovery *service.DiscoveryService, keys *jwt.KeyManager) *WellKnownHandler {
	return &WellKnownHandler{Discovery: discovery, Keys: keys}
}

// OpenIDConfig returns the OIDC discovery document.
func (h *WellKnownHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.OpenIDConfigurationResponse())
}

// JWKS exposes the RS256 public key set.
func (h *WellKnownHandler) JWKS(c *gin.Context) {
	jwks, err := h.Keys.JWKS(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jwks)
}

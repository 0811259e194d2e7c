package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	httpmiddleware "github.com/Hashibutogarasu/karasu-lab-auth/internal/http/middleware"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

// ClientHandler serves the client registry endpoints. Every route requires
// a session; ownership is enforced by the service layer.
type ClientHandler struct {
	Clients *service.ClientService
}

// NewClientHandler creates the handler set.
func NewClientHandler(clients *service.ClientService) *ClientHandler {
	return &ClientHandler{Clients: clients}
}

type clientView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	RedirectURIs   []string `json:"redirect_uris"`
	PermissionMask uint64   `json:"permission_mask"`
	Scopes         []string `json:"scopes"`
}

func toClientView(c domain.Client) clientView {
	return clientView{
		ID:             c.ID,
		Name:           c.Name,
		RedirectURIs:   c.RedirectURIs,
		PermissionMask: c.PermissionMask,
		Scopes:         scope.Names(c.PermissionMask),
	}
}

// Create registers a new client. The response carries the plaintext secret;
// it is not retrievable afterwards.
func (h *ClientHandler) Create(c *gin.Context) {
	user, ok := httpmiddleware.GetPrincipal(c)
	if !ok {
		respondError(c, oauth.ErrInvalidToken)
		return
	}

	var req struct {
		Name         string   `json:"name" binding:"required"`
		RedirectURIs []string `json:"redirect_uris" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("name and redirect_uris required: %w", oauth.ErrInvalidRequest))
		return
	}

	client, secret, err := h.Clients.Create(c.Request.Context(), user, req.Name, req.RedirectURIs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"client":        toClientView(client),
		"client_secret": secret,
	})
}

// List returns the session user's clients.
func (h *ClientHandler) List(c *gin.Context) {
	user, ok := httpmiddleware.GetPrincipal(c)
	if !ok {
		respondError(c, oauth.ErrInvalidToken)
		return
	}

	clients, err := h.Clients.ListByOwner(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]clientView, 0, len(clients))
	for _, client := range clients {
		views = append(views, toClientView(client))
	}
	c.JSON(http.StatusOK, gin.H{"clients": views})
}

// RotateSecret regenerates the client secret. Every token granted to the
// client, across all users, dies with the old secret.
func (h *ClientHandler) RotateSecret(c *gin.Context) {
	user, ok := httpmiddleware.GetPrincipal(c)
	if !ok {
		respondError(c, oauth.ErrInvalidToken)
		return
	}

	secret, err := h.Clients.RegenerateSecret(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client_secret": secret})
}

// Delete removes the client and cascade-invalidates its tokens.
func (h *ClientHandler) Delete(c *gin.Context) {
	user, ok := httpmiddleware.GetPrincipal(c)
	if !ok {
		respondError(c, oauth.ErrInvalidToken)
		return
	}

	if err := h.Clients.Delete(c.Request.Context(), c.Param("id"), user); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

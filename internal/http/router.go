package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/http/handler"
	httpmiddleware "github.com/Hashibutogarasu/karasu-lab-auth/internal/http/middleware"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/middleware"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
)

// Handlers bundles the handler sets the router wires up.
type Handlers struct {
	OAuth      *handler.OAuthHandler
	Auth       *handler.AuthHandler
	Clients    *handler.ClientHandler
	Federation *handler.FederationHandler
	WellKnown  *handler.WellKnownHandler
}

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, logger *zap.Logger, h Handlers, session *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/.well-known/openid-configuration", h.WellKnown.OpenIDConfig)
	r.GET("/.well-known/jwks.json", h.WellKnown.JWKS)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", h.Auth.Login)
		authGroup.GET("/me", session.RequireSession, h.Auth.Me)

		federation := authGroup.Group("/federation")
		{
			federation.GET("/providers", h.Federation.Providers)
			federation.GET("/start", h.Federation.Start)
			federation.GET("/callback", h.Federation.Callback)
		}
	}

	oauthGroup := r.Group("/oauth")
	{
		oauthGroup.GET("/authorize", session.RequireSession, h.OAuth.Authorize)
		oauthGroup.POST("/token", h.OAuth.Token)
		oauthGroup.POST("/revoke", h.OAuth.Revoke)
		oauthGroup.POST("/introspect", h.OAuth.Introspect)
		oauthGroup.GET("/userinfo", h.OAuth.UserInfo)
	}

	clients := r.Group("/clients", session.RequireSession)
	{
		clients.GET("", session.RequireMask(scope.ClientRead), h.Clients.List)
		clients.POST("", session.RequireMask(scope.ClientWrite), h.Clients.Create)
		clients.POST("/:id/secret", session.RequireMask(scope.ClientWrite), h.Clients.RotateSecret)
		clients.DELETE("/:id", session.RequireMask(scope.ClientWrite), h.Clients.Delete)
	}

	return r
}

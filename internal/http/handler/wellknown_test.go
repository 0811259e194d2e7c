package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	httpHandler "github.com/Hashibutogarasu/karasu-lab-auth/internal/http/handler"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

func newWellKnownHandler() *httpHandler.WellKnownHandler {
	cfg := config.Config{Issuer: "https://auth.example"}
	discovery := service.NewDiscoveryService(cfg)
	keys := jwt.NewKeyManager(&inMemoryKeyRepo{})
	return httpHandler.NewWellKnownHandler(discovery, keys)
}

func TestOpenIDConfiguration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newWellKnownHandler()

	req := httptest.NewRequest(http.MethodGet, "https://auth.example/.well-known/openid-configuration", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.OpenIDConfig(c)

	res := w.Result()
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Equal(t, "https://auth.example", doc["issuer"])
	require.Equal(t, "https://auth.example/oauth/authorize", doc["authorization_endpoint"])
	require.Equal(t, "https://auth.example/oauth/token", doc["token_endpoint"])
	require.Equal(t, "https://auth.example/.well-known/jwks.json", doc["jwks_uri"])
	require.Contains(t, doc["code_challenge_methods_supported"], "S256")
}

func TestJWKSServesActiveKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newWellKnownHandler()

	req := httptest.NewRequest(http.MethodGet, "https://auth.example/.well-known/jwks.json", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler.JWKS(c)

	res := w.Result()
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(body, &jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RS256", jwks.Keys[0]["alg"])
	require.Equal(t, "sig", jwks.Keys[0]["use"])
	require.Equal(t, "RSA", jwks.Keys[0]["kty"])
	require.NotContains(t, jwks.Keys[0], "d")
}

type inMemoryKeyRepo struct{ key domain.SigningKey }

var _ repository.KeyRepository = (*inMemoryKeyRepo)(nil)

func (r *inMemoryKeyRepo) GetActive(ctx context.Context) (domain.SigningKey, error) {
	if r.key.KID == "" {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return r.key, nil
}

func (r *inMemoryKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	r.key = key
	return key, nil
}

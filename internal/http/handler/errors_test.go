package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
)

func TestRespondErrorAuthChallenge(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name      string
		err       error
		status    int
		challenge string
	}{
		{"client auth failure advertises basic", oauth.ErrInvalidClient, http.StatusUnauthorized, "Basic"},
		{"token failure advertises bearer", oauth.ErrInvalidToken, http.StatusUnauthorized, "Bearer"},
		{"revoked token advertises bearer", oauth.ErrTokenRevoked, http.StatusUnauthorized, "Bearer"},
		{"grant failure carries no challenge", oauth.ErrInvalidGrant, http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "https://auth.example/oauth/token", nil)

			respondError(c, tc.err)

			require.Equal(t, tc.status, w.Code)
			require.Equal(t, tc.challenge, w.Header().Get("WWW-Authenticate"))
		})
	}
}

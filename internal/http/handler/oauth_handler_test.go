package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	httpHandler "github.com/Hashibutogarasu/karasu-lab-auth/internal/http/handler"
)

func TestAuthorizeRequiresResponseTypeCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := httpHandler.NewOAuthHandler(nil)

	cases := []struct {
		name  string
		query string
	}{
		{"missing response_type", "client_id=abc&redirect_uri=https%3A%2F%2Fapp.example%2Fcallback"},
		{"unsupported response_type", "response_type=token&client_id=abc&redirect_uri=https%3A%2F%2Fapp.example%2Fcallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "https://auth.example/oauth/authorize?"+tc.query, nil)
			c.Set("principal", domain.User{ID: 1})

			handler.Authorize(c)

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Contains(t, w.Body.String(), "InvalidRequest")
		})
	}
}

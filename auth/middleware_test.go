package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	token, err := NewIssuer(testSecret, time.Hour).Issue("U7")
	require.NoError(t, err)

	tests := []struct {
		name           string
		target         string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "missing credential",
			target:         "/test",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Token is required",
		},
		{
			name:           "invalid bearer",
			target:         "/test",
			authHeader:     "Bearer nope",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Invalid or expired token",
		},
		{
			name:           "basic scheme ignored",
			target:         "/test",
			authHeader:     "Basic " + token,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "Token is required",
		},
		{
			name:           "valid bearer",
			target:         "/test",
			authHeader:     "Bearer " + token,
			expectedStatus: http.StatusOK,
			expectedBody:   "U7",
		},
		{
			name:           "valid query token",
			target:         "/test?token=" + token,
			expectedStatus: http.StatusOK,
			expectedBody:   "U7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(Middleware(NewVerifier(testSecret)))
			app.Get("/test", func(c *fiber.Ctx) error {
				return c.SendString(UserID(c))
			})

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.expectedBody)
		})
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Post("/s/ping", GatewayAuth("svc-token", zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"bearer", "Bearer svc-token", http.StatusNoContent},
		{"raw token", "svc-token", http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"prefix only", "Bearer svc", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/s/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			code, _ := do(t, app, req)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestGatewayAuthRejectsEverythingWithoutToken(t *testing.T) {
	app := fiber.New()
	app.Get("/s/ping", GatewayAuth("", zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/s/ping", nil)
	req.Header.Set("Authorization", "Bearer ")
	code, _ := do(t, app, req)
	assert.Equal(t, http.StatusUnauthorized, code)
}

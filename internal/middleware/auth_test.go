package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jordancrombie/wsim-sub002/internal/auth"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"go.uber.org/zap"
)

func TestAuthMiddlewareErrorBody(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", "wsim", "wsim-mobile", 15*time.Minute, 24*time.Hour)

	app := fiber.New()
	app.Get("/protected", AuthMiddleware(issuer, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != fiber.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != "UNAUTHORIZED" {
				t.Errorf("error = %v, want UNAUTHORIZED", body["error"])
			}
			if msg, _ := body["message"].(string); msg == "" {
				t.Error("message is empty")
			}
		})
	}
}

func TestMerchantAuthMiddlewareErrorBody(t *testing.T) {
	cfg := &config.Config{MerchantAPIKeys: map[string]string{"shop-1": "key-1"}}

	app := fiber.New()
	app.Get("/merchant", MerchantAuthMiddleware(cfg), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/merchant", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "INVALID_API_KEY" {
		t.Errorf("error = %v, want INVALID_API_KEY", body["error"])
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Error("message is empty")
	}
}

package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/usercontext"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(UserContextMiddleware)
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	app.Get("/key", func(c *fiber.Ctx) error {
		return c.SendString(usercontext.GetLicenseKey(c))
	})
	return app
}

func TestUserContextIssuesCookie(t *testing.T) {
	app := newApp()

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	cookie := resp.Header.Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(cookie, "user_id="), cookie)
	assert.Contains(t, strings.ToLower(cookie), "httponly")
}

func TestUserContextKeepsExistingCookie(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", "user_id=U1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Set-Cookie"))
}

func TestUserContextReplacesInvalidCookie(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Cookie", "user_id="+strings.Repeat("x", 80))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))
}

func TestUserContextLicenseKeySources(t *testing.T) {
	app := newApp()

	req := httptest.NewRequest("GET", "/key?license_key=FROM-QUERY", nil)
	req.Header.Set("X-License-Key", "FROM-HEADER")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "FROM-HEADER", string(body))

	resp, err = app.Test(httptest.NewRequest("GET", "/key?license_key=FROM-QUERY", nil))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "FROM-QUERY", string(body))
}

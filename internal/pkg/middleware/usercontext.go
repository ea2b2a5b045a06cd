package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/usercontext"
)

const userCookieMaxAge = 365 * 24 * time.Hour

// UserContextMiddleware identifies the anonymous caller by the user_id cookie,
// issuing a fresh id when the cookie is missing or unusable.
func UserContextMiddleware(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Cookies(usercontext.CookieUserID))
	if !validUserID(userID) {
		userID = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     usercontext.CookieUserID,
			Value:    userID,
			Path:     "/",
			Expires:  time.Now().Add(userCookieMaxAge),
			HTTPOnly: true,
			Secure:   !env.IsDev() && c.Protocol() == "https",
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}

	licenseKey := strings.TrimSpace(c.Get(usercontext.HeaderLicenseKey))
	if licenseKey == "" {
		licenseKey = strings.TrimSpace(c.Query(usercontext.QueryLicenseKey))
	}

	c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
		UserID:     userID,
		LicenseKey: licenseKey,
	})
	return c.Next()
}

func validUserID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

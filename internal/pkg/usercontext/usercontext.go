package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the anonymous caller of a request
type UserContext struct {
	UserID     string `json:"user_id"`
	LicenseKey string `json:"-"`
}

// GetUserContext retrieves the user context from fiber context
// Returns an empty context if the middleware did not run
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// GetUserID returns the anonymous user id, or "" if none is set
func GetUserID(c *fiber.Ctx) string {
	return GetUserContext(c).UserID
}

// GetLicenseKey returns the license key sent with the request
func GetLicenseKey(c *fiber.Ctx) string {
	return GetUserContext(c).LicenseKey
}

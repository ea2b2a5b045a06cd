package usercontext

// Shared Locals and cookie keys used across controllers and middlewares
const (
	KeyUserContext   = "USER_CONTEXT"
	CookieUserID     = "user_id"
	HeaderLicenseKey = "X-License-Key"
	QueryLicenseKey  = "license_key"
)

package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and tenant resolution.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/db":    true,
	"/health/ready": true,
	"/metrics":      true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. Use it as JWTConfig.Skipper or with DevAuthMiddleware.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

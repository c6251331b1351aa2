package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/relay/internal/core/domain"
)

// Auth checks for a valid Bearer token in the Authorization header against
// the configured static keys. An empty key list disables auth, which is
// only sensible for local development.
func Auth(staticKeys []string) gin.HandlerFunc {
	staticMap := make(map[string]bool, len(staticKeys))
	for _, k := range staticKeys {
		staticMap[k] = true
	}

	return func(c *gin.Context) {
		if len(staticMap) == 0 {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				domain.NewProblem(http.StatusUnauthorized, "Unauthorized", "Missing Authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				domain.NewProblem(http.StatusUnauthorized, "Unauthorized", "Invalid Authorization header format"))
			return
		}

		if !staticMap[parts[1]] {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				domain.NewProblem(http.StatusUnauthorized, "Unauthorized", "Invalid API key"))
			return
		}

		c.Next()
	}
}

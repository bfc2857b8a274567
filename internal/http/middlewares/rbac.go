package middlewares

import (
	"net/http"

	"github.com/avoronova/accounthub/internal/domain/account"
	"github.com/gin-gonic/gin"
)

func (m *AuthMiddleware) RequireRole(required string) gin.HandlerFunc {
	required = account.NormalizeRole(required)

	return func(c *gin.Context) {
		roles, ok := RolesFromContext(c)

		if !ok || len(roles) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Missing identity context",
				},
			})
			return
		}

		for _, r := range roles {
			if account.NormalizeRole(r) == required {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": gin.H{
				"code":    "forbidden",
				"message": "Insufficient role",
			},
		})
	}
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/freeminer/freeminer-sub007/internal/auth"
)

// RequireToken пропускает запросы с действующим токеном администратора.
// Токен берется из заголовка Authorization: Bearer или, для websocket, из ?token=.
func RequireToken(tm *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("token")
		}
		if token == "" {
			abortUnauthorized(c, "требуется токен")
			return
		}
		claims, err := tm.Validate(token)
		if err != nil || !claims.Admin {
			abortUnauthorized(c, "недействительный токен")
			return
		}
		c.Set("auth_subject", claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": msg})
}

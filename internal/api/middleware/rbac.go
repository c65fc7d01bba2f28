package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conectazap/conectazap/internal/storage"
)

// RequireAdmin bloqueia a rota para quem não é administrador. O papel é
// confirmado no banco, não apenas na claim do token.
func RequireAdmin(users storage.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "usuário não autenticado"})
			return
		}

		user, err := users.GetByID(c.Request.Context(), userID.(string))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "usuário não encontrado"})
			return
		}

		if user.Role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "acesso negado: apenas administradores"})
			return
		}

		c.Set("userRole", user.Role)
		c.Next()
	}
}

package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/conectazap/conectazap/internal/storage"
)

// AuthOption configura o middleware de autenticação.
type AuthOption struct {
	JWTSecret    string
	InstanceRepo storage.InstanceRepository
}

func Auth(secret string) gin.HandlerFunc {
	return AuthWithOptions(AuthOption{JWTSecret: secret})
}

// AuthWithOptions aceita JWT de operador ou, quando InstanceRepo estiver
// configurado, o token de instância usado pelos gateways (comparado por hash).
func AuthWithOptions(opts AuthOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString = c.GetHeader("X-Instance-Token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token ausente"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(opts.JWTSecret), nil
		})
		if err == nil && token.Valid {
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if sub, ok := claims["sub"].(string); ok {
					c.Set("userID", sub)
					c.Set("authType", "user_jwt")
				}
				if role, ok := claims["role"].(string); ok {
					c.Set("userRole", role)
				}
			}
			c.Next()
			return
		}

		if opts.InstanceRepo != nil {
			hashBytes := sha256.Sum256([]byte(tokenString))
			hash := hex.EncodeToString(hashBytes[:])
			inst, err := opts.InstanceRepo.GetByTokenHash(c.Request.Context(), hash)
			if err == nil && inst.ID != "" {
				c.Set("instanceID", inst.ID)
				c.Set("authType", "instance_token")
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token inválido"})
	}
}
